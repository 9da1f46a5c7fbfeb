package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap adds message to err and keeps it in the chain. A coded err lends its
// code, task and metadata to the wrapper. Context errors become TIMEOUT or
// CANCELED and anything else INTERNAL. Wrap(nil, ...) is nil.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	if inner := AsPanelError(err); inner != nil {
		e := *inner
		e.message, e.cause, e.meta = message, err, inner.Metadata()
		for _, o := range opts {
			o(&e)
		}
		return &e
	}

	code := ErrCodeInternal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		code = ErrCodeCanceled
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// WrapWithCode wraps err under an explicit code. WrapWithCode(nil, ...) is nil.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// AsPanelError returns the outermost *Error in err's chain, or nil.
func AsPanelError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Code returns the code of the outermost *Error in err's chain, or "".
func Code(err error) ErrorCode {
	if e := AsPanelError(err); e != nil {
		return e.code
	}
	return ""
}

// Is reports whether err carries code.
func Is(err error, code ErrorCode) bool { return Code(err) == code }

// Category returns the category of the outermost *Error, or "".
func Category(err error) ErrorCategory {
	if e := AsPanelError(err); e != nil {
		return e.category
	}
	return ""
}

// IsRetryable is false for errors without a code.
func IsRetryable(err error) bool {
	e := AsPanelError(err)
	return e != nil && e.Retryable()
}

func IsTransient(err error) bool { return Category(err) == CategoryTransient }

func IsPermanent(err error) bool { return Category(err) == CategoryPermanent }

// Cause follows Unwrap to the innermost error.
func Cause(err error) error {
	for next := errors.Unwrap(err); next != nil; next = errors.Unwrap(err) {
		err = next
	}
	return err
}

// RecoverPanic turns a value from recover() into a PANIC error, or nil if
// nothing panicked.
func RecoverPanic(recovered any) *Error {
	var msg string
	switch v := recovered.(type) {
	case nil:
		return nil
	case error:
		msg = v.Error()
	case string:
		msg = v
	default:
		msg = fmt.Sprint(v)
	}
	return New(ErrCodePanic, msg, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
