package errors

import (
	"encoding/json"
	"maps"
	"strconv"
	"time"
)

// Error is a coded failure from a task, a fetch or the supervisor. The code
// decides the category, and the category decides whether retrying makes
// sense unless WithRetryable overrides it.
type Error struct {
	code     ErrorCode
	category ErrorCategory
	message  string
	cause    error
	task     string
	meta     map[string]string
	retry    *bool
	at       time.Time
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Code() ErrorCode { return e.code }

func (e *Error) Category() ErrorCategory { return e.category }

// Task is the task kind the failure belongs to, or "".
func (e *Error) Task() string { return e.task }

// Timestamp is when the error was created.
func (e *Error) Timestamp() time.Time { return e.at }

// Retryable reports whether the failed operation is worth repeating.
func (e *Error) Retryable() bool {
	if e.retry != nil {
		return *e.retry
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy of the attached key/value context.
func (e *Error) Metadata() map[string]string {
	if e.meta == nil {
		return map[string]string{}
	}
	return maps.Clone(e.meta)
}

type errorJSON struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Cause     string            `json:"cause,omitempty"`
	Task      string            `json:"task,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Retryable bool              `json:"retryable"`
}

// MarshalJSON is used when failures are stored in the run ledger.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := errorJSON{
		Code:      e.code,
		Category:  e.category,
		Message:   e.message,
		Task:      e.task,
		Metadata:  e.meta,
		Retryable: e.Retryable(),
	}
	if e.cause != nil {
		out.Cause = e.cause.Error()
	}
	return json.Marshal(out)
}

// Option adjusts an Error under construction.
type Option func(*Error)

func WithCause(err error) Option { return func(e *Error) { e.cause = err } }

func WithTask(kind string) Option { return func(e *Error) { e.task = kind } }

func WithCategory(c ErrorCategory) Option { return func(e *Error) { e.category = c } }

func WithRetryable(v bool) Option { return func(e *Error) { e.retry = &v } }

func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.meta == nil {
			e.meta = map[string]string{}
		}
		e.meta[key] = value
	}
}

// New builds an Error whose category follows from code.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{code: code, category: code.DefaultCategory(), message: message, at: time.Now()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// FromCode builds an Error whose message is the code's description.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// FetchFailed reports that upstream (for example "lastfm" or "weather.gov")
// could not be reached or answered with an error.
func FetchFailed(upstream string, cause error, opts ...Option) *Error {
	base := []Option{WithCause(cause), WithMetadata("upstream", upstream)}
	return New(ErrCodeFetchFailed, "fetch "+upstream, append(base, opts...)...)
}

// MalformedMetadata reports an upstream payload that lacks fields the panel
// needs.
func MalformedMetadata(message string, opts ...Option) *Error {
	return New(ErrCodeMalformedMetadata, message, opts...)
}

// UnknownTask reports a task key that names no registered task.
func UnknownTask(key string) *Error {
	return New(ErrCodeUnknownTask, "unknown task "+strconv.Quote(key), WithMetadata("key", key))
}
