package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

// ============================================================================
// 1. Error creation with different codes/categories
// ============================================================================

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		code         ErrorCode
		wantCategory ErrorCategory
	}{
		{"timeout", ErrCodeTimeout, CategoryTransient},
		{"fetch", ErrCodeFetchFailed, CategoryTransient},
		{"status_io", ErrCodeStatusIO, CategoryTransient},
		{"malformed", ErrCodeMalformedMetadata, CategoryPermanent},
		{"unknown_task", ErrCodeUnknownTask, CategoryPermanent},
		{"rate_limit", ErrCodeRateLimit, CategoryResource},
		{"launch", ErrCodeLaunchFailed, CategoryInternal},
		{"unlisted", ErrorCode("SOMETHING_ELSE"), CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "msg")
			if err.Code() != tt.code {
				t.Errorf("Code() = %v, want %v", err.Code(), tt.code)
			}
			if err.Category() != tt.wantCategory {
				t.Errorf("Category() = %v, want %v", err.Category(), tt.wantCategory)
			}
			if err.Timestamp().IsZero() {
				t.Error("Timestamp() should not be zero")
			}
		})
	}
}

func TestFromCode(t *testing.T) {
	err := FromCode(ErrCodeArtDecode)
	if err.Error() != "image could not be decoded" {
		t.Errorf("Error() = %v", err.Error())
	}
	if ErrorCode("NOPE").Description() != "unknown error" {
		t.Error("expected fallback description")
	}
}

// ============================================================================
// 2. Retry semantics
// ============================================================================

func TestRetryable(t *testing.T) {
	if !New(ErrCodeFetchFailed, "x").Retryable() {
		t.Error("fetch failures should be retryable")
	}
	if New(ErrCodeMalformedMetadata, "x").Retryable() {
		t.Error("malformed metadata should not be retryable")
	}
	if New(ErrCodeFetchFailed, "x", WithRetryable(false)).Retryable() {
		t.Error("explicit WithRetryable(false) should win")
	}
	if IsRetryable(fmt.Errorf("plain")) {
		t.Error("plain errors are not retryable")
	}
}

// ============================================================================
// 3. Constructors and wrapping
// ============================================================================

func TestFetchFailed(t *testing.T) {
	cause := errors.New("connection refused")
	err := FetchFailed("lastfm", cause)

	if err.Code() != ErrCodeFetchFailed {
		t.Errorf("Code() = %v", err.Code())
	}
	if err.Metadata()["upstream"] != "lastfm" {
		t.Errorf("metadata = %v", err.Metadata())
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be in the chain")
	}
	if err.Error() != "fetch lastfm: connection refused" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestUnknownTask(t *testing.T) {
	err := UnknownTask("birthday")
	if !Is(err, ErrCodeUnknownTask) {
		t.Error("expected UNKNOWN_TASK")
	}
	if err.Metadata()["key"] != "birthday" {
		t.Errorf("metadata = %v", err.Metadata())
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}

	inner := New(ErrCodeStatusIO, "write state", WithTask("music"))
	outer := Wrap(inner, "request task")
	if outer.Code() != ErrCodeStatusIO || outer.Task() != "music" {
		t.Errorf("wrapped error lost code or task: %v %v", outer.Code(), outer.Task())
	}
	if !errors.Is(outer, inner) {
		t.Error("inner should be in the chain")
	}

	if Wrap(context.DeadlineExceeded, "fetch").Code() != ErrCodeTimeout {
		t.Error("deadline should map to TIMEOUT")
	}
	if Wrap(context.Canceled, "fetch").Code() != ErrCodeCanceled {
		t.Error("cancel should map to CANCELED")
	}
	if Wrap(errors.New("x"), "y").Code() != ErrCodeInternal {
		t.Error("plain error should map to INTERNAL")
	}
}

func TestWrapWithCode(t *testing.T) {
	err := WrapWithCode(errors.New("bad gif"), ErrCodeArtDecode, "decode art")
	if !IsPermanent(err) {
		t.Error("art decode should be permanent")
	}
	if WrapWithCode(nil, ErrCodeArtDecode, "x") != nil {
		t.Error("nil should stay nil")
	}
}

func TestCodeAndCause(t *testing.T) {
	root := errors.New("root")
	err := fmt.Errorf("outer: %w", New(ErrCodeDisplayFailed, "show", WithCause(root)))

	if Code(err) != ErrCodeDisplayFailed {
		t.Errorf("Code() = %v", Code(err))
	}
	if !IsTransient(err) {
		t.Error("display failure should be transient")
	}
	if Cause(err) != root {
		t.Errorf("Cause() = %v", Cause(err))
	}
	if AsPanelError(root) != nil {
		t.Error("plain error is not a PanelError")
	}
}

func TestRecoverPanic(t *testing.T) {
	if RecoverPanic(nil) != nil {
		t.Error("nil panic should give nil")
	}
	err := RecoverPanic("boom")
	if err.Code() != ErrCodePanic || err.Error() != "boom" {
		t.Errorf("got %v %q", err.Code(), err.Error())
	}
	if err.Metadata()["panic_value"] != "string" {
		t.Errorf("metadata = %v", err.Metadata())
	}
}

func TestMarshalJSON(t *testing.T) {
	err := New(ErrCodeLaunchFailed, "start weather", WithTask("weather"), WithCause(errors.New("exec: not found")))
	data, jerr := json.Marshal(err)
	if jerr != nil {
		t.Fatalf("marshal: %v", jerr)
	}

	var got map[string]interface{}
	json.Unmarshal(data, &got)
	if got["code"] != "LAUNCH_FAILED" || got["task"] != "weather" || got["cause"] != "exec: not found" {
		t.Errorf("unexpected json: %s", data)
	}
}
