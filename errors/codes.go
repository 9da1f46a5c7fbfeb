package errors

// ErrorCategory groups codes by how a caller should react to them.
type ErrorCategory string

const (
	// CategoryTransient failures may clear up on the next poll or attempt.
	CategoryTransient ErrorCategory = "transient"
	// CategoryPermanent failures repeat until the input or upstream changes.
	CategoryPermanent ErrorCategory = "permanent"
	// CategoryResource failures mean an upstream quota was hit.
	CategoryResource ErrorCategory = "resource"
	// CategoryInternal failures are bugs or broken local state.
	CategoryInternal ErrorCategory = "internal"
)

func (c ErrorCategory) String() string { return string(c) }

// IsRetryable reports whether a retry loop should try again.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient || c == CategoryResource
}

// ErrorCode names one kind of failure.
type ErrorCode string

const (
	ErrCodeTimeout       ErrorCode = "TIMEOUT"
	ErrCodeUnavailable   ErrorCode = "UNAVAILABLE"
	ErrCodeFetchFailed   ErrorCode = "FETCH_FAILED"
	ErrCodeStatusIO      ErrorCode = "STATUS_IO"
	ErrCodeDisplayFailed ErrorCode = "DISPLAY_FAILED"

	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeMalformedMetadata ErrorCode = "MALFORMED_METADATA"
	ErrCodeArtDecode         ErrorCode = "ART_DECODE"
	ErrCodeUnknownTask       ErrorCode = "UNKNOWN_TASK"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeCanceled          ErrorCode = "CANCELED"

	ErrCodeRateLimit ErrorCode = "RATE_LIMITED"

	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeLaunchFailed ErrorCode = "LAUNCH_FAILED"
	ErrCodePanic        ErrorCode = "PANIC"
)

type codeInfo struct {
	category ErrorCategory
	text     string
}

var codeTable = map[ErrorCode]codeInfo{
	ErrCodeTimeout:       {CategoryTransient, "timed out"},
	ErrCodeUnavailable:   {CategoryTransient, "upstream unavailable"},
	ErrCodeFetchFailed:   {CategoryTransient, "fetch failed"},
	ErrCodeStatusIO:      {CategoryTransient, "status record unavailable"},
	ErrCodeDisplayFailed: {CategoryTransient, "display refresh failed"},

	ErrCodeInvalidInput:      {CategoryPermanent, "invalid input"},
	ErrCodeMalformedMetadata: {CategoryPermanent, "malformed metadata"},
	ErrCodeArtDecode:         {CategoryPermanent, "image could not be decoded"},
	ErrCodeUnknownTask:       {CategoryPermanent, "unknown task"},
	ErrCodeUnauthorized:      {CategoryPermanent, "credentials rejected"},
	ErrCodeCanceled:          {CategoryPermanent, "canceled"},

	ErrCodeRateLimit: {CategoryResource, "rate limited"},

	ErrCodeInternal:     {CategoryInternal, "internal error"},
	ErrCodeLaunchFailed: {CategoryInternal, "task launch failed"},
	ErrCodePanic:        {CategoryInternal, "task panicked"},
}

func (c ErrorCode) String() string { return string(c) }

// DefaultCategory returns the category of c. Unlisted codes are internal.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	if info, ok := codeTable[c]; ok {
		return info.category
	}
	return CategoryInternal
}

// Description returns a short lowercase phrase for c.
func (c ErrorCode) Description() string {
	if info, ok := codeTable[c]; ok {
		return info.text
	}
	return "unknown error"
}
