package capture

import "errors"

func (e *CaptureError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// CaptureError represents acquisition failures
type CaptureError struct {
	Source  string `json:"source"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *CaptureError) Unwrap() error {
	return e.Cause
}

// Capture error codes
const (
	ErrCodeUnderflow    = "UNDERFLOW"
	ErrCodeOverflow     = "OVERFLOW"
	ErrCodeDevice       = "DEVICE_FAILED"
	ErrCodeDecoding     = "DECODING_FAILED"
	ErrCodeClosed       = "CLOSED"
	ErrCodeInvalidInput = "INVALID_INPUT"
)

// NewCaptureError creates a new capture error
func NewCaptureError(source, code, message string, cause error) *CaptureError {
	return &CaptureError{
		Source:  source,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsRecoverable reports whether the acquisition loop may keep going after err.
// Underflow and overflow mean samples were late or lost, not that the source
// is gone.
func IsRecoverable(err error) bool {
	var ce *CaptureError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == ErrCodeUnderflow || ce.Code == ErrCodeOverflow
}

// HasCode reports whether err is a CaptureError with the given code.
func HasCode(err error, code string) bool {
	var ce *CaptureError
	return errors.As(err, &ce) && ce.Code == code
}
