package cameras

import (
	"errors"
	"fmt"
)

// CameraError represents a domain-specific error
type CameraError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CameraError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CameraError) Unwrap() error {
	return e.Cause
}

// Error codes
const (
	ErrCodeCameraNotFound = "CAMERA_NOT_FOUND"
	ErrCodeCameraExists   = "CAMERA_EXISTS"
	ErrCodeInvalidParams  = "INVALID_PARAMS"
	ErrCodeConfigError    = "CONFIG_ERROR"
)

// NewCameraError creates a new camera error
func NewCameraError(code, message string, cause error) *CameraError {
	return &CameraError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// HasCode reports whether err is a CameraError with the given code.
func HasCode(err error, code string) bool {
	var ce *CameraError
	return errors.As(err, &ce) && ce.Code == code
}
