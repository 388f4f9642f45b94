package types

import "errors"

// Error taxonomy for capture acquisition. Unsupported formats are skipped,
// bad routes trigger candidate/strategy fallback, hard failures are retried
// by the holding loop after a fixed delay. Only ErrPermissionMissing is
// fatal to the controller.
var (
	// ErrUnsupportedFormat indicates a candidate format cannot be opened.
	ErrUnsupportedFormat = errors.New("capture format not supported")
	// ErrPermissionMissing indicates record permission is absent. The host
	// must stop the controller rather than retry indefinitely.
	ErrPermissionMissing = errors.New("record permission missing")
	// ErrNoCaptureDevice indicates no capture device is available.
	ErrNoCaptureDevice = errors.New("no capture device found")
	// ErrSchedulingConflict indicates the background host could not
	// guarantee eligibility for a delayed activation. The controller
	// proceeds without delay rather than failing outright.
	ErrSchedulingConflict = errors.New("background eligibility not granted")
)

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`   // JSON path to the field (e.g., "activation.screen_on_delay_ms")
	Message string `json:"message"` // Human-readable error message
	Value   any    `json:"value"`   // The invalid value that was provided
}

// ValidationError collects multiple field validation errors.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

// NewValidationError creates a new empty ValidationError.
func NewValidationError() *ValidationError {
	return &ValidationError{
		Errors: make([]FieldError, 0),
	}
}

// Add adds a field error to the collection.
func (v *ValidationError) Add(field, message string, value any) {
	v.Errors = append(v.Errors, FieldError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}
