package failure

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

const (
	ErrorConfiguration     = "configuration"
	ErrorTransientDelivery = "transient_delivery"
	ErrorSeverityDegraded  = "severity_degraded"
	ErrorMissingArtifact   = "missing_artifact"
	ErrorIO                = "io_error"
)

// Error is a categorized dispatcher failure.
type Error struct {
	Category string
	Detail   string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Category
	}

	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

// NewError creates a categorized error.
func NewError(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// Configurationf builds a configuration failure. These are the only failures
// that abort startup.
func Configurationf(format string, args ...any) error {
	return NewError(ErrorConfiguration, fmt.Sprintf(format, args...))
}

// Transientf builds a delivery failure that is eligible for the retry policy.
func Transientf(format string, args ...any) error {
	return NewError(ErrorTransientDelivery, fmt.Sprintf(format, args...))
}

// CategoryFromError returns the stable category for an error when available.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	if errors.Is(err, fs.ErrNotExist) {
		return ErrorMissingArtifact
	}

	return ErrorIO
}

// Is reports whether err carries the given category.
func Is(err error, category string) bool {
	return err != nil && CategoryFromError(err) == category
}

// NormalizeIOError converts OS-level errors into category errors.
func NormalizeIOError(err error, detail string) error {
	if err == nil {
		return nil
	}

	category := CategoryFromError(err)
	if detail == "" {
		detail = err.Error()
	}

	if category == ErrorMissingArtifact {
		return NewError(category, detail+": file does not exist")
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return NewError(category, detail+": "+pathErr.Err.Error())
	}

	return NewError(category, detail)
}
