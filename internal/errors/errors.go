// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// NotFoundError reports a missing row of the given entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Helper constructors
func NewNewsletterNotFound(id string) error {
	return &NotFoundError{Entity: "newsletter", ID: id}
}

func NewSendNotFound(id string) error {
	return &NotFoundError{Entity: "send", ID: id}
}

// ValidationError is a caller mistake that must be reported as a 4xx and must
// never leave a row behind.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
