package forum

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a user or topic does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrUsernameTaken is returned when the username is already registered.
	ErrUsernameTaken = errors.New("username already exists")

	// ErrEmailTaken is returned when the email is already registered.
	ErrEmailTaken = errors.New("email already registered")

	// ErrForbidden is returned when a user acts on a topic they do not own.
	ErrForbidden = errors.New("permission denied")

	// ErrInvalidCredentials covers both unknown users and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// ValidationError reports a rejected form field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}
