package errors

import (
	"errors"
	"fmt"
)

var (
	// Unknown-email and wrong-password login failures both map to this one
	// error so callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("incorrect email or password")

	ErrInvalidToken            = errors.New("invalid or expired token")
	ErrUnauthorized            = errors.New("you are not logged in")
	ErrInsufficientPermissions = errors.New("you do not have permission to perform this action")

	ErrUserNotFound      = errors.New("there is no user with that email address")
	ErrUserAlreadyExists = errors.New("a user with that email already exists")

	ErrInvalidInput     = errors.New("invalid input data")
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrWeakPassword     = errors.New("password does not meet requirements")
	ErrPasswordMismatch = errors.New("passwords do not match")

	ErrEmailDelivery = errors.New("there was an error sending the email, try again later")
)

type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
