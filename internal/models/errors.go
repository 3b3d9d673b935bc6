package models

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeExternal   ErrorType = "external"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeNotFound   ErrorType = "not_found"
)

// AppError is the uniform error value returned across service boundaries.
type AppError struct {
	Type     ErrorType              `json:"type"`
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Cause    error                  `json:"-"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newError(errType ErrorType, code, message string) *AppError {
	return &AppError{Type: errType, Code: code, Message: message}
}

func NewValidationError(code, message string) *AppError {
	return newError(ErrorTypeValidation, code, message)
}

func NewExternalError(code, message string) *AppError {
	return newError(ErrorTypeExternal, code, message)
}

func NewInternalError(code, message string) *AppError {
	return newError(ErrorTypeInternal, code, message)
}

func NewTimeoutError(code, message string) *AppError {
	return newError(ErrorTypeTimeout, code, message)
}

func NewNotFoundError(code, message string) *AppError {
	return newError(ErrorTypeNotFound, code, message)
}

// WrapExternalError annotates an upstream failure with the provider name.
func WrapExternalError(provider string, err error) *AppError {
	return NewExternalError(provider+"_ERROR", fmt.Sprintf("%s call failed", provider)).WithCause(err)
}

var (
	ErrServiceNotInitialized = errors.New("service not initialized")
	ErrContextNotFound       = errors.New("conversation context not found")
)
