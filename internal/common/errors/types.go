// Package errors defines the structured error taxonomy shared by bedsync's
// packages. Every failure that crosses a package boundary is an *AppError
// so handlers and workers can classify it without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeUnauthorized means no credential exists yet; the user has to
	// complete the authorize flow.
	ErrTypeUnauthorized ErrorType = "unauthorized"
	// ErrTypeUpstreamAuth means the token endpoint rejected a code or
	// refresh token.
	ErrTypeUpstreamAuth ErrorType = "upstream_auth"
	// ErrTypeUpstreamCall covers every other failed outbound call.
	ErrTypeUpstreamCall ErrorType = "upstream_call"
	// ErrTypePersistence means the token store could not be written or read.
	ErrTypePersistence ErrorType = "persistence"
	ErrTypeValidation  ErrorType = "validation"
	ErrTypeConfig      ErrorType = "config"
	ErrTypeInternal    ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Status  int                    `json:"status,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithStatus records the upstream HTTP or API status that caused the error
func (e *AppError) WithStatus(status int) *AppError {
	e.Status = status
	return e
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Type: ErrTypeUnauthorized, Message: msg}
}

func UpstreamAuthError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeUpstreamAuth, Message: msg, Cause: cause}
}

func UpstreamCallError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeUpstreamCall, Message: msg, Cause: cause}
}

func PersistenceError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypePersistence, Message: msg, Cause: cause}
}

func ValidationError(msg string) *AppError {
	return &AppError{Type: ErrTypeValidation, Message: msg}
}

func ConfigError(msg string) *AppError {
	return &AppError{Type: ErrTypeConfig, Message: msg}
}

func InternalError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeInternal, Message: msg, Cause: cause}
}

// IsType reports whether any error in err's chain is an AppError of errType
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Type == errType {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// GetType returns the type of the outermost AppError in err's chain, or
// ErrTypeInternal for foreign errors
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return ErrTypeInternal
	}
	return appErr.Type
}
