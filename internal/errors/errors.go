// Package errors provides structured error handling for cyberguard operations.
// It defines error codes, typed errors for each failure family, and helpers
// that map those errors onto HTTP responses at the request boundary.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"
	CodeRateLimited   ErrorCode = "RATE_LIMITED"
	CodeCanceled      ErrorCode = "CANCELED"

	// Authentication and authorization errors.
	CodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	CodeUnauthenticated    ErrorCode = "UNAUTHENTICATED"
	CodeForbidden          ErrorCode = "FORBIDDEN"

	// Scan errors.
	CodeTargetInvalid ErrorCode = "TARGET_INVALID"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"
)

// ValidationError reports malformed input such as a bad scan target or login payload.
type ValidationError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a validation error with the given message.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Code: CodeValidation, Message: message}
}

// NewFieldValidationError creates a validation error tied to a request field.
func NewFieldValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Code: CodeValidation, Message: message, Field: field, Value: value}
}

// AuthError represents authentication and authorization failures.
type AuthError struct {
	Code    ErrorCode
	Message string
	UserID  string
	Role    string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("[%s] %s (required role: %s)", e.Code, e.Message, e.Role)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NotFoundError reports an unknown scan, user, device or other entity id.
type NotFoundError struct {
	Code     ErrorCode
	Message  string
	Resource string
	ID       string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("[%s] %s (%s: %s)", e.Code, e.Message, e.Resource, e.ID)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ConflictError reports a uniqueness violation in the entity store.
type ConflictError struct {
	Code     ErrorCode
	Message  string
	Resource string
	Field    string
	Value    string
	Cause    error
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (%s.%s=%q)", e.Code, e.Message, e.Resource, e.Field, e.Value)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConflictError) Unwrap() error {
	return e.Cause
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Query     string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// WithQuery adds the SQL query that caused the error.
func (e *DatabaseError) WithQuery(query string) *DatabaseError {
	e.Query = query
	return e
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{Code: code, Message: message}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{Code: code, Message: message, Cause: err}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{Code: code, Message: message, Field: field, Value: value}
}

// Utility functions for common error operations

// GetCode extracts the error code from an error chain if it has one.
func GetCode(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	var (
		validationErr *ValidationError
		authErr       *AuthError
		notFoundErr   *NotFoundError
		conflictErr   *ConflictError
		databaseErr   *DatabaseError
		configErr     *ConfigError
	)

	switch {
	case stderrors.As(err, &validationErr):
		return validationErr.Code
	case stderrors.As(err, &authErr):
		return authErr.Code
	case stderrors.As(err, &notFoundErr):
		return notFoundErr.Code
	case stderrors.As(err, &conflictErr):
		return conflictErr.Code
	case stderrors.As(err, &databaseErr):
		return databaseErr.Code
	case stderrors.As(err, &configErr):
		return configErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// HTTPStatus maps an error onto the HTTP status code the API answers with.
func HTTPStatus(err error) int {
	switch GetCode(err) {
	case CodeValidation, CodeTargetInvalid:
		return http.StatusBadRequest
	case CodeInvalidCredentials, CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeDatabaseConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether err is caused by the caller rather than the server.
func IsClientError(err error) bool {
	status := HTTPStatus(err)
	return status >= http.StatusBadRequest && status < http.StatusInternalServerError
}

// Common error creation functions

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ValidationError {
	return &ValidationError{
		Code:    CodeTargetInvalid,
		Message: "Enter a valid IP address, network range, or domain",
		Field:   "target",
		Value:   target,
	}
}

// ErrInvalidCredentials creates the single error returned for every failed login.
func ErrInvalidCredentials() *AuthError {
	return &AuthError{Code: CodeInvalidCredentials, Message: "Invalid credentials"}
}

// ErrUnauthenticated creates an error for requests without a bound session.
func ErrUnauthenticated() *AuthError {
	return &AuthError{Code: CodeUnauthenticated, Message: "Authentication required"}
}

// ErrForbidden creates an error for a user lacking the required role.
func ErrForbidden(userID, role string) *AuthError {
	return &AuthError{Code: CodeForbidden, Message: "Insufficient privileges", UserID: userID, Role: role}
}

// ErrNotFound creates an error for an unknown entity id.
func ErrNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Code: CodeNotFound, Message: "Resource not found", Resource: resource, ID: id}
}

// ErrConflict creates an error for a uniqueness violation.
func ErrConflict(resource, field, value string) *ConflictError {
	return &ConflictError{
		Code:     CodeConflict,
		Message:  "Resource already exists",
		Resource: resource,
		Field:    field,
		Value:    value,
	}
}

// ErrRateLimited creates an error for callers exceeding the request budget.
func ErrRateLimited() *ValidationError {
	return &ValidationError{Code: CodeRateLimited, Message: "Too many requests"}
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", err)
}

// ErrDatabaseQuery creates an error for database query failures.
func ErrDatabaseQuery(query string, err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseQuery, "Database query failed", err).WithQuery(query)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
