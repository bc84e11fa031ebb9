// Package handlers provides HTTP request handlers for the cyberguard API.
// This file contains utilities shared across all handlers so responses,
// request parsing and error mapping stay consistent.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/cyberguard/cyberguard/internal/api/middleware"
	"github.com/cyberguard/cyberguard/internal/errors"
	"github.com/cyberguard/cyberguard/internal/scan"
)

// defaultMaxRequestSize bounds request bodies when no limit is configured.
const defaultMaxRequestSize = 1024 * 1024

// newValidator returns a validator that knows the scan target tag.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := scan.RegisterValidation(v); err != nil {
		panic(fmt.Sprintf("register scan target validation: %v", err))
	}
	return v
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent; log only.
		slog.Error("Failed to encode JSON response",
			"request_id", middleware.GetRequestID(r),
			"error", err)
	}
}

// writeError maps err onto an HTTP status and writes the error body.
// Server-side failures are logged and their detail is withheld from the
// client.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := errors.HTTPStatus(err)
	code := errors.GetCode(err)

	message := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			"request_id", middleware.GetRequestID(r),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		message = "An internal error occurred"
	} else {
		message = clientMessage(err)
	}

	middleware.WriteError(w, r, status, code, message)
}

// clientMessage returns the human-readable part of a typed error without
// the bracketed code prefix.
func clientMessage(err error) string {
	var (
		validationErr *errors.ValidationError
		authErr       *errors.AuthError
		notFoundErr   *errors.NotFoundError
		conflictErr   *errors.ConflictError
	)
	switch {
	case stderrors.As(err, &validationErr):
		if validationErr.Field != "" {
			return fmt.Sprintf("%s (field: %s)", validationErr.Message, validationErr.Field)
		}
		return validationErr.Message
	case stderrors.As(err, &authErr):
		return authErr.Message
	case stderrors.As(err, &notFoundErr):
		return notFoundErr.Message
	case stderrors.As(err, &conflictErr):
		if conflictErr.Field != "" {
			return fmt.Sprintf("%s (field: %s)", conflictErr.Message, conflictErr.Field)
		}
		return conflictErr.Message
	}
	return err.Error()
}

// parseJSON decodes a size-limited JSON body into dest, rejecting unknown
// fields and trailing data.
func parseJSON(w http.ResponseWriter, r *http.Request, dest interface{}, maxSize int64) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.NewValidationError("Request body is empty")
	}
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.NewValidationError(fmt.Sprintf("Request body too large (max %d bytes)", maxSize))
		}
		return &errors.ValidationError{Code: errors.CodeValidation, Message: "Invalid JSON payload", Cause: err}
	}
	if decoder.More() {
		return errors.NewValidationError("Request body must contain a single JSON object")
	}
	return nil
}

// validationError converts validator output into a field ValidationError.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		return errors.NewFieldValidationError(field, fmt.Sprintf("Field failed %q validation", fe.Tag()), fe.Value())
	}
	return &errors.ValidationError{Code: errors.CodeValidation, Message: "Invalid payload", Cause: err}
}

// extractStringFromPath extracts a non-empty path variable.
func extractStringFromPath(r *http.Request, name string) (string, error) {
	value, exists := mux.Vars(r)[name]
	if !exists || strings.TrimSpace(value) == "" {
		return "", errors.NewFieldValidationError(name, "Path parameter is required", value)
	}
	return value, nil
}
