package util

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes shared by the SLA services and the HTTP layer.
const (
	CodeValidation       = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeConfiguration    = "CONFIGURATION_ERROR"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeRequestTimeout   = "REQUEST_TIMEOUT"
	CodeInternal         = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError by code so sentinel values work with errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

// NewConfigurationError reports tenant configuration that cannot produce an SLA,
// such as a calendar without open windows or a rule pointing at a missing entity.
func NewConfigurationError(message string, details map[string]any) error {
	return NewDomainError(CodeConfiguration, message, http.StatusUnprocessableEntity, details)
}

// NewStoreUnavailable wraps a read/write failure against a backing store.
func NewStoreUnavailable(store string, err error) error {
	return &DomainError{
		Code:       CodeStoreUnavailable,
		Message:    fmt.Sprintf("%s unavailable", store),
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]any{"store": store},
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// StoreError classifies a driver error: no rows becomes NotFound, anything else
// StoreUnavailable. Domain errors pass through untouched.
func StoreError(store, resource string, err error, details map[string]any) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NewNotFound(resource, details)
	}
	return NewStoreUnavailable(store, err)
}

func hasCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

func IsNotFound(err error) bool         { return hasCode(err, CodeNotFound) }
func IsConfiguration(err error) bool    { return hasCode(err, CodeConfiguration) }
func IsStoreUnavailable(err error) bool { return hasCode(err, CodeStoreUnavailable) }
func IsConflict(err error) bool         { return hasCode(err, CodeConflict) }
func IsValidation(err error) bool       { return hasCode(err, CodeValidation) }

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}
