// Package faults implements the closed error taxonomy shared by every
// component and the boundary mapper that turns any error into a client-safe
// envelope.
//
// Components construct an *AppFault at the failure site and return it as a
// plain error. Only the Mapper decides what a client sees; the full fault
// (message, cause, details) is forwarded to the audit sink first.
package faults

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// Category is the closed set of fault classes exposed to clients.
type Category string

const (
	CategoryAuthentication  Category = "authentication"
	CategoryAuthorization   Category = "authorization"
	CategoryValidation      Category = "validation"
	CategoryNotFound        Category = "not_found"
	CategoryConflict        Category = "conflict"
	CategoryRateLimit       Category = "rate_limit"
	CategoryServerError     Category = "server_error"
	CategoryDatabase        Category = "database"
	CategoryExternalService Category = "external_service"
)

type categoryDef struct {
	status  int
	message string
}

// categories holds the one generic client message per category. Messages
// never depend on the underlying error text.
var categories = map[Category]categoryDef{
	CategoryAuthentication:  {http.StatusUnauthorized, "Authentication required"},
	CategoryAuthorization:   {http.StatusForbidden, "You do not have permission to access this resource"},
	CategoryValidation:      {http.StatusBadRequest, "The request is invalid"},
	CategoryNotFound:        {http.StatusNotFound, "The requested resource was not found"},
	CategoryConflict:        {http.StatusConflict, "The request conflicts with the current state of the resource"},
	CategoryRateLimit:       {http.StatusTooManyRequests, "Too many requests, please retry later"},
	CategoryServerError:     {http.StatusInternalServerError, "An unexpected error occurred, please try again later"},
	CategoryDatabase:        {http.StatusServiceUnavailable, "The service is temporarily unavailable, please try again later"},
	CategoryExternalService: {http.StatusBadGateway, "An upstream service is unavailable, please try again later"},
}

// Categories returns every category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryAuthentication, CategoryAuthorization, CategoryValidation,
		CategoryNotFound, CategoryConflict, CategoryRateLimit,
		CategoryServerError, CategoryDatabase, CategoryExternalService,
	}
}

// IsValid reports whether c is one of the nine categories.
func (c Category) IsValid() bool {
	_, ok := categories[c]
	return ok
}

// Status returns the fixed HTTP status for the category.
func (c Category) Status() int {
	if def, ok := categories[c]; ok {
		return def.status
	}
	return http.StatusInternalServerError
}

// ClientMessage returns the fixed client-facing message for the category.
func (c Category) ClientMessage() string {
	if def, ok := categories[c]; ok {
		return def.message
	}
	return categories[CategoryServerError].message
}

// AppFault is the single fault type used across the service. Message is
// internal detail and never reaches a client directly.
type AppFault struct {
	Category    Category
	Message     string
	HTTPStatus  int
	Operational bool
	// Code is an optional client-safe machine code. Only constants belong here.
	Code string
	// Details carries internal metadata forwarded to the audit sink.
	Details map[string]any
	// Fields carries caller-supplied field errors; echoed only for validation.
	Fields map[string]string
	// RetryAfter is set for rate-limit faults.
	RetryAfter time.Duration

	cause error
	trace error
}

// New builds an operational fault for the category.
func New(category Category, message string) *AppFault {
	if !category.IsValid() {
		category = CategoryServerError
	}
	return &AppFault{
		Category:    category,
		Message:     message,
		HTTPStatus:  category.Status(),
		Operational: category != CategoryServerError,
		trace:       pkgerrors.New(message),
	}
}

// Wrap builds a fault that keeps err as its cause.
func Wrap(err error, category Category, message string) *AppFault {
	f := New(category, message)
	if err != nil {
		f.cause = err
		f.trace = pkgerrors.WithStack(err)
	}
	return f
}

func (f *AppFault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Category, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Category, f.Message)
}

func (f *AppFault) Unwrap() error { return f.cause }

// Retryable reports whether a client may retry the same request later
// without changing credentials.
func (f *AppFault) Retryable() bool {
	switch f.Category {
	case CategoryRateLimit, CategoryDatabase, CategoryExternalService:
		return true
	}
	return false
}

// StackTrace renders the stack captured when the fault was built.
func (f *AppFault) StackTrace() string {
	if f.trace == nil {
		return ""
	}
	return fmt.Sprintf("%+v", f.trace)
}

// WithCode sets a client-safe machine code.
func (f *AppFault) WithCode(code string) *AppFault {
	f.Code = code
	return f
}

// WithDetail attaches internal metadata.
func (f *AppFault) WithDetail(key string, value any) *AppFault {
	if f.Details == nil {
		f.Details = make(map[string]any)
	}
	f.Details[key] = value
	return f
}

// Authentication reports a missing, malformed, unknown or expired credential.
func Authentication(message string) *AppFault {
	return New(CategoryAuthentication, message)
}

// Authorization reports an authenticated caller lacking a grant.
func Authorization(message string) *AppFault {
	return New(CategoryAuthorization, message)
}

// Validation reports bad caller input. fields maps field name to problem and
// is the only fault content echoed back to a client.
func Validation(message string, fields map[string]string) *AppFault {
	f := New(CategoryValidation, message).WithCode("invalid_request")
	f.Fields = fields
	return f
}

func NotFound(message string) *AppFault {
	return New(CategoryNotFound, message)
}

func Conflict(message string) *AppFault {
	return New(CategoryConflict, message)
}

// RateLimit reports a throttled caller; retryAfter feeds the Retry-After header.
func RateLimit(message string, retryAfter time.Duration) *AppFault {
	f := New(CategoryRateLimit, message).WithCode("rate_limited")
	f.RetryAfter = retryAfter
	return f
}

// Internal reports a programming error or an unclassified failure.
func Internal(err error, message string) *AppFault {
	return Wrap(err, CategoryServerError, message)
}

// Database reports a failing or timed-out persistence collaborator.
func Database(err error, message string) *AppFault {
	return Wrap(err, CategoryDatabase, message)
}

// ExternalService reports a failing non-database collaborator.
func ExternalService(err error, message string) *AppFault {
	return Wrap(err, CategoryExternalService, message)
}

// From extracts the first *AppFault in err's chain.
func From(err error) (*AppFault, bool) {
	var f *AppFault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// HasCategory reports whether err carries a fault of the given category.
func HasCategory(err error, category Category) bool {
	f, ok := From(err)
	return ok && f.Category == category
}
