// Package errors carries the error codes the API exposes. Services return
// *Error values; the HTTP layer maps the code to a status and public text.
package errors

import (
	stdErrors "errors"
	"net/http"
	"strings"
)

type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeRateLimit    Code = "RATE_LIMIT_EXCEEDED"
	CodeIdempotency  Code = "IDEMPOTENCY_KEY_REUSED"

	// job and bid lifecycle
	CodeNotOpen        Code = "NOT_OPEN"
	CodeInvalidState   Code = "INVALID_STATE"
	CodeBudgetExceeded Code = "BUDGET_EXCEEDED"
	CodeInvalidBid     Code = "INVALID_BID"

	// escrow
	CodeAlreadyInProgress Code = "ALREADY_IN_PROGRESS"
	CodeAlreadyPaid       Code = "ALREADY_PAID"
	CodeProvider          Code = "PROVIDER_ERROR"

	CodeInternal   Code = "INTERNAL_ERROR"
	CodeDependency Code = "DEPENDENCY_ERROR"
)

// Metadata is how a code is presented to clients. Details are only echoed
// back for codes that allow them.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

func status(code int, public string) Metadata {
	return Metadata{HTTPStatus: code, PublicMessage: public}
}

func (m Metadata) withDetails() Metadata { m.DetailsAllowed = true; return m }
func (m Metadata) retryable() Metadata   { m.Retryable = true; return m }

var catalog = map[Code]Metadata{
	CodeValidation:   status(http.StatusBadRequest, "validation failed").withDetails(),
	CodeUnauthorized: status(http.StatusUnauthorized, "authentication required"),
	CodeForbidden:    status(http.StatusForbidden, "access denied"),
	CodeNotFound:     status(http.StatusNotFound, "resource not found"),
	CodeConflict:     status(http.StatusConflict, "conflict detected"),
	CodeRateLimit:    status(http.StatusTooManyRequests, "rate limit exceeded"),
	CodeIdempotency:  status(http.StatusConflict, "idempotency key reused").withDetails(),

	CodeNotOpen:        status(http.StatusConflict, "this job is no longer accepting bids").withDetails(),
	CodeInvalidState:   status(http.StatusConflict, "this action is not allowed in the job's current state").withDetails(),
	CodeBudgetExceeded: status(http.StatusUnprocessableEntity, "bid exceeds the job budget").withDetails(),
	CodeInvalidBid:     status(http.StatusUnprocessableEntity, "bid amount is not valid").withDetails(),

	CodeAlreadyInProgress: status(http.StatusConflict, "this job already has payment in progress"),
	CodeAlreadyPaid:       status(http.StatusConflict, "payout already completed"),
	// provider detail can leak account data
	CodeProvider: status(http.StatusBadGateway, "payment provider unavailable, try again").retryable(),

	CodeInternal:   status(http.StatusInternalServerError, "internal server error").retryable(),
	CodeDependency: status(http.StatusServiceUnavailable, "dependency unavailable").retryable().withDetails(),
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if meta, ok := catalog[code]; ok {
		return meta
	}
	return catalog[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches a code to cause. A nil cause behaves like New.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{code: code, message: message, cause: cause}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets the client-visible details and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	parts := []string{string(e.code), e.message}
	if e.cause != nil {
		parts = append(parts, e.cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}
