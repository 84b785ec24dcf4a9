package errors

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"time"
)

// ErrorCode represents a standardized error code.
// The first three digits are the HTTP status the code is served with.
type ErrorCode string

const (
	// Request errors (400xx)
	ErrInvalidRequest   ErrorCode = "40001"
	ErrValidationFailed ErrorCode = "40002"
	ErrInvalidPlan      ErrorCode = "40003"
	ErrInvalidAmount    ErrorCode = "40004"
	ErrSelfReferral     ErrorCode = "40005"

	// Authentication errors (401xx)
	ErrUnauthorized       ErrorCode = "40100"
	ErrInvalidCredentials ErrorCode = "40101"
	ErrTokenExpired       ErrorCode = "40102"
	ErrInvalidSignature   ErrorCode = "40103"

	// Payment verification errors (402xx)
	ErrPaymentNotCaptured ErrorCode = "40201"
	ErrAmountMismatch     ErrorCode = "40202"

	// Authorization errors (403xx)
	ErrForbidden      ErrorCode = "40301"
	ErrAccountFlagged ErrorCode = "40302"
	ErrCallerMismatch ErrorCode = "40303"

	// Resource errors (404xx)
	ErrNotFound        ErrorCode = "40400"
	ErrUserNotFound    ErrorCode = "40402"
	ErrTaskNotFound    ErrorCode = "40403"
	ErrRequestNotFound ErrorCode = "40404"

	// Conflict errors (409xx)
	ErrDuplicateCompletion ErrorCode = "40901"
	ErrAlreadyProcessed    ErrorCode = "40902"
	ErrDuplicateEntry      ErrorCode = "40903"
	ErrAlreadyReferred     ErrorCode = "40904"
	ErrSweepRunning        ErrorCode = "40905"

	// Business rule errors (422xx)
	ErrTaskInactive            ErrorCode = "42201"
	ErrBelowMinimum            ErrorCode = "42202"
	ErrInsufficientBalance     ErrorCode = "42203"
	ErrInsufficientTaskCredits ErrorCode = "42204"

	// Rate limit errors (429xx)
	ErrTooManyRequests  ErrorCode = "42901"
	ErrRateLimited      ErrorCode = "42902"
	ErrRateLimitedDaily ErrorCode = "42903"

	// Server errors (500xx)
	ErrInternalServer      ErrorCode = "50001"
	ErrGatewayUnavailable  ErrorCode = "50201"
	ErrUpstreamUnavailable ErrorCode = "50301"
)

// Kind classifies a failure by how the caller may react to it
type Kind string

const (
	KindValidation   Kind = "validation"
	KindPrecondition Kind = "precondition"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindPermission   Kind = "permission"
	KindExternal     Kind = "external"
	KindInternal     Kind = "internal"
)

// DomainError is a business failure raised by a settlement operation.
// Services declare them as package-level sentinels and callers match them with errors.Is.
type DomainError struct {
	Kind    Kind
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a domain error sentinel
func NewDomainError(kind Kind, code ErrorCode, message string) *DomainError {
	return &DomainError{Kind: kind, Code: code, Message: message}
}

// KindOf returns the kind of a domain error anywhere in err's chain.
// Errors that carry no domain error are internal.
func KindOf(err error) Kind {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// APIError represents a standardized API error
type APIError struct {
	Code       ErrorCode `json:"code"`
	Kind       Kind      `json:"kind"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	Timestamp  string    `json:"timestamp"`
	HTTPStatus int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// ErrorResponse represents the error response format
type ErrorResponse struct {
	Error         APIError `json:"error"`
	RequestID     string   `json:"request_id"`
	CorrelationID string   `json:"correlation_id"`
	Path          string   `json:"path"`
	Method        string   `json:"method"`
}

// NewErrorResponse builds the response envelope for an API error
func NewErrorResponse(err *APIError, requestID, correlationID, path, method string) *ErrorResponse {
	body := *err
	if body.Timestamp == "" {
		body.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if body.Kind == "" {
		body.Kind = kindFromStatus(body.HTTPStatus)
	}
	return &ErrorResponse{
		Error:         body,
		RequestID:     requestID,
		CorrelationID: correlationID,
		Path:          path,
		Method:        method,
	}
}

// GetHTTPStatusFromCode derives the HTTP status from the code prefix
func GetHTTPStatusFromCode(code ErrorCode) int {
	if len(code) >= 3 {
		if status, err := strconv.Atoi(string(code[:3])); err == nil && http.StatusText(status) != "" {
			return status
		}
	}
	return http.StatusInternalServerError
}

// FromError converts any service error into an APIError.
// Internal and external failures get a generic retry-later message; the
// original error is expected to be logged by the caller.
func FromError(err error) *APIError {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}

	var de *DomainError
	if !stderrors.As(err, &de) {
		return ErrInternalServerError
	}

	message := de.Message
	switch de.Kind {
	case KindInternal:
		message = "Something went wrong, please retry later"
	case KindExternal:
		if GetHTTPStatusFromCode(de.Code) >= http.StatusInternalServerError {
			message = "Payment provider unavailable, please retry later"
		}
	}

	return &APIError{
		Code:       de.Code,
		Kind:       de.Kind,
		Message:    message,
		HTTPStatus: GetHTTPStatusFromCode(de.Code),
	}
}

func kindFromStatus(status int) Kind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return KindPermission
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusBadRequest:
		return KindValidation
	case status == http.StatusPaymentRequired || status == http.StatusBadGateway:
		return KindExternal
	case status >= 500:
		return KindInternal
	default:
		return KindPrecondition
	}
}

// Common errors
var (
	ErrUnauthorizedError = &APIError{
		Code:       ErrUnauthorized,
		Kind:       KindPermission,
		Message:    "Authentication required",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrInvalidCredentialsError = &APIError{
		Code:       ErrInvalidCredentials,
		Kind:       KindPermission,
		Message:    "Invalid or missing access token",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenExpiredError = &APIError{
		Code:       ErrTokenExpired,
		Kind:       KindPermission,
		Message:    "Token has expired",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrInvalidSignatureError = &APIError{
		Code:       ErrInvalidSignature,
		Kind:       KindPermission,
		Message:    "Invalid webhook signature",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrForbiddenError = &APIError{
		Code:       ErrForbidden,
		Kind:       KindPermission,
		Message:    "Access denied",
		HTTPStatus: http.StatusForbidden,
	}

	ErrTooManyRequestsError = &APIError{
		Code:       ErrTooManyRequests,
		Kind:       KindPrecondition,
		Message:    "Too many requests, please retry later",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrInternalServerError = &APIError{
		Code:       ErrInternalServer,
		Kind:       KindInternal,
		Message:    "Something went wrong, please retry later",
		HTTPStatus: http.StatusInternalServerError,
	}
)

// NewValidationError creates a validation error with details
func NewValidationError(details any) *APIError {
	return &APIError{
		Code:       ErrValidationFailed,
		Kind:       KindValidation,
		Message:    "Validation failed",
		Details:    details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:       ErrInvalidRequest,
		Kind:       KindValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}
