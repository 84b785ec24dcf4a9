package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var allCodes = []ErrorCode{
	ErrInvalidRequest, ErrValidationFailed, ErrInvalidPlan, ErrInvalidAmount, ErrSelfReferral,
	ErrUnauthorized, ErrInvalidCredentials, ErrTokenExpired, ErrInvalidSignature,
	ErrPaymentNotCaptured, ErrAmountMismatch,
	ErrForbidden, ErrAccountFlagged, ErrCallerMismatch,
	ErrNotFound, ErrUserNotFound, ErrTaskNotFound, ErrRequestNotFound,
	ErrDuplicateCompletion, ErrAlreadyProcessed, ErrDuplicateEntry, ErrAlreadyReferred, ErrSweepRunning,
	ErrTaskInactive, ErrBelowMinimum, ErrInsufficientBalance, ErrInsufficientTaskCredits,
	ErrTooManyRequests, ErrRateLimited, ErrRateLimitedDaily,
	ErrInternalServer, ErrGatewayUnavailable, ErrUpstreamUnavailable,
}

// TestProperty_ErrorResponse_StandardFormat checks every error response carries
// code, message, timestamp, request_id and correlation_id.
func TestProperty_ErrorResponse_StandardFormat(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		code := rapid.SampledFrom(allCodes).Draw(rt, "code")
		message := rapid.StringMatching(`[a-zA-Z0-9 .,!?]{10,100}`).Draw(rt, "message")
		requestID := rapid.StringMatching(`[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`).Draw(rt, "requestID")
		correlationID := rapid.StringMatching(`[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`).Draw(rt, "correlationID")
		path := rapid.SampledFrom([]string{"/api/v1/withdrawals", "/api/v1/plans/purchase", "/api/v1/webhooks/tasks"}).Draw(rt, "path")
		method := rapid.SampledFrom([]string{"GET", "POST"}).Draw(rt, "method")

		apiErr := &APIError{
			Code:       code,
			Message:    message,
			HTTPStatus: GetHTTPStatusFromCode(code),
		}

		response := NewErrorResponse(apiErr, requestID, correlationID, path, method)

		if response.Error.Code == "" {
			t.Fatal("PROPERTY VIOLATION: Error response must have error code")
		}
		if response.Error.Message == "" {
			t.Fatal("PROPERTY VIOLATION: Error response must have message")
		}
		if response.Error.Kind == "" {
			t.Fatal("PROPERTY VIOLATION: Error response must have kind")
		}
		if _, err := time.Parse(time.RFC3339, response.Error.Timestamp); err != nil {
			t.Fatalf("PROPERTY VIOLATION: Timestamp must be valid RFC3339 format: %v", err)
		}
		if response.RequestID != requestID || response.CorrelationID != correlationID {
			t.Fatal("PROPERTY VIOLATION: Error response must echo request_id and correlation_id")
		}
		if response.Path != path || response.Method != method {
			t.Fatalf("PROPERTY VIOLATION: expected %s %s, got %s %s", method, path, response.Method, response.Path)
		}
		if apiErr.Timestamp != "" {
			t.Fatal("PROPERTY VIOLATION: NewErrorResponse must not mutate the shared error")
		}
	})
}

// TestProperty_ErrorResponse_HTTPStatusMapping checks that the code prefix is the status.
func TestProperty_ErrorResponse_HTTPStatusMapping(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		code := rapid.SampledFrom(allCodes).Draw(rt, "code")
		status := GetHTTPStatusFromCode(code)

		if fmt.Sprintf("%d", status) != string(code[:3]) {
			t.Fatalf("PROPERTY VIOLATION: code %s mapped to status %d", code, status)
		}
	})
}

func TestGetHTTPStatusFromCode_Malformed(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatusFromCode(""))
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatusFromCode("ab"))
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatusFromCode("99901"))
}

// TestProperty_FromError_PreservesKind checks that wrapped domain errors keep their kind and code.
func TestProperty_FromError_PreservesKind(t *testing.T) {
	kinds := []Kind{KindValidation, KindPrecondition, KindConflict, KindNotFound, KindPermission}

	rapid.Check(t, func(rt *rapid.T) {
		kind := rapid.SampledFrom(kinds).Draw(rt, "kind")
		code := rapid.SampledFrom(clientCodes()).Draw(rt, "code")
		message := rapid.StringMatching(`[a-z ]{5,40}`).Draw(rt, "message")

		sentinel := NewDomainError(kind, code, message)
		wrapped := fmt.Errorf("withdrawal: %w", sentinel)

		require.True(t, stderrors.Is(wrapped, sentinel))
		assert.Equal(t, kind, KindOf(wrapped))

		apiErr := FromError(wrapped)
		assert.Equal(t, code, apiErr.Code)
		assert.Equal(t, kind, apiErr.Kind)
		assert.Equal(t, message, apiErr.Message)
		assert.Equal(t, GetHTTPStatusFromCode(code), apiErr.HTTPStatus)
	})
}

func clientCodes() []ErrorCode {
	var out []ErrorCode
	for _, c := range allCodes {
		if GetHTTPStatusFromCode(c) < http.StatusInternalServerError {
			out = append(out, c)
		}
	}
	return out
}

func TestFromError_HidesInternalDetail(t *testing.T) {
	apiErr := FromError(stderrors.New("pq: connection refused to 10.0.0.5"))
	assert.Equal(t, ErrInternalServer, apiErr.Code)
	assert.Equal(t, KindInternal, apiErr.Kind)
	assert.NotContains(t, apiErr.Message, "10.0.0.5")

	gateway := NewDomainError(KindExternal, ErrGatewayUnavailable, "razorpay: dial tcp timeout")
	apiErr = FromError(gateway)
	assert.Equal(t, http.StatusBadGateway, apiErr.HTTPStatus)
	assert.NotContains(t, apiErr.Message, "dial tcp")

	notCaptured := NewDomainError(KindExternal, ErrPaymentNotCaptured, "Payment not captured")
	assert.Equal(t, "Payment not captured", FromError(notCaptured).Message)
}

func TestFromError_PassesAPIErrorThrough(t *testing.T) {
	err := fmt.Errorf("bind: %w", NewInvalidRequestError("uid is required"))
	apiErr := FromError(err)
	assert.Equal(t, ErrInvalidRequest, apiErr.Code)
	assert.Equal(t, "uid is required", apiErr.Message)
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(stderrors.New("boom")))
}
