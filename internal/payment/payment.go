// Package payment verifies plan purchases against the Razorpay payments API.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/aimerfeng/Earnzy/internal/config"
	apierrors "github.com/aimerfeng/Earnzy/internal/errors"
	"github.com/aimerfeng/Earnzy/internal/monitoring"
)

// Gateway errors
var (
	ErrPaymentNotCaptured = apierrors.NewDomainError(apierrors.KindExternal, apierrors.ErrPaymentNotCaptured, "Payment not captured")
	ErrAmountMismatch     = apierrors.NewDomainError(apierrors.KindExternal, apierrors.ErrAmountMismatch, "Payment amount does not match plan price")
	ErrGatewayUnavailable = apierrors.NewDomainError(apierrors.KindExternal, apierrors.ErrGatewayUnavailable, "Payment gateway unavailable")
)

const providerName = "razorpay"

// StatusCaptured is the Razorpay status of a settled payment
const StatusCaptured = "captured"

// Payment is the subset of a Razorpay payment entity the ledger relies on
type Payment struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"` // paise
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Captured bool   `json:"captured"`
}

// BreakerConfig tunes the gateway circuit breaker
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig opens after five consecutive upstream failures
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// Gateway fetches payments from Razorpay behind a circuit breaker
type Gateway struct {
	cfg        config.RazorpayConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewGateway creates a Razorpay gateway client
func NewGateway(cfg config.RazorpayConfig, bc BreakerConfig) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	g := &Gateway{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        providerName,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("circuit_breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			monitoring.SetCircuitBreakerState(providerName, stateValue(to))
		},
		// Only transport failures and 5xx responses count against the gateway.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrGatewayUnavailable)
		},
	})
	return g
}

// FetchPayment looks up a payment by its Razorpay id
func (g *Gateway) FetchPayment(ctx context.Context, paymentRef string) (*Payment, error) {
	if strings.TrimSpace(paymentRef) == "" {
		return nil, ErrPaymentNotCaptured
	}

	start := time.Now()
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.fetch(ctx, paymentRef)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			monitoring.RecordGatewayRequest("circuit_open", time.Since(start))
			return nil, fmt.Errorf("%w: circuit open", ErrGatewayUnavailable)
		}
		monitoring.RecordGatewayRequest(gatewayResult(err), time.Since(start))
		return nil, err
	}

	monitoring.RecordGatewayRequest("ok", time.Since(start))
	return result.(*Payment), nil
}

// VerifyCapture checks that paymentRef is captured for exactly amountPaise
func (g *Gateway) VerifyCapture(ctx context.Context, paymentRef string, amountPaise int64) (*Payment, error) {
	p, err := g.FetchPayment(ctx, paymentRef)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusCaptured {
		return nil, ErrPaymentNotCaptured
	}
	if p.Amount != amountPaise {
		return nil, ErrAmountMismatch
	}
	return p, nil
}

func (g *Gateway) fetch(ctx context.Context, paymentRef string) (*Payment, error) {
	endpoint := strings.TrimRight(g.cfg.BaseURL, "/") + "/payments/" + url.PathEscape(paymentRef)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.SetBasicAuth(g.cfg.KeyID, g.cfg.KeySecret)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized:
		log.Error().Int("status", resp.StatusCode).Msg("Razorpay rejected API credentials")
		return nil, fmt.Errorf("%w: credentials rejected", ErrGatewayUnavailable)
	case resp.StatusCode != http.StatusOK:
		// Unknown or malformed payment ids come back as 400/404.
		return nil, ErrPaymentNotCaptured
	}

	var p Payment
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: failed to decode payment: %v", ErrGatewayUnavailable, err)
	}
	return &p, nil
}

// State returns the breaker state for health reporting
func (g *Gateway) State() string {
	return g.breaker.State().String()
}

func gatewayResult(err error) string {
	switch {
	case errors.Is(err, ErrGatewayUnavailable):
		return "unavailable"
	case errors.Is(err, ErrPaymentNotCaptured):
		return "not_found"
	default:
		return "error"
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}
