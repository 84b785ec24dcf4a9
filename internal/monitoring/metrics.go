package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Settlement metrics
	SettlementsTotal   *prometheus.CounterVec
	SettlementDuration *prometheus.HistogramVec
	CoinsCredited      *prometheus.CounterVec
	CoinsDebited       prometheus.Counter
	CoinsRefunded      prometheus.Counter
	RevenueTotal       *prometheus.CounterVec

	// Fraud guard metrics
	RateLimitHits        prometheus.Counter
	DuplicateCompletions prometheus.Counter

	// Referral sweep metrics
	ReferralsMatured   prometheus.Counter
	ReferralsStale     prometheus.Gauge
	ReferralSweepLast  prometheus.Gauge
	ReferralSweepFails prometheus.Counter

	// Payout queue metrics
	PayoutJobs       *prometheus.CounterVec
	PayoutQueueDepth prometheus.Gauge

	// Payment gateway metrics
	GatewayRequests     *prometheus.CounterVec
	GatewayLatency      prometheus.Histogram
	CircuitBreakerState *prometheus.GaugeVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

var (
	metrics  *Metrics
	initOnce sync.Once
)

// Init initializes all Prometheus metrics
func Init() *Metrics {
	initOnce.Do(func() {
		metrics = newMetrics()
	})
	return metrics
}

func newMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		SettlementsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_settlements_total",
				Help: "Settlement operations by outcome kind",
			},
			[]string{"operation", "outcome"},
		),
		SettlementDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_settlement_duration_seconds",
				Help:    "Settlement transaction duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		CoinsCredited: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_coins_credited_total",
				Help: "Coins credited to withdrawable balances",
			},
			[]string{"source"},
		),
		CoinsDebited: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_coins_debited_total",
				Help: "Coins debited by withdrawal requests",
			},
		),
		CoinsRefunded: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_coins_refunded_total",
				Help: "Coins refunded by rejected withdrawals",
			},
		),
		RevenueTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_revenue_total_inr",
				Help: "Platform revenue booked in INR",
			},
			[]string{"source"},
		),

		RateLimitHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fraud_rate_limit_hits_total",
				Help: "Task completions rejected by the burst window",
			},
		),
		DuplicateCompletions: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fraud_duplicate_completions_total",
				Help: "Task completions rejected as already settled",
			},
		),

		ReferralsMatured: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "referral_matured_total",
				Help: "Referral rewards moved to withdrawable balance",
			},
		),
		ReferralsStale: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "referral_stale_events",
				Help: "Unvalidated referral events past the stale age at the last sweep",
			},
		),
		ReferralSweepLast: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "referral_sweep_last_run_timestamp_seconds",
				Help: "Unix time of the last completed referral sweep",
			},
		),
		ReferralSweepFails: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "referral_sweep_failures_total",
				Help: "Referral sweeps that ended with an error",
			},
		),

		PayoutJobs: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payout_jobs_total",
				Help: "Payout jobs by result",
			},
			[]string{"result"},
		),
		PayoutQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "payout_queue_depth",
				Help: "Approved payout jobs waiting for the payout worker",
			},
		),

		GatewayRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_gateway_requests_total",
				Help: "Payment verification requests by result",
			},
			[]string{"result"},
		),
		GatewayLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "payment_gateway_latency_seconds",
				Help:    "Payment verification latency in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
			},
		),
		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 0.5=half-open)",
			},
			[]string{"provider"},
		),

		DBConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}
}

// Get returns the global metrics instance
func Get() *Metrics {
	return Init()
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware is a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// RecordSettlement records the outcome and duration of one settlement operation.
// outcome is "ok" or an error kind.
func RecordSettlement(operation, outcome string, duration time.Duration) {
	m := Get()
	m.SettlementsTotal.WithLabelValues(operation, outcome).Inc()
	m.SettlementDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCoinsCredited records coins made withdrawable
func RecordCoinsCredited(source string, coins int64) {
	Get().CoinsCredited.WithLabelValues(source).Add(float64(coins))
}

// RecordCoinsDebited records coins debited by a withdrawal request
func RecordCoinsDebited(coins int64) {
	Get().CoinsDebited.Add(float64(coins))
}

// RecordCoinsRefunded records coins returned by a rejected withdrawal
func RecordCoinsRefunded(coins int64) {
	Get().CoinsRefunded.Add(float64(coins))
}

// RecordRevenue records booked revenue
func RecordRevenue(source string, amount float64) {
	Get().RevenueTotal.WithLabelValues(source).Add(amount)
}

// RecordRateLimitHit records a completion rejected by the burst window
func RecordRateLimitHit() {
	Get().RateLimitHits.Inc()
}

// RecordDuplicateCompletion records a replayed completion
func RecordDuplicateCompletion() {
	Get().DuplicateCompletions.Inc()
}

// RecordReferralSweep records the result of a completed sweep
func RecordReferralSweep(matured, stale int, at time.Time) {
	m := Get()
	m.ReferralsMatured.Add(float64(matured))
	m.ReferralsStale.Set(float64(stale))
	m.ReferralSweepLast.Set(float64(at.Unix()))
}

// RecordReferralSweepFailure records a failed sweep
func RecordReferralSweepFailure() {
	Get().ReferralSweepFails.Inc()
}

// RecordPayoutJob records a payout queue operation
func RecordPayoutJob(result string) {
	Get().PayoutJobs.WithLabelValues(result).Inc()
}

// SetPayoutQueueDepth records the number of queued payout jobs
func SetPayoutQueueDepth(depth int64) {
	Get().PayoutQueueDepth.Set(float64(depth))
}

// RecordGatewayRequest records a payment verification call
func RecordGatewayRequest(result string, duration time.Duration) {
	m := Get()
	m.GatewayRequests.WithLabelValues(result).Inc()
	m.GatewayLatency.Observe(duration.Seconds())
}

// SetCircuitBreakerState sets the circuit breaker state
// state: 0=closed, 1=open, 0.5=half-open
func SetCircuitBreakerState(provider string, state float64) {
	Get().CircuitBreakerState.WithLabelValues(provider).Set(state)
}

// SetDBConnections sets database connection metrics
func SetDBConnections(active, idle int32) {
	m := Get()
	m.DBConnectionsActive.Set(float64(active))
	m.DBConnectionsIdle.Set(float64(idle))
}
