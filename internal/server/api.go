package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aimerfeng/Earnzy/internal/config"
	apierrors "github.com/aimerfeng/Earnzy/internal/errors"
	"github.com/aimerfeng/Earnzy/internal/logging"
	"github.com/aimerfeng/Earnzy/internal/middleware"
	"github.com/aimerfeng/Earnzy/internal/models"
	"github.com/aimerfeng/Earnzy/internal/moderation"
	"github.com/aimerfeng/Earnzy/internal/monitoring"
	"github.com/aimerfeng/Earnzy/internal/plan"
	"github.com/aimerfeng/Earnzy/internal/referral"
	"github.com/aimerfeng/Earnzy/internal/revenue"
	"github.com/aimerfeng/Earnzy/internal/task"
	"github.com/aimerfeng/Earnzy/internal/withdrawal"
)

// AccountReader reads account snapshots
type AccountReader interface {
	GetAccount(ctx context.Context, uid string) (*models.Account, error)
}

// TaskSettler settles sponsored task completions
type TaskSettler interface {
	Settle(ctx context.Context, c *task.Completion) (*task.Result, error)
}

// Withdrawals runs the withdrawal lifecycle
type Withdrawals interface {
	Quote(coins int64) withdrawal.Quote
	Request(ctx context.Context, callerUID, uid string, coins int64) (*models.WithdrawRequest, error)
	Resolve(ctx context.Context, adminUID string, requestID uuid.UUID, decision *withdrawal.ResolveRequest) (*models.WithdrawRequest, error)
	ListForUser(ctx context.Context, uid string, page, pageSize int) (*withdrawal.HistoryResponse, error)
	ListPending(ctx context.Context, page, pageSize int) (*withdrawal.HistoryResponse, error)
}

// Plans sells subscription tiers
type Plans interface {
	Catalog() []models.PlanOffer
	Purchase(ctx context.Context, callerUID string, req *plan.PurchaseRequest) (*models.PlanActivation, error)
}

// Referrals records referral relationships
type Referrals interface {
	Record(ctx context.Context, req *referral.RecordRequest) (*models.ReferralEvent, error)
}

// SweepRunner triggers and reports referral sweeps
type SweepRunner interface {
	RunNow(ctx context.Context) (*referral.SweepResult, error)
	GetStatus() *referral.SchedulerStatus
}

// Moderation flags users and reads the audit trail
type Moderation interface {
	FlagUser(ctx context.Context, adminUID, uid, reason string) (*moderation.FlagResult, error)
	ListAuditLogs(ctx context.Context, uid string, limit int) ([]*models.AuditLog, error)
}

// Revenue books and reports platform revenue
type Revenue interface {
	SyncAdRevenue(ctx context.Context, adminUID string, req *revenue.AdRevenueRequest) (*models.RevenueEntry, error)
	Summary(ctx context.Context, from, to time.Time) (*models.RevenueSummary, error)
	ListEntries(ctx context.Context, source models.RevenueSource, limit int) ([]*models.RevenueEntry, error)
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Services are the settlement operations exposed over HTTP
type Services struct {
	Accounts    AccountReader
	Tasks       TaskSettler
	Withdrawals Withdrawals
	Plans       Plans
	Referrals   Referrals
	Sweeps      SweepRunner
	Moderation  Moderation
	Revenue     Revenue
	// Limiter throttles user routes; nil disables throttling
	Limiter middleware.Limiter
	// Health checks by dependency name
	Health map[string]HealthChecker
}

// APIServer represents the main API server
type APIServer struct {
	config           *config.Config
	router           *gin.Engine
	svc              Services
	jwtAuthenticator *middleware.JWTAuthenticator
}

// NewAPIServer creates a new API server instance
func NewAPIServer(cfg *config.Config, svc Services) *APIServer {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware in order
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	srv := &APIServer{
		config:           cfg,
		router:           router,
		svc:              svc,
		jwtAuthenticator: middleware.NewJWTAuthenticator(&cfg.JWT),
	}

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		// Plan catalog (public)
		v1.GET("/plans", s.handleListPlans)

		// Task network callbacks (signed)
		webhooks := v1.Group("/webhooks")
		webhooks.Use(middleware.TaskWebhookAuth(s.config.Webhook.TaskSecret))
		{
			webhooks.POST("/tasks", s.handleTaskCompletion)
		}

		// User routes (protected - any authenticated caller)
		user := v1.Group("")
		user.Use(s.jwtAuthenticator.JWTAuth())
		user.Use(middleware.RateLimit(s.svc.Limiter, "user"))
		{
			user.GET("/me", s.handleGetMe)
			user.GET("/withdrawals/quote", s.handleWithdrawQuote)
			user.POST("/withdrawals", s.handleRequestWithdraw)
			user.GET("/withdrawals", s.handleListWithdrawals)
			user.POST("/plans/purchase", s.handlePurchasePlan)
		}

		// Admin routes (protected - requires admin role)
		admin := v1.Group("/admin")
		admin.Use(s.jwtAuthenticator.JWTAuth())
		admin.Use(middleware.RequireAdmin())
		{
			admin.GET("/withdrawals/pending", s.handleListPendingWithdrawals)
			admin.POST("/withdrawals/:id/resolve", s.handleResolveWithdraw)
			admin.POST("/users/:uid/flag", s.handleFlagUser)
			admin.GET("/users/:uid/audit", s.handleListAuditLogs)
			admin.POST("/revenue/ads", s.handleSyncAdRevenue)
			admin.GET("/revenue/summary", s.handleRevenueSummary)
			admin.GET("/revenue/entries", s.handleRevenueEntries)
			admin.POST("/referrals", s.handleRecordReferral)
			admin.POST("/referrals/sweep", s.handleRunSweep)
			admin.GET("/referrals/scheduler", s.handleSweepStatus)
		}
	}
}

// Health check handler
func (s *APIServer) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.svc.Health))
	for name, checker := range s.svc.Health {
		if err := checker.Health(ctx); err != nil {
			checks[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "healthy"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status":  overall,
		"service": "ledger",
		"checks":  checks,
	})
}

// respondError sends a standardized error response. Internal and external
// failures are logged with the request id before the generic body goes out.
func respondError(c *gin.Context, err error) {
	apiErr := apierrors.FromError(err)
	reqID := middleware.GetRequestIDFromContext(c)

	if apiErr.Kind == apierrors.KindInternal || apiErr.Kind == apierrors.KindExternal {
		logging.LogError(err, reqID, "api", c.Request.Method+" "+c.FullPath())
	}

	corrID := middleware.GetCorrelationIDFromContext(c)
	if corrID == "" {
		corrID = reqID
	}
	c.JSON(apiErr.HTTPStatus, apierrors.NewErrorResponse(apiErr, reqID, corrID, c.Request.URL.Path, c.Request.Method))
}

// pagination reads page and page_size query parameters
func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}
