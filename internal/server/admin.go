package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apierrors "github.com/aimerfeng/Earnzy/internal/errors"
	"github.com/aimerfeng/Earnzy/internal/middleware"
	"github.com/aimerfeng/Earnzy/internal/models"
	"github.com/aimerfeng/Earnzy/internal/referral"
	"github.com/aimerfeng/Earnzy/internal/revenue"
	"github.com/aimerfeng/Earnzy/internal/withdrawal"
)

// FlagRequestBody is the body of a flag action
type FlagRequestBody struct {
	Reason string `json:"reason" binding:"required"`
}

const summaryDefaultSpan = 30 * 24 * time.Hour

func (s *APIServer) handleListPendingWithdrawals(c *gin.Context) {
	page, pageSize := pagination(c)

	resp, err := s.svc.Withdrawals.ListPending(c.Request.Context(), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) handleResolveWithdraw(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("Invalid withdrawal request id"))
		return
	}

	var req withdrawal.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	w, err := s.svc.Withdrawals.Resolve(c.Request.Context(), middleware.GetUserIDFromContext(c), requestID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, w)
}

func (s *APIServer) handleFlagUser(c *gin.Context) {
	var req FlagRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	result, err := s.svc.Moderation.FlagUser(c.Request.Context(), middleware.GetUserIDFromContext(c), c.Param("uid"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *APIServer) handleListAuditLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	logs, err := s.svc.Moderation.ListAuditLogs(c.Request.Context(), c.Param("uid"), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *APIServer) handleSyncAdRevenue(c *gin.Context) {
	var req revenue.AdRevenueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	entry, err := s.svc.Revenue.SyncAdRevenue(c.Request.Context(), middleware.GetUserIDFromContext(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

// handleRevenueSummary totals revenue over [from, to). Both bounds accept
// RFC 3339 or YYYY-MM-DD and default to the last 30 days.
func (s *APIServer) handleRevenueSummary(c *gin.Context) {
	to := time.Now().UTC()
	from := to.Add(-summaryDefaultSpan)

	var err error
	if v := c.Query("from"); v != "" {
		if from, err = parseTime(v); err != nil {
			respondError(c, apierrors.NewInvalidRequestError("from must be RFC 3339 or YYYY-MM-DD"))
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = parseTime(v); err != nil {
			respondError(c, apierrors.NewInvalidRequestError("to must be RFC 3339 or YYYY-MM-DD"))
			return
		}
	}

	summary, err := s.svc.Revenue.Summary(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (s *APIServer) handleRevenueEntries(c *gin.Context) {
	source := models.RevenueSource(c.Query("source"))
	if source != "" && !validSource(source) {
		respondError(c, apierrors.NewInvalidRequestError("Unknown revenue source"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := s.svc.Revenue.ListEntries(c.Request.Context(), source, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *APIServer) handleRecordReferral(c *gin.Context) {
	var req referral.RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	event, err := s.svc.Referrals.Record(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, event)
}

func (s *APIServer) handleRunSweep(c *gin.Context) {
	result, err := s.svc.Sweeps.RunNow(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *APIServer) handleSweepStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Sweeps.GetStatus())
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func validSource(source models.RevenueSource) bool {
	for _, s := range models.RevenueSources {
		if s == source {
			return true
		}
	}
	return false
}
