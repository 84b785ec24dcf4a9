package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apierrors "github.com/aimerfeng/Earnzy/internal/errors"
	"github.com/aimerfeng/Earnzy/internal/middleware"
	"github.com/aimerfeng/Earnzy/internal/plan"
	"github.com/aimerfeng/Earnzy/internal/task"
)

// WithdrawRequestBody is the body of a withdrawal request
type WithdrawRequestBody struct {
	UID            string `json:"uid" binding:"required"`
	RequestedCoins int64  `json:"requested_coins" binding:"required"`
}

// handleListPlans returns the paid tiers
func (s *APIServer) handleListPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": s.svc.Plans.Catalog()})
}

// handleTaskCompletion settles one sponsored task completion reported by the task network
func (s *APIServer) handleTaskCompletion(c *gin.Context) {
	var req task.Completion
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	result, err := s.svc.Tasks.Settle(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleGetMe returns the caller's account snapshot
func (s *APIServer) handleGetMe(c *gin.Context) {
	acc, err := s.svc.Accounts.GetAccount(c.Request.Context(), middleware.GetUserIDFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

// handleWithdrawQuote prices a withdrawal without creating it
func (s *APIServer) handleWithdrawQuote(c *gin.Context) {
	coins, err := strconv.ParseInt(c.Query("coins"), 10, 64)
	if err != nil || coins <= 0 {
		respondError(c, apierrors.NewInvalidRequestError("coins must be a positive integer"))
		return
	}
	c.JSON(http.StatusOK, s.svc.Withdrawals.Quote(coins))
}

// handleRequestWithdraw opens a pending withdrawal for the caller
func (s *APIServer) handleRequestWithdraw(c *gin.Context) {
	var req WithdrawRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	w, err := s.svc.Withdrawals.Request(c.Request.Context(), middleware.GetUserIDFromContext(c), req.UID, req.RequestedCoins)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, w)
}

// handleListWithdrawals returns the caller's withdrawal history
func (s *APIServer) handleListWithdrawals(c *gin.Context) {
	page, pageSize := pagination(c)

	resp, err := s.svc.Withdrawals.ListForUser(c.Request.Context(), middleware.GetUserIDFromContext(c), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// handlePurchasePlan activates a plan for a captured payment
func (s *APIServer) handlePurchasePlan(c *gin.Context) {
	var req plan.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	activation, err := s.svc.Plans.Purchase(c.Request.Context(), middleware.GetUserIDFromContext(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, activation)
}
