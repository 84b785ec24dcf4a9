package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/aimerfeng/Earnzy/internal/config"
	apierrors "github.com/aimerfeng/Earnzy/internal/errors"
	"github.com/aimerfeng/Earnzy/internal/ledger"
	"github.com/aimerfeng/Earnzy/internal/logging"
	"github.com/aimerfeng/Earnzy/internal/models"
	"github.com/aimerfeng/Earnzy/internal/monitoring"
	"github.com/aimerfeng/Earnzy/internal/revenue"
)

// Service errors
var (
	ErrInvalidAmount           = apierrors.NewDomainError(apierrors.KindValidation, apierrors.ErrInvalidAmount, "Requested coins are required")
	ErrBelowMinimum            = apierrors.NewDomainError(apierrors.KindPrecondition, apierrors.ErrBelowMinimum, "Withdrawal amount is below the minimum")
	ErrInsufficientBalance     = apierrors.NewDomainError(apierrors.KindPrecondition, apierrors.ErrInsufficientBalance, "Insufficient withdrawable balance")
	ErrDailyLimit              = apierrors.NewDomainError(apierrors.KindPrecondition, apierrors.ErrRateLimitedDaily, "Only one withdrawal is allowed every 24 hours")
	ErrInsufficientTaskCredits = apierrors.NewDomainError(apierrors.KindPrecondition, apierrors.ErrInsufficientTaskCredits, "Complete more sponsored tasks to withdraw this amount")
	ErrRequestNotFound         = apierrors.NewDomainError(apierrors.KindNotFound, apierrors.ErrRequestNotFound, "Withdrawal request not found")
	ErrAlreadyProcessed        = apierrors.NewDomainError(apierrors.KindConflict, apierrors.ErrAlreadyProcessed, "Withdrawal request already processed")
	ErrDecisionRequired        = apierrors.NewDomainError(apierrors.KindValidation, apierrors.ErrValidationFailed, "approve must be true or false")
)

// PayoutQueue hands approved requests to the external payout step
type PayoutQueue interface {
	Enqueue(ctx context.Context, req *models.WithdrawRequest) error
}

// Service handles the withdrawal lifecycle
type Service struct {
	store  *ledger.Store
	config config.LedgerConfig
	payout PayoutQueue
	now    func() time.Time
}

// NewService creates a new withdrawal service. payout may be nil.
func NewService(store *ledger.Store, cfg config.LedgerConfig, payout PayoutQueue) *Service {
	return &Service{
		store:  store,
		config: cfg,
		payout: payout,
		now:    time.Now,
	}
}

// Quote is the currency breakdown of a withdrawal of some coins
type Quote struct {
	RequestedCoins int64           `json:"requested_coins"`
	RequestedINR   decimal.Decimal `json:"requested_inr"`
	FeePct         decimal.Decimal `json:"fee_pct"`
	FeeINR         decimal.Decimal `json:"fee_inr"`
	FinalAmountINR decimal.Decimal `json:"final_amount_inr"`
	RequiredTasks  int64           `json:"required_tasks"`
}

// Quote converts coins to currency and applies the withdrawal fee
func (s *Service) Quote(coins int64) Quote {
	return ComputeQuote(coins, s.config)
}

// ComputeQuote converts coins to currency and applies the withdrawal fee.
// One sponsored task is required per full TaskCreditUnitINR requested.
func ComputeQuote(coins int64, cfg config.LedgerConfig) Quote {
	inr := ledger.CoinsToINR(coins, cfg.CoinRatio)
	final := inr.Mul(decimal.NewFromInt(100).Sub(cfg.WithdrawFeePct)).Div(decimal.NewFromInt(100))
	return Quote{
		RequestedCoins: coins,
		RequestedINR:   inr,
		FeePct:         cfg.WithdrawFeePct,
		FeeINR:         inr.Sub(final),
		FinalAmountINR: final,
		RequiredTasks:  inr.Div(cfg.TaskCreditUnitINR).Floor().IntPart(),
	}
}

// CheckEligibility applies the withdrawal rules, in order, to an account snapshot
func (s *Service) CheckEligibility(acc *models.Account, q Quote, now time.Time) error {
	if acc.Flagged {
		return ledger.ErrAccountFlagged
	}
	if q.RequestedINR.LessThan(s.config.MinWithdrawINR) {
		return ErrBelowMinimum
	}
	if acc.WithdrawableCoins < q.RequestedCoins {
		return ErrInsufficientBalance
	}
	if acc.LastWithdrawTime != nil && now.Sub(*acc.LastWithdrawTime) < s.config.WithdrawCooldown {
		return ErrDailyLimit
	}
	if int64(acc.SponsoredTasksCompleted) < q.RequiredTasks {
		return ErrInsufficientTaskCredits
	}
	return nil
}

// Request debits the coins and records a pending request. Validation and
// the debit run against the same locked account row.
func (s *Service) Request(ctx context.Context, callerUID, uid string, coins int64) (req *models.WithdrawRequest, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(apierrors.KindOf(err))
		}
		monitoring.RecordSettlement("withdraw_request", outcome, time.Since(start))
	}()

	if callerUID != uid {
		return nil, ledger.ErrCallerMismatch
	}
	// Negative amounts fall through to the minimum check
	if coins == 0 {
		return nil, ErrInvalidAmount
	}

	now := s.now().UTC()
	q := s.Quote(coins)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	acc, err := ledger.LockAccount(ctx, tx, uid)
	if err != nil {
		return nil, err
	}
	if err := s.CheckEligibility(acc, q, now); err != nil {
		return nil, err
	}

	var hasOpenOrPaid bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM withdraw_requests WHERE uid = $1 AND status IN ($2, $3)
		)
	`, uid, models.WithdrawStatusApproved, models.WithdrawStatusPending).Scan(&hasOpenOrPaid)
	if err != nil {
		return nil, fmt.Errorf("failed to check withdrawal history: %w", err)
	}

	result, err := tx.Exec(ctx, `
		UPDATE accounts
		SET withdrawable_coins = withdrawable_coins - $1, last_withdraw_time = $2, updated_at = $2
		WHERE uid = $3 AND withdrawable_coins >= $1
	`, coins, now, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to debit account: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, ErrInsufficientBalance
	}

	req = &models.WithdrawRequest{
		ID:             uuid.New(),
		UID:            uid,
		RequestedCoins: coins,
		RequestedINR:   q.RequestedINR,
		FeePct:         q.FeePct,
		FinalAmountINR: q.FinalAmountINR,
		Status:         models.WithdrawStatusPending,
		KYCRequired:    !hasOpenOrPaid || q.RequestedINR.GreaterThanOrEqual(s.config.KYCThresholdINR),
		CreatedAt:      now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO withdraw_requests (id, uid, requested_coins, requested_inr, fee_pct, final_amount_inr,
		                               status, kyc_required, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, req.ID, req.UID, req.RequestedCoins, req.RequestedINR, req.FeePct, req.FinalAmountINR,
		req.Status, req.KYCRequired, req.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create withdrawal request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	monitoring.RecordCoinsDebited(coins)
	logging.LogLedgerEvent(&logging.LedgerEvent{
		Operation: "withdraw_request",
		UID:       uid,
		Reference: req.ID.String(),
		Coins:     -coins,
		AmountINR: req.FinalAmountINR.String(),
		Status:    string(req.Status),
	})

	return req, nil
}

// ResolveRequest is an admin decision on a pending request
type ResolveRequest struct {
	Approve *bool  `json:"approve" binding:"required"`
	Note    string `json:"note"`
}

func (r *ResolveRequest) approved() bool {
	return r.Approve != nil && *r.Approve
}

// Resolve approves or rejects a pending request exactly once. Approval books
// the fee as revenue; rejection refunds the debited coins.
func (s *Service) Resolve(ctx context.Context, adminUID string, requestID uuid.UUID, decision *ResolveRequest) (req *models.WithdrawRequest, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(apierrors.KindOf(err))
		}
		monitoring.RecordSettlement("withdraw_resolve", outcome, time.Since(start))
	}()

	if decision == nil || decision.Approve == nil {
		return nil, ErrDecisionRequired
	}

	now := s.now().UTC()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err = scanRequest(tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM withdraw_requests WHERE id = $1 FOR UPDATE`, requestID))
	if err != nil {
		return nil, err
	}
	if req.Status != models.WithdrawStatusPending {
		return nil, ErrAlreadyProcessed
	}

	req.Status = models.WithdrawStatusRejected
	action := models.AuditWithdrawReject
	if decision.approved() {
		req.Status = models.WithdrawStatusApproved
		action = models.AuditWithdrawApprove
	}
	req.ReviewedBy = &adminUID
	req.ReviewedAt = &now
	if decision.Note != "" {
		req.ReviewNote = &decision.Note
	}

	_, err = tx.Exec(ctx, `
		UPDATE withdraw_requests
		SET status = $1, reviewed_by = $2, reviewed_at = $3, review_note = $4
		WHERE id = $5
	`, req.Status, req.ReviewedBy, req.ReviewedAt, req.ReviewNote, req.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update withdrawal request: %w", err)
	}

	var fee *models.RevenueEntry
	if decision.approved() {
		fee = models.NewRevenueEntry(models.WithdrawFeeMeta{
			RequestID: req.ID,
			UID:       req.UID,
			FeePct:    req.FeePct,
		}, req.FeeINR())
		if err := revenue.Append(ctx, tx, fee, now); err != nil {
			return nil, err
		}
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE accounts SET withdrawable_coins = withdrawable_coins + $1, updated_at = $2 WHERE uid = $3
		`, req.RequestedCoins, now, req.UID)
		if err != nil {
			return nil, fmt.Errorf("failed to refund account: %w", err)
		}
	}

	err = ledger.AppendAudit(ctx, tx, &models.AuditLog{
		Action:    action,
		TargetUID: req.UID,
		AdminUID:  adminUID,
		Reason:    decision.Note,
		CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	event := &logging.LedgerEvent{
		Operation: "withdraw_resolve",
		UID:       req.UID,
		Reference: req.ID.String(),
		AmountINR: req.FinalAmountINR.String(),
		Status:    string(req.Status),
	}
	if decision.approved() {
		revenue.Booked(fee)
		s.dispatchPayout(ctx, req)
	} else {
		event.Coins = req.RequestedCoins
		monitoring.RecordCoinsRefunded(req.RequestedCoins)
	}
	logging.LogLedgerEvent(event)

	return req, nil
}

// dispatchPayout runs after commit; a failure here never undoes the approval
func (s *Service) dispatchPayout(ctx context.Context, req *models.WithdrawRequest) {
	if s.payout == nil {
		return
	}
	if err := s.payout.Enqueue(ctx, req); err != nil {
		log.Error().Err(err).
			Str("request_id", req.ID.String()).
			Str("uid", req.UID).
			Msg("Failed to enqueue payout for approved withdrawal")
	}
}

const requestColumns = `id, uid, requested_coins, requested_inr, fee_pct, final_amount_inr, status,
	kyc_required, reviewed_by, reviewed_at, review_note, created_at`

func scanRequest(row pgx.Row) (*models.WithdrawRequest, error) {
	var w models.WithdrawRequest
	err := row.Scan(
		&w.ID, &w.UID, &w.RequestedCoins, &w.RequestedINR, &w.FeePct, &w.FinalAmountINR, &w.Status,
		&w.KYCRequired, &w.ReviewedBy, &w.ReviewedAt, &w.ReviewNote, &w.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get withdrawal request: %w", err)
	}
	return &w, nil
}

// GetRequest retrieves a withdrawal request by ID
func (s *Service) GetRequest(ctx context.Context, requestID uuid.UUID) (*models.WithdrawRequest, error) {
	return scanRequest(s.store.Pool().QueryRow(ctx, `SELECT `+requestColumns+` FROM withdraw_requests WHERE id = $1`, requestID))
}

// HistoryResponse is one page of withdrawal requests
type HistoryResponse struct {
	Requests   []*models.WithdrawRequest `json:"requests"`
	Total      int                       `json:"total"`
	Page       int                       `json:"page"`
	PageSize   int                       `json:"page_size"`
	TotalPages int                       `json:"total_pages"`
}

// ListForUser returns a user's requests, newest first
func (s *Service) ListForUser(ctx context.Context, uid string, page, pageSize int) (*HistoryResponse, error) {
	return s.list(ctx, "uid = $1", uid, "created_at DESC", page, pageSize)
}

// ListPending returns the review queue, oldest first
func (s *Service) ListPending(ctx context.Context, page, pageSize int) (*HistoryResponse, error) {
	return s.list(ctx, "status = $1", string(models.WithdrawStatusPending), "created_at ASC", page, pageSize)
}

func (s *Service) list(ctx context.Context, where string, arg any, order string, page, pageSize int) (*HistoryResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	var total int
	err := s.store.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM withdraw_requests WHERE `+where, arg).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count withdrawal requests: %w", err)
	}

	rows, err := s.store.Pool().Query(ctx, `
		SELECT `+requestColumns+`
		FROM withdraw_requests
		WHERE `+where+`
		ORDER BY `+order+`
		LIMIT $2 OFFSET $3
	`, arg, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawal requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*models.WithdrawRequest, 0, pageSize)
	for rows.Next() {
		w, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read withdrawal requests: %w", err)
	}

	return &HistoryResponse{
		Requests:   requests,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}
