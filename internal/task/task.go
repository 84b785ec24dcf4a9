// Package task settles externally verified sponsored task completions.
package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/aimerfeng/Earnzy/internal/config"
	apierrors "github.com/aimerfeng/Earnzy/internal/errors"
	"github.com/aimerfeng/Earnzy/internal/fraud"
	"github.com/aimerfeng/Earnzy/internal/ledger"
	"github.com/aimerfeng/Earnzy/internal/logging"
	"github.com/aimerfeng/Earnzy/internal/models"
	"github.com/aimerfeng/Earnzy/internal/monitoring"
	"github.com/aimerfeng/Earnzy/internal/revenue"
)

// Service errors
var (
	ErrTaskNotFound        = apierrors.NewDomainError(apierrors.KindNotFound, apierrors.ErrTaskNotFound, "Sponsored task not found")
	ErrTaskInactive        = apierrors.NewDomainError(apierrors.KindPrecondition, apierrors.ErrTaskInactive, "Sponsored task is not active")
	ErrDuplicateCompletion = apierrors.NewDomainError(apierrors.KindConflict, apierrors.ErrDuplicateCompletion, "Task completion already settled")
	ErrInvalidPayout       = apierrors.NewDomainError(apierrors.KindValidation, apierrors.ErrInvalidAmount, "Payout must be greater than zero")
	ErrMissingFields       = apierrors.NewDomainError(apierrors.KindValidation, apierrors.ErrInvalidRequest, "user_uid, task_id and external_id are required")
	ErrInvalidShares       = apierrors.NewDomainError(apierrors.KindValidation, apierrors.ErrInvalidRequest, "Platform and user shares must sum to 100")
	ErrPayoutTooLarge      = apierrors.NewDomainError(apierrors.KindValidation, apierrors.ErrInvalidAmount, "Payout exceeds the per-completion ceiling")
)

var hundred = decimal.NewFromInt(100)

// MaxPayoutINR caps a single task payout so the coin conversion stays well
// inside int64.
var MaxPayoutINR = decimal.NewFromInt(1_000_000)

func checkPayout(payout decimal.Decimal) error {
	if !payout.IsPositive() {
		return ErrInvalidPayout
	}
	if payout.GreaterThan(MaxPayoutINR) {
		return ErrPayoutTooLarge
	}
	return nil
}

// Split is how one payout divides between the platform and the user
type Split struct {
	PlatformShare decimal.Decimal
	UserShare     decimal.Decimal
	UserCoins     int64
}

// ComputeSplit divides payout by the task's share percentages.
// The user's share is converted to whole coins at coinRatio coins per unit.
func ComputeSplit(payout, platformPct, userPct decimal.Decimal, coinRatio int64) Split {
	userShare := payout.Mul(userPct).Div(hundred)
	return Split{
		PlatformShare: payout.Mul(platformPct).Div(hundred),
		UserShare:     userShare,
		UserCoins:     ledger.INRToCoins(userShare, coinRatio),
	}
}

// Completion is a task network callback
type Completion struct {
	UserUID    string          `json:"userUid" binding:"required"`
	TaskID     string          `json:"taskId" binding:"required"`
	ExternalID string          `json:"externalId" binding:"required"`
	PayoutINR  decimal.Decimal `json:"payout_inr" binding:"required"`
}

// Result is what a settled completion credited
type Result struct {
	ExternalID        string          `json:"external_id"`
	UserUID           string          `json:"user_uid"`
	TaskID            string          `json:"task_id"`
	CreditedCoins     int64           `json:"credited_coins"`
	PlatformRevenue   decimal.Decimal `json:"platform_revenue"`
	WithdrawableCoins int64           `json:"withdrawable_coins"`
}

// Service handles sponsored task settlement
type Service struct {
	store     *ledger.Store
	guard     *fraud.Guard
	coinRatio int64
	now       func() time.Time
}

// NewService creates a new task settlement service
func NewService(store *ledger.Store, guard *fraud.Guard, cfg config.LedgerConfig) *Service {
	return &Service{
		store:     store,
		guard:     guard,
		coinRatio: cfg.CoinRatio,
		now:       time.Now,
	}
}

// Settle credits a user for one completion. The completion record keyed by
// the external id, the burst counter, the balance credit and the revenue
// entry commit together or not at all.
func (s *Service) Settle(ctx context.Context, c *Completion) (result *Result, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(apierrors.KindOf(err))
		}
		monitoring.RecordSettlement("task_settlement", outcome, time.Since(start))
	}()

	if c.UserUID == "" || c.TaskID == "" || c.ExternalID == "" {
		return nil, ErrMissingFields
	}
	if err := checkPayout(c.PayoutINR); err != nil {
		return nil, err
	}

	now := s.now().UTC()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	task, err := lockTask(ctx, tx, c.TaskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusActive {
		return nil, ErrTaskInactive
	}

	if _, err := ledger.LockActiveAccount(ctx, tx, c.UserUID); err != nil {
		return nil, err
	}

	split := ComputeSplit(c.PayoutINR, task.PlatformSharePct, task.UserSharePct, s.coinRatio)

	// The primary key on external_id is the idempotency gate.
	tag, err := tx.Exec(ctx, `
		INSERT INTO task_completions (external_id, user_uid, task_id, payout_inr, user_coins, platform_revenue, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_id) DO NOTHING
	`, c.ExternalID, c.UserUID, c.TaskID, c.PayoutINR, split.UserCoins, split.PlatformShare, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record completion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		monitoring.RecordDuplicateCompletion()
		return nil, ErrDuplicateCompletion
	}

	if _, err := s.guard.Hit(ctx, tx, c.UserUID, now); err != nil {
		return nil, err
	}

	var withdrawable int64
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET coins = coins + $1,
		    withdrawable_coins = withdrawable_coins + $1,
		    tasks_completed = tasks_completed + 1,
		    sponsored_tasks_completed = sponsored_tasks_completed + 1,
		    updated_at = $2
		WHERE uid = $3
		RETURNING withdrawable_coins
	`, split.UserCoins, now, c.UserUID).Scan(&withdrawable)
	if err != nil {
		return nil, fmt.Errorf("failed to credit account: %w", err)
	}

	entry := models.NewRevenueEntry(models.TaskRevenueMeta{
		TaskID:     c.TaskID,
		ExternalID: c.ExternalID,
		UserUID:    c.UserUID,
		PayoutINR:  c.PayoutINR,
	}, split.PlatformShare)
	if err := revenue.Append(ctx, tx, entry, now); err != nil {
		if errors.Is(err, revenue.ErrDuplicateEntry) {
			return nil, ErrDuplicateCompletion
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	monitoring.RecordCoinsCredited("sponsored_task", split.UserCoins)
	revenue.Booked(entry)
	logging.LogLedgerEvent(&logging.LedgerEvent{
		Operation: "task_settlement",
		UID:       c.UserUID,
		Reference: c.ExternalID,
		Coins:     split.UserCoins,
		AmountINR: split.PlatformShare.String(),
		Status:    "credited",
	})

	return &Result{
		ExternalID:        c.ExternalID,
		UserUID:           c.UserUID,
		TaskID:            c.TaskID,
		CreditedCoins:     split.UserCoins,
		PlatformRevenue:   split.PlatformShare,
		WithdrawableCoins: withdrawable,
	}, nil
}

// lockTask reads a task and blocks status changes until tx ends
func lockTask(ctx context.Context, tx pgx.Tx, taskID string) (*models.SponsoredTask, error) {
	var t models.SponsoredTask
	err := tx.QueryRow(ctx, `
		SELECT task_id, title, payout_inr, platform_share_pct, user_share_pct, status, created_at
		FROM sponsored_tasks WHERE task_id = $1 FOR SHARE
	`, taskID).Scan(&t.TaskID, &t.Title, &t.PayoutINR, &t.PlatformSharePct, &t.UserSharePct, &t.Status, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &t, nil
}

// UpsertTask creates or replaces a catalog entry
func (s *Service) UpsertTask(ctx context.Context, t *models.SponsoredTask) error {
	if err := checkPayout(t.PayoutINR); err != nil {
		return err
	}
	if !t.PlatformSharePct.Add(t.UserSharePct).Equal(hundred) {
		return ErrInvalidShares
	}
	if t.Status == "" {
		t.Status = models.TaskStatusActive
	}

	_, err := s.store.Pool().Exec(ctx, `
		INSERT INTO sponsored_tasks (task_id, title, payout_inr, platform_share_pct, user_share_pct, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id) DO UPDATE
		SET title = EXCLUDED.title, status = EXCLUDED.status
	`, t.TaskID, t.Title, t.PayoutINR, t.PlatformSharePct, t.UserSharePct, t.Status)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}

	log.Debug().Str("task_id", t.TaskID).Str("status", string(t.Status)).Msg("Sponsored task saved")
	return nil
}
