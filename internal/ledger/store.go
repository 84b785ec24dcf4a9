// Package ledger is the balance store: row-locked access to user accounts
// inside a single transaction per settlement operation.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aimerfeng/Earnzy/internal/database"
	"github.com/aimerfeng/Earnzy/internal/models"
)

// Querier is satisfied by both the pool and a transaction
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store gives settlement operations transactional access to accounts
type Store struct {
	db *database.DB
}

// NewStore creates a balance store
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Pool exposes the underlying pool for read-only queries
func (s *Store) Pool() *pgxpool.Pool {
	return s.db.Pool
}

// InTx runs fn inside one transaction. Nothing fn wrote is visible unless it returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return s.db.InTx(ctx, fn)
}

const accountColumns = `uid, plan, plan_expires_at, coins, withdrawable_coins, pending_referral_coins,
	tasks_completed, sponsored_tasks_completed, referrals_total, referrals_validated, referrals_pending,
	flagged, last_withdraw_time, created_at, updated_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.UID, &a.Plan, &a.PlanExpiresAt, &a.Coins, &a.WithdrawableCoins, &a.PendingReferralCoins,
		&a.TasksCompleted, &a.SponsoredTasksCompleted,
		&a.Referrals.Total, &a.Referrals.Validated, &a.Referrals.Pending,
		&a.Flagged, &a.LastWithdrawTime, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// GetAccount reads an account without locking it
func GetAccount(ctx context.Context, q Querier, uid string) (*models.Account, error) {
	return scanAccount(q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE uid = $1`, uid))
}

// GetAccount reads an account snapshot
func (s *Store) GetAccount(ctx context.Context, uid string) (*models.Account, error) {
	return GetAccount(ctx, s.db.Pool, uid)
}

// LockAccount reads an account and holds its row lock until tx ends.
// Concurrent settlements on the same account serialize here.
func LockAccount(ctx context.Context, tx pgx.Tx, uid string) (*models.Account, error) {
	return scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE uid = $1 FOR UPDATE`, uid))
}

// LockActiveAccount locks an account and rejects it if flagged
func LockActiveAccount(ctx context.Context, tx pgx.Tx, uid string) (*models.Account, error) {
	acc, err := LockAccount(ctx, tx, uid)
	if err != nil {
		return nil, err
	}
	if acc.Flagged {
		return nil, ErrAccountFlagged
	}
	return acc, nil
}

// CreateAccount inserts an account with its initial balances.
// Existing accounts are left untouched and reported with created=false.
func (s *Store) CreateAccount(ctx context.Context, a *models.Account) (bool, error) {
	if a.Plan == "" {
		a.Plan = models.PlanFree
	}
	tag, err := s.db.Pool.Exec(ctx, `
		INSERT INTO accounts (uid, plan, plan_expires_at, coins, withdrawable_coins, pending_referral_coins,
			tasks_completed, sponsored_tasks_completed, flagged, last_withdraw_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (uid) DO NOTHING
	`, a.UID, a.Plan, a.PlanExpiresAt, a.Coins, a.WithdrawableCoins, a.PendingReferralCoins,
		a.TasksCompleted, a.SponsoredTasksCompleted, a.Flagged, a.LastWithdrawTime)
	if err != nil {
		return false, fmt.Errorf("create account: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AppendAudit records an admin action in the caller's transaction
func AppendAudit(ctx context.Context, q Querier, entry *models.AuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO audit_logs (id, action, target_uid, admin_uid, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.Action, entry.TargetUID, entry.AdminUID, entry.Reason, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

// CoinsToINR converts coins to currency units at ratio coins per unit
func CoinsToINR(coins, ratio int64) decimal.Decimal {
	return decimal.NewFromInt(coins).Div(decimal.NewFromInt(ratio))
}

// INRToCoins converts currency units to whole coins, rounding half away from zero
func INRToCoins(amount decimal.Decimal, ratio int64) int64 {
	return amount.Mul(decimal.NewFromInt(ratio)).Round(0).IntPart()
}

// Begin starts a settlement transaction. Callers defer Rollback and Commit explicitly.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
}
