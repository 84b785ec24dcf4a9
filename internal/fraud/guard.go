// Package fraud throttles task completion bursts per user.
//
// Completions are counted in fixed buckets in the completion_windows table.
// The counter is bumped inside the settlement transaction, so a rolled back
// settlement does not count.
package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aimerfeng/Earnzy/internal/config"
	apierrors "github.com/aimerfeng/Earnzy/internal/errors"
	"github.com/aimerfeng/Earnzy/internal/ledger"
	"github.com/aimerfeng/Earnzy/internal/monitoring"
)

// ErrRateLimited is returned when a user exceeds the completion cap for the current window
var ErrRateLimited = apierrors.NewDomainError(apierrors.KindPrecondition, apierrors.ErrRateLimited, "Too many task completions, please slow down")

// retainWindows is how many past buckets survive pruning
const retainWindows = 10

// Guard enforces the per-user completion cap
type Guard struct {
	max    int
	window time.Duration
}

// NewGuard creates a guard from configuration
func NewGuard(cfg config.FraudConfig) *Guard {
	return &Guard{max: cfg.MaxCompletions, window: cfg.Window}
}

// WindowStart returns the start of the bucket containing t
func WindowStart(t time.Time, window time.Duration) time.Time {
	return t.UTC().Truncate(window)
}

// Hit counts one completion for uid in the bucket containing at.
// It returns the bucket count, or ErrRateLimited once the count exceeds the cap.
// The caller's transaction must roll back on error.
func (g *Guard) Hit(ctx context.Context, tx pgx.Tx, uid string, at time.Time) (int, error) {
	var count int
	err := tx.QueryRow(ctx, `
		INSERT INTO completion_windows (uid, window_start, completions)
		VALUES ($1, $2, 1)
		ON CONFLICT (uid, window_start)
		DO UPDATE SET completions = completion_windows.completions + 1
		RETURNING completions
	`, uid, WindowStart(at, g.window)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count completion: %w", err)
	}

	if count > g.max {
		monitoring.RecordRateLimitHit()
		return count, ErrRateLimited
	}
	return count, nil
}

// Prune drops buckets that can no longer affect a decision
func (g *Guard) Prune(ctx context.Context, q ledger.Querier, now time.Time) (int64, error) {
	cutoff := WindowStart(now, g.window).Add(-retainWindows * g.window)
	tag, err := q.Exec(ctx, `DELETE FROM completion_windows WHERE window_start < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune completion windows: %w", err)
	}
	return tag.RowsAffected(), nil
}
