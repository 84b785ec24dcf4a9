// Package revenue is the append-only record of platform income.
package revenue

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	apierrors "github.com/aimerfeng/Earnzy/internal/errors"
	"github.com/aimerfeng/Earnzy/internal/ledger"
	"github.com/aimerfeng/Earnzy/internal/models"
	"github.com/aimerfeng/Earnzy/internal/monitoring"
)

// Service errors
var (
	ErrDuplicateEntry = apierrors.NewDomainError(apierrors.KindConflict, apierrors.ErrDuplicateEntry, "Revenue entry already recorded")
	ErrInvalidMonth   = apierrors.NewDomainError(apierrors.KindValidation, apierrors.ErrInvalidRequest, "Month must be formatted as YYYY-MM")
	ErrInvalidSource  = apierrors.NewDomainError(apierrors.KindValidation, apierrors.ErrInvalidRequest, "Ad source must be a lowercase network name")
	ErrInvalidAmount  = apierrors.NewDomainError(apierrors.KindValidation, apierrors.ErrInvalidAmount, "Amount must not be negative")
	ErrInvalidPeriod  = apierrors.NewDomainError(apierrors.KindValidation, apierrors.ErrInvalidRequest, "Period end must be after its start")
)

var adSourcePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Append records an entry in the caller's transaction.
// An entry id that already exists fails with ErrDuplicateEntry and writes nothing.
func Append(ctx context.Context, q ledger.Querier, entry *models.RevenueEntry, at time.Time) error {
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("encode revenue meta: %w", err)
	}

	tag, err := q.Exec(ctx, `
		INSERT INTO revenue_entries (entry_id, source, amount_inr, meta, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entry_id) DO NOTHING
	`, entry.EntryID, entry.Source, entry.AmountINR, meta, at)
	if err != nil {
		return fmt.Errorf("append revenue entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateEntry
	}

	entry.CreatedAt = at
	return nil
}

// Service handles admin revenue operations
type Service struct {
	store *ledger.Store
	now   func() time.Time
}

// NewService creates a new revenue service
func NewService(store *ledger.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// AdRevenueRequest reports one month of ad network revenue
type AdRevenueRequest struct {
	Month     string          `json:"month" binding:"required"`
	AmountINR decimal.Decimal `json:"amount_inr" binding:"required"`
	Source    string          `json:"source" binding:"required"`
}

// SyncAdRevenue books a month of ad revenue. Re-syncing the same month and
// source is a conflict, not an update.
func (s *Service) SyncAdRevenue(ctx context.Context, adminUID string, req *AdRevenueRequest) (*models.RevenueEntry, error) {
	if _, err := time.Parse("2006-01", req.Month); err != nil {
		return nil, ErrInvalidMonth
	}
	if !adSourcePattern.MatchString(req.Source) {
		return nil, ErrInvalidSource
	}
	if req.AmountINR.IsNegative() {
		return nil, ErrInvalidAmount
	}

	entry := models.NewRevenueEntry(models.AdRevenueMeta{Month: req.Month, Network: req.Source}, req.AmountINR)
	now := s.now().UTC()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := Append(ctx, tx, entry, now); err != nil {
		return nil, err
	}

	err = ledger.AppendAudit(ctx, tx, &models.AuditLog{
		Action:    models.AuditAdRevenueSynced,
		TargetUID: entry.EntryID,
		AdminUID:  adminUID,
		Reason:    fmt.Sprintf("%s INR from %s for %s", req.AmountINR.StringFixed(2), req.Source, req.Month),
		CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	Booked(entry)
	log.Info().Str("entry_id", entry.EntryID).Str("amount_inr", entry.AmountINR.String()).Msg("Ad revenue synced")

	return entry, nil
}

// Booked records metrics for a committed entry
func Booked(entry *models.RevenueEntry) {
	monitoring.RecordRevenue(string(entry.Source), entry.AmountINR.InexactFloat64())
}

// Summary totals revenue per source for entries created in [from, to)
func (s *Service) Summary(ctx context.Context, from, to time.Time) (*models.RevenueSummary, error) {
	if !to.After(from) {
		return nil, ErrInvalidPeriod
	}

	rows, err := s.store.Pool().Query(ctx, `
		SELECT source, COALESCE(SUM(amount_inr), 0)
		FROM revenue_entries
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY source
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query revenue: %w", err)
	}
	defer rows.Close()

	summary := &models.RevenueSummary{
		From:     from,
		To:       to,
		BySource: make(map[models.RevenueSource]decimal.Decimal, len(models.RevenueSources)),
		Total:    decimal.Zero,
	}
	for _, src := range models.RevenueSources {
		summary.BySource[src] = decimal.Zero
	}

	for rows.Next() {
		var (
			src    models.RevenueSource
			amount decimal.Decimal
		)
		if err := rows.Scan(&src, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan revenue: %w", err)
		}
		summary.BySource[src] = amount
		summary.Total = summary.Total.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read revenue: %w", err)
	}

	return summary, nil
}

// ListEntries returns the newest entries, optionally filtered by source
func (s *Service) ListEntries(ctx context.Context, source models.RevenueSource, limit int) ([]*models.RevenueEntry, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}

	var (
		rows pgx.Rows
		err  error
	)
	const query = `SELECT entry_id, source, amount_inr, meta, created_at FROM revenue_entries`
	if source == "" {
		rows, err = s.store.Pool().Query(ctx, query+` ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.store.Pool().Query(ctx, query+` WHERE source = $1 ORDER BY created_at DESC LIMIT $2`, source, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query revenue entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.RevenueEntry, 0)
	for rows.Next() {
		var (
			e   models.RevenueEntry
			raw []byte
		)
		if err := rows.Scan(&e.EntryID, &e.Source, &e.AmountINR, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan revenue entry: %w", err)
		}
		if e.Meta, err = models.DecodeRevenueMeta(e.Source, raw); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
