// Package referral records referral rewards and matures them into
// withdrawable balance once the referee has been active enough.
package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/aimerfeng/Earnzy/internal/config"
	apierrors "github.com/aimerfeng/Earnzy/internal/errors"
	"github.com/aimerfeng/Earnzy/internal/ledger"
	"github.com/aimerfeng/Earnzy/internal/logging"
	"github.com/aimerfeng/Earnzy/internal/models"
	"github.com/aimerfeng/Earnzy/internal/monitoring"
)

// Service errors
var (
	ErrUnknownType     = apierrors.NewDomainError(apierrors.KindValidation, apierrors.ErrInvalidRequest, "Unknown referral type")
	ErrSelfReferral    = apierrors.NewDomainError(apierrors.KindValidation, apierrors.ErrSelfReferral, "A user cannot refer themselves")
	ErrAlreadyReferred = apierrors.NewDomainError(apierrors.KindConflict, apierrors.ErrAlreadyReferred, "Referee already has a referrer")
	ErrSweepRunning    = apierrors.NewDomainError(apierrors.KindConflict, apierrors.ErrSweepRunning, "A referral sweep is already running")
	ErrEventNotFound   = apierrors.NewDomainError(apierrors.KindNotFound, apierrors.ErrNotFound, "Referral event not found")

	errPendingShortfall = errors.New("referrer pending referral coins below event amount")
)

// Maturity rules
const (
	MinRefereeTasks = 3
	PaidToPaidHold  = 7 * 24 * time.Hour
)

// Matured reports whether a referral reward may be released at now
func Matured(t models.ReferralType, createdAt time.Time, refereeSponsoredTasks int, now time.Time) bool {
	if refereeSponsoredTasks < MinRefereeTasks {
		return false
	}
	switch t {
	case models.ReferralFreeToFree, models.ReferralFreeToPaid:
		return true
	case models.ReferralPaidToPaid:
		return now.Sub(createdAt) >= PaidToPaidHold
	}
	return false
}

// Service handles referral settlement
type Service struct {
	store *ledger.Store
	cfg   config.ReferralConfig
	now   func() time.Time
}

// NewService creates a new referral service
func NewService(store *ledger.Store, cfg config.ReferralConfig) *Service {
	return &Service{store: store, cfg: cfg, now: time.Now}
}

// RecordRequest links a new user to the user who referred them
type RecordRequest struct {
	ReferrerUID string              `json:"referrer_uid" binding:"required"`
	RefereeUID  string              `json:"referee_uid" binding:"required"`
	Type        models.ReferralType `json:"type" binding:"required"`
}

// Record creates a referral event and adds its reward to the referrer's
// pending balance. A referee can be referred only once.
func (s *Service) Record(ctx context.Context, req *RecordRequest) (*models.ReferralEvent, error) {
	amount, ok := models.ReferralReward(req.Type)
	if !ok {
		return nil, ErrUnknownType
	}
	if req.ReferrerUID == req.RefereeUID {
		return nil, ErrSelfReferral
	}

	now := s.now().UTC()
	event := &models.ReferralEvent{
		ID:                 uuid.New(),
		ReferrerUID:        req.ReferrerUID,
		RefereeUID:         req.RefereeUID,
		Type:               req.Type,
		AmountCoinsPending: amount,
		CreatedAt:          now,
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := ledger.LockAccount(ctx, tx, req.ReferrerUID); err != nil {
		return nil, err
	}
	if _, err := ledger.GetAccount(ctx, tx, req.RefereeUID); err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO referral_events (id, referrer_uid, referee_uid, type, amount_coins_pending, validated, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		ON CONFLICT (referee_uid) DO NOTHING
	`, event.ID, event.ReferrerUID, event.RefereeUID, event.Type, event.AmountCoinsPending, event.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create referral event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAlreadyReferred
	}

	_, err = tx.Exec(ctx, `
		UPDATE accounts
		SET pending_referral_coins = pending_referral_coins + $1,
		    referrals_total = referrals_total + 1,
		    referrals_pending = referrals_pending + 1,
		    updated_at = $2
		WHERE uid = $3
	`, amount, now, req.ReferrerUID)
	if err != nil {
		return nil, fmt.Errorf("failed to credit pending referral coins: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logging.LogLedgerEvent(&logging.LedgerEvent{
		Operation: "referral_record",
		UID:       req.ReferrerUID,
		Reference: event.ID.String(),
		Coins:     amount,
		Status:    "pending",
	})

	return event, nil
}

// SweepResult summarizes one pass over unvalidated referral events
type SweepResult struct {
	Scanned      int       `json:"scanned"`
	Matured      int       `json:"matured_count"`
	MaturedCoins int64     `json:"matured_coins"`
	NotYet       int       `json:"not_yet_matured"`
	Stale        int       `json:"stale"`
	Failed       int       `json:"failed"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

type candidate struct {
	id               uuid.UUID
	refType          models.ReferralType
	createdAt        time.Time
	refereeSponsored int
}

// Sweep matures every eligible unvalidated event. Each event settles in its
// own transaction, so an interrupted sweep only delays the remainder.
// Unmatured events older than the stale age are counted as stale.
func (s *Service) Sweep(ctx context.Context) (*SweepResult, error) {
	now := s.now().UTC()
	result := &SweepResult{StartedAt: now}

	batch := s.cfg.BatchSize
	if batch <= 0 {
		batch = 200
	}

	cursor := uuid.Nil
	for {
		candidates, err := s.loadBatch(ctx, cursor, batch)
		if err != nil {
			return result, err
		}
		if len(candidates) == 0 {
			break
		}
		cursor = candidates[len(candidates)-1].id

		for _, c := range candidates {
			result.Scanned++

			if !Matured(c.refType, c.createdAt, c.refereeSponsored, now) {
				if s.cfg.StaleAfter > 0 && now.Sub(c.createdAt) > s.cfg.StaleAfter {
					result.Stale++
				} else {
					result.NotYet++
				}
				continue
			}

			amount, err := s.mature(ctx, c.id, now)
			if err != nil {
				result.Failed++
				log.Error().Err(err).Str("ref_id", c.id.String()).Msg("Failed to mature referral")
				continue
			}
			if amount > 0 {
				result.Matured++
				result.MaturedCoins += amount
			}
		}

		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	result.FinishedAt = s.now().UTC()
	return result, nil
}

func (s *Service) loadBatch(ctx context.Context, after uuid.UUID, limit int) ([]candidate, error) {
	rows, err := s.store.Pool().Query(ctx, `
		SELECT e.id, e.type, e.created_at, a.sponsored_tasks_completed
		FROM referral_events e
		JOIN accounts a ON a.uid = e.referee_uid
		WHERE NOT e.validated AND e.id > $1
		ORDER BY e.id
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query referral events: %w", err)
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.refType, &c.createdAt, &c.refereeSponsored); err != nil {
			return nil, fmt.Errorf("failed to scan referral event: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// mature releases one event's reward. It returns 0 when the event was
// already validated or no longer qualifies once locked.
func (s *Service) mature(ctx context.Context, id uuid.UUID, now time.Time) (int64, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var e models.ReferralEvent
	err = tx.QueryRow(ctx, `
		SELECT id, referrer_uid, referee_uid, type, amount_coins_pending, validated, created_at
		FROM referral_events WHERE id = $1 FOR UPDATE
	`, id).Scan(&e.ID, &e.ReferrerUID, &e.RefereeUID, &e.Type, &e.AmountCoinsPending, &e.Validated, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to lock referral event: %w", err)
	}
	if e.Validated {
		return 0, nil
	}

	referee, err := ledger.GetAccount(ctx, tx, e.RefereeUID)
	if err != nil {
		return 0, err
	}
	if !Matured(e.Type, e.CreatedAt, referee.SponsoredTasksCompleted, now) {
		return 0, nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET pending_referral_coins = pending_referral_coins - $1,
		    withdrawable_coins = withdrawable_coins + $1,
		    referrals_pending = GREATEST(referrals_pending - 1, 0),
		    referrals_validated = referrals_validated + 1,
		    updated_at = $2
		WHERE uid = $3 AND pending_referral_coins >= $1
	`, e.AmountCoinsPending, now, e.ReferrerUID)
	if err != nil {
		return 0, fmt.Errorf("failed to release referral coins: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("referrer %s: %w", e.ReferrerUID, errPendingShortfall)
	}

	_, err = tx.Exec(ctx, `
		UPDATE referral_events SET validated = TRUE, validated_at = $1 WHERE id = $2
	`, now, e.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark referral validated: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	monitoring.RecordCoinsCredited("referral", e.AmountCoinsPending)
	logging.LogLedgerEvent(&logging.LedgerEvent{
		Operation: "referral_mature",
		UID:       e.ReferrerUID,
		Reference: e.ID.String(),
		Coins:     e.AmountCoinsPending,
		Status:    "validated",
	})

	return e.AmountCoinsPending, nil
}

// GetEvent retrieves a referral event by ID
func (s *Service) GetEvent(ctx context.Context, id uuid.UUID) (*models.ReferralEvent, error) {
	var e models.ReferralEvent
	err := s.store.Pool().QueryRow(ctx, `
		SELECT id, referrer_uid, referee_uid, type, amount_coins_pending, validated, validated_at, created_at
		FROM referral_events WHERE id = $1
	`, id).Scan(&e.ID, &e.ReferrerUID, &e.RefereeUID, &e.Type, &e.AmountCoinsPending, &e.Validated, &e.ValidatedAt, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get referral event: %w", err)
	}
	return &e, nil
}
