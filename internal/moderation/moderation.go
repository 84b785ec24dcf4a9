package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	apierrors "github.com/aimerfeng/Earnzy/internal/errors"
	"github.com/aimerfeng/Earnzy/internal/ledger"
	"github.com/aimerfeng/Earnzy/internal/logging"
	"github.com/aimerfeng/Earnzy/internal/models"
)

// ErrReasonRequired is returned when a flag has no reason
var ErrReasonRequired = apierrors.NewDomainError(apierrors.KindValidation, apierrors.ErrValidationFailed, "A reason is required")

const maxAuditPage = 200

// Service handles admin moderation
type Service struct {
	store *ledger.Store
	now   func() time.Time
}

// NewService creates a new moderation service
func NewService(store *ledger.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// FlagResult reports the account state after a flag
type FlagResult struct {
	UID            string    `json:"uid"`
	Flagged        bool      `json:"flagged"`
	AlreadyFlagged bool      `json:"already_flagged"`
	AuditID        string    `json:"audit_id"`
	FlaggedAt      time.Time `json:"flagged_at"`
}

// FlagUser blocks a user from further settlement. Flagging an already
// flagged user changes nothing but is still audited.
func (s *Service) FlagUser(ctx context.Context, adminUID, uid, reason string) (*FlagResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	now := s.now().UTC()
	audit := &models.AuditLog{
		Action:    models.AuditUserFlagged,
		TargetUID: uid,
		AdminUID:  adminUID,
		Reason:    reason,
		CreatedAt: now,
	}

	var wasFlagged bool
	err := s.store.InTx(ctx, func(tx pgx.Tx) error {
		acc, err := ledger.LockAccount(ctx, tx, uid)
		if err != nil {
			return err
		}
		wasFlagged = acc.Flagged

		if !acc.Flagged {
			_, err = tx.Exec(ctx, `UPDATE accounts SET flagged = TRUE, updated_at = $1 WHERE uid = $2`, now, uid)
			if err != nil {
				return fmt.Errorf("failed to flag account: %w", err)
			}
		}
		return ledger.AppendAudit(ctx, tx, audit)
	})
	if err != nil {
		return nil, err
	}

	logging.LogSecurityEvent("user_flagged", uid, "", fmt.Sprintf("admin=%s reason=%s", adminUID, reason))

	return &FlagResult{
		UID:            uid,
		Flagged:        true,
		AlreadyFlagged: wasFlagged,
		AuditID:        audit.ID.String(),
		FlaggedAt:      now,
	}, nil
}

// ListAuditLogs returns the newest audit entries targeting uid
func (s *Service) ListAuditLogs(ctx context.Context, uid string, limit int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > maxAuditPage {
		limit = 50
	}

	rows, err := s.store.Pool().Query(ctx, `
		SELECT id, action, target_uid, admin_uid, reason, created_at
		FROM audit_logs
		WHERE target_uid = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, uid, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.Action, &l.TargetUID, &l.AdminUID, &l.Reason, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
