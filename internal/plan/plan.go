// Package plan activates paid subscription tiers after a captured payment.
package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aimerfeng/Earnzy/internal/config"
	apierrors "github.com/aimerfeng/Earnzy/internal/errors"
	"github.com/aimerfeng/Earnzy/internal/ledger"
	"github.com/aimerfeng/Earnzy/internal/logging"
	"github.com/aimerfeng/Earnzy/internal/models"
	"github.com/aimerfeng/Earnzy/internal/payment"
	"github.com/aimerfeng/Earnzy/internal/revenue"
)

// Service errors
var (
	ErrInvalidPlan = apierrors.NewDomainError(apierrors.KindValidation, apierrors.ErrInvalidPlan, "Unknown plan")
	ErrMissingRef  = apierrors.NewDomainError(apierrors.KindValidation, apierrors.ErrInvalidRequest, "Payment reference is required")
	ErrPaymentUsed = apierrors.NewDomainError(apierrors.KindConflict, apierrors.ErrDuplicateEntry, "Payment reference already redeemed")
)

// Verifier confirms a payment was captured for an exact amount
type Verifier interface {
	VerifyCapture(ctx context.Context, paymentRef string, amountPaise int64) (*payment.Payment, error)
}

// Service handles plan purchases
type Service struct {
	store    *ledger.Store
	verifier Verifier
	duration time.Duration
	now      func() time.Time
}

// NewService creates a new plan service
func NewService(store *ledger.Store, verifier Verifier, cfg config.LedgerConfig) *Service {
	return &Service{
		store:    store,
		verifier: verifier,
		duration: cfg.PlanDuration,
		now:      time.Now,
	}
}

// PurchaseRequest is the body of a plan purchase confirmation
type PurchaseRequest struct {
	UID        string      `json:"uid" binding:"required"`
	PlanID     models.Plan `json:"plan_id" binding:"required"`
	PaymentRef string      `json:"payment_ref" binding:"required"`
}

// Catalog lists the purchasable tiers
func (s *Service) Catalog() []models.PlanOffer {
	out := make([]models.PlanOffer, len(models.PlanCatalog))
	copy(out, models.PlanCatalog)
	return out
}

// Purchase verifies the payment with the gateway, then sets the plan and
// books the revenue in one transaction. The gateway call happens before
// any row is locked.
func (s *Service) Purchase(ctx context.Context, callerUID string, req *PurchaseRequest) (*models.PlanActivation, error) {
	if callerUID != req.UID {
		return nil, ledger.ErrCallerMismatch
	}
	offer, ok := models.LookupPlan(req.PlanID)
	if !ok {
		return nil, ErrInvalidPlan
	}
	if req.PaymentRef == "" {
		return nil, ErrMissingRef
	}

	if _, err := s.verifier.VerifyCapture(ctx, req.PaymentRef, offer.PricePaise()); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.duration)
	entry := models.NewRevenueEntry(models.PlanPurchaseMeta{
		PlanID:     offer.ID,
		PaymentRef: req.PaymentRef,
		UID:        req.UID,
	}, offer.PriceINR)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := ledger.LockAccount(ctx, tx, req.UID); err != nil {
		return nil, err
	}

	if err := revenue.Append(ctx, tx, entry, now); err != nil {
		if errors.Is(err, revenue.ErrDuplicateEntry) {
			return nil, ErrPaymentUsed
		}
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE accounts SET plan = $1, plan_expires_at = $2, updated_at = $3 WHERE uid = $4
	`, offer.ID, expiresAt, now, req.UID)
	if err != nil {
		return nil, fmt.Errorf("failed to activate plan: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	revenue.Booked(entry)
	logging.LogLedgerEvent(&logging.LedgerEvent{
		Operation: "plan_purchase",
		UID:       req.UID,
		Reference: req.PaymentRef,
		AmountINR: offer.PriceINR.StringFixed(2),
		Status:    string(offer.ID),
	})

	return &models.PlanActivation{
		UID:       req.UID,
		Plan:      offer.ID,
		ExpiresAt: expiresAt,
		EntryID:   entry.EntryID,
	}, nil
}
