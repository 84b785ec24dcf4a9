package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawStatus represents the status of a withdrawal request
type WithdrawStatus string

const (
	WithdrawStatusPending  WithdrawStatus = "pending"
	WithdrawStatusApproved WithdrawStatus = "approved"
	WithdrawStatusRejected WithdrawStatus = "rejected"
)

// WithdrawRequest is a user's request to cash out withdrawable coins.
// It is created pending and resolved exactly once.
type WithdrawRequest struct {
	ID             uuid.UUID       `json:"request_id" db:"id"`
	UID            string          `json:"uid" db:"uid"`
	RequestedCoins int64           `json:"requested_coins" db:"requested_coins"`
	RequestedINR   decimal.Decimal `json:"requested_inr" db:"requested_inr"`
	FeePct         decimal.Decimal `json:"fee_pct" db:"fee_pct"`
	FinalAmountINR decimal.Decimal `json:"final_amount_inr" db:"final_amount_inr"`
	Status         WithdrawStatus  `json:"status" db:"status"`
	KYCRequired    bool            `json:"kyc_required" db:"kyc_required"`
	ReviewedBy     *string         `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt     *time.Time      `json:"reviewed_at,omitempty" db:"reviewed_at"`
	ReviewNote     *string         `json:"review_note,omitempty" db:"review_note"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// FeeINR returns the platform fee retained on the request
func (w *WithdrawRequest) FeeINR() decimal.Decimal {
	return w.RequestedINR.Sub(w.FinalAmountINR)
}
