package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaskStatus represents the availability of a sponsored task
type TaskStatus string

const (
	TaskStatusActive   TaskStatus = "active"
	TaskStatusInactive TaskStatus = "inactive"
)

// SponsoredTask is an advertiser task catalog entry.
// PlatformSharePct and UserSharePct always sum to 100.
type SponsoredTask struct {
	TaskID           string          `json:"task_id" db:"task_id"`
	Title            string          `json:"title" db:"title"`
	PayoutINR        decimal.Decimal `json:"payout_inr" db:"payout_inr"`
	PlatformSharePct decimal.Decimal `json:"platform_share_pct" db:"platform_share_pct"`
	UserSharePct     decimal.Decimal `json:"user_share_pct" db:"user_share_pct"`
	Status           TaskStatus      `json:"status" db:"status"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// TaskCompletion is the record of one settled completion, keyed by the
// network-supplied external id
type TaskCompletion struct {
	ExternalID      string          `json:"external_id" db:"external_id"`
	UserUID         string          `json:"user_uid" db:"user_uid"`
	TaskID          string          `json:"task_id" db:"task_id"`
	PayoutINR       decimal.Decimal `json:"payout_inr" db:"payout_inr"`
	UserCoins       int64           `json:"user_coins" db:"user_coins"`
	PlatformRevenue decimal.Decimal `json:"platform_revenue" db:"platform_revenue"`
	CompletedAt     time.Time       `json:"completed_at" db:"completed_at"`
}
