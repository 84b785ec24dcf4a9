package models

import (
	"time"
)

// Plan represents a subscription tier
type Plan string

const (
	PlanFree     Plan = "free"
	PlanSilver   Plan = "silver"
	PlanGold     Plan = "gold"
	PlanPlatinum Plan = "platinum"
)

// IsPaid reports whether the plan is a purchasable tier
func (p Plan) IsPaid() bool {
	return p == PlanSilver || p == PlanGold || p == PlanPlatinum
}

// ReferralCounters tracks a referrer's referral relationships
type ReferralCounters struct {
	Total     int `json:"total" db:"referrals_total"`
	Validated int `json:"validated" db:"referrals_validated"`
	Pending   int `json:"pending" db:"referrals_pending"`
}

// Account is a user's balance record.
// WithdrawableCoins and PendingReferralCoins are never negative.
type Account struct {
	UID                     string           `json:"uid" db:"uid"`
	Plan                    Plan             `json:"plan" db:"plan"`
	PlanExpiresAt           *time.Time       `json:"plan_expires_at,omitempty" db:"plan_expires_at"`
	Coins                   int64            `json:"coins" db:"coins"`
	WithdrawableCoins       int64            `json:"withdrawable_coins" db:"withdrawable_coins"`
	PendingReferralCoins    int64            `json:"pending_referral_coins" db:"pending_referral_coins"`
	TasksCompleted          int              `json:"tasks_completed" db:"tasks_completed"`
	SponsoredTasksCompleted int              `json:"sponsored_tasks_completed" db:"sponsored_tasks_completed"`
	Referrals               ReferralCounters `json:"referrals"`
	Flagged                 bool             `json:"flagged" db:"flagged"`
	LastWithdrawTime        *time.Time       `json:"last_withdraw_time,omitempty" db:"last_withdraw_time"`
	CreatedAt               time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time        `json:"updated_at" db:"updated_at"`
}

// ActivePlan returns the plan in force at the given time
func (a *Account) ActivePlan(now time.Time) Plan {
	if !a.Plan.IsPaid() {
		return PlanFree
	}
	if a.PlanExpiresAt != nil && !now.Before(*a.PlanExpiresAt) {
		return PlanFree
	}
	return a.Plan
}
