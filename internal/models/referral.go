package models

import (
	"time"

	"github.com/google/uuid"
)

// ReferralType classifies a referral by the plans of both parties
type ReferralType string

const (
	ReferralFreeToFree ReferralType = "free_to_free"
	ReferralFreeToPaid ReferralType = "free_to_paid"
	ReferralPaidToPaid ReferralType = "paid_to_paid"
)

// ReferralReward returns the pending coin reward fixed for a referral type
func ReferralReward(t ReferralType) (int64, bool) {
	switch t {
	case ReferralFreeToFree:
		return 2000, true
	case ReferralFreeToPaid:
		return 15000, true
	case ReferralPaidToPaid:
		return 50000, true
	}
	return 0, false
}

// ReferralEvent is one referrer/referee relationship and its pending reward
type ReferralEvent struct {
	ID                 uuid.UUID    `json:"ref_id" db:"id"`
	ReferrerUID        string       `json:"referrer_uid" db:"referrer_uid"`
	RefereeUID         string       `json:"referee_uid" db:"referee_uid"`
	Type               ReferralType `json:"type" db:"type"`
	AmountCoinsPending int64        `json:"amount_coins_pending" db:"amount_coins_pending"`
	Validated          bool         `json:"validated" db:"validated"`
	ValidatedAt        *time.Time   `json:"validated_at,omitempty" db:"validated_at"`
	CreatedAt          time.Time    `json:"created_at" db:"created_at"`
}
