package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlanOffer is a purchasable subscription tier
type PlanOffer struct {
	ID       Plan            `json:"id"`
	Name     string          `json:"name"`
	PriceINR decimal.Decimal `json:"price_inr"`
}

// PricePaise returns the gateway amount for the tier
func (p PlanOffer) PricePaise() int64 {
	return p.PriceINR.Mul(decimal.NewFromInt(100)).IntPart()
}

// PlanCatalog lists the paid tiers in ascending price
var PlanCatalog = []PlanOffer{
	{ID: PlanSilver, Name: "Silver", PriceINR: decimal.NewFromInt(99)},
	{ID: PlanGold, Name: "Gold", PriceINR: decimal.NewFromInt(249)},
	{ID: PlanPlatinum, Name: "Platinum", PriceINR: decimal.NewFromInt(499)},
}

// LookupPlan finds a paid tier by id
func LookupPlan(id Plan) (PlanOffer, bool) {
	for _, p := range PlanCatalog {
		if p.ID == id {
			return p, true
		}
	}
	return PlanOffer{}, false
}

// PlanActivation is the result of a successful plan purchase
type PlanActivation struct {
	UID       string    `json:"uid"`
	Plan      Plan      `json:"plan"`
	ExpiresAt time.Time `json:"expires_at"`
	EntryID   string    `json:"entry_id"`
}
