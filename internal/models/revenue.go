package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RevenueSource tags the origin of a platform revenue entry
type RevenueSource string

const (
	RevenueSponsoredTask RevenueSource = "sponsored_task"
	RevenueWithdrawFee   RevenueSource = "withdraw_fee"
	RevenuePlanPurchase  RevenueSource = "plan_purchase"
	RevenueAd            RevenueSource = "ad"
)

// RevenueSources lists every source in reporting order
var RevenueSources = []RevenueSource{
	RevenueSponsoredTask,
	RevenueWithdrawFee,
	RevenuePlanPurchase,
	RevenueAd,
}

// RevenueMeta is the per-source payload of a revenue entry.
// The entry id is derived from the payload's natural key so re-posting
// the same fact collides on the primary key.
type RevenueMeta interface {
	Source() RevenueSource
	EntryID() string
}

// TaskRevenueMeta is the platform share of one sponsored task completion
type TaskRevenueMeta struct {
	TaskID     string          `json:"task_id"`
	ExternalID string          `json:"external_id"`
	UserUID    string          `json:"user_uid"`
	PayoutINR  decimal.Decimal `json:"payout_inr"`
}

func (TaskRevenueMeta) Source() RevenueSource { return RevenueSponsoredTask }

func (m TaskRevenueMeta) EntryID() string {
	return fmt.Sprintf("task_%s_%s", m.TaskID, m.ExternalID)
}

// WithdrawFeeMeta is the fee retained on an approved withdrawal
type WithdrawFeeMeta struct {
	RequestID uuid.UUID       `json:"request_id"`
	UID       string          `json:"uid"`
	FeePct    decimal.Decimal `json:"fee_pct"`
}

func (WithdrawFeeMeta) Source() RevenueSource { return RevenueWithdrawFee }

func (m WithdrawFeeMeta) EntryID() string {
	return fmt.Sprintf("withdraw_fee_%s", m.RequestID)
}

// PlanPurchaseMeta is a captured subscription payment
type PlanPurchaseMeta struct {
	PlanID     Plan   `json:"plan_id"`
	PaymentRef string `json:"payment_ref"`
	UID        string `json:"uid"`
}

func (PlanPurchaseMeta) Source() RevenueSource { return RevenuePlanPurchase }

func (m PlanPurchaseMeta) EntryID() string {
	return fmt.Sprintf("plan_%s_%s", m.PlanID, m.PaymentRef)
}

// AdRevenueMeta is one month of revenue reported by an ad network
type AdRevenueMeta struct {
	Month   string `json:"month"`
	Network string `json:"network"`
}

func (AdRevenueMeta) Source() RevenueSource { return RevenueAd }

func (m AdRevenueMeta) EntryID() string {
	return fmt.Sprintf("ad_%s_%s", m.Month, m.Network)
}

// RevenueEntry is an append-only record of platform income
type RevenueEntry struct {
	EntryID   string          `json:"entry_id" db:"entry_id"`
	Source    RevenueSource   `json:"source" db:"source"`
	AmountINR decimal.Decimal `json:"amount_inr" db:"amount_inr"`
	Meta      RevenueMeta     `json:"meta" db:"meta"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// NewRevenueEntry builds an entry whose id and source come from its payload
func NewRevenueEntry(meta RevenueMeta, amount decimal.Decimal) *RevenueEntry {
	return &RevenueEntry{
		EntryID:   meta.EntryID(),
		Source:    meta.Source(),
		AmountINR: amount,
		Meta:      meta,
	}
}

// DecodeRevenueMeta restores the typed payload stored for a source
func DecodeRevenueMeta(source RevenueSource, raw []byte) (RevenueMeta, error) {
	var (
		meta RevenueMeta
		err  error
	)
	switch source {
	case RevenueSponsoredTask:
		var m TaskRevenueMeta
		err = json.Unmarshal(raw, &m)
		meta = m
	case RevenueWithdrawFee:
		var m WithdrawFeeMeta
		err = json.Unmarshal(raw, &m)
		meta = m
	case RevenuePlanPurchase:
		var m PlanPurchaseMeta
		err = json.Unmarshal(raw, &m)
		meta = m
	case RevenueAd:
		var m AdRevenueMeta
		err = json.Unmarshal(raw, &m)
		meta = m
	default:
		return nil, fmt.Errorf("unknown revenue source %q", source)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s meta: %w", source, err)
	}
	return meta, nil
}

// RevenueSummary totals revenue per source over a period
type RevenueSummary struct {
	From     time.Time                         `json:"from"`
	To       time.Time                         `json:"to"`
	BySource map[RevenueSource]decimal.Decimal `json:"by_source"`
	Total    decimal.Decimal                   `json:"total"`
}
