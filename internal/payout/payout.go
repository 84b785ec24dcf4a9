// Package payout hands approved withdrawals to the payout worker through a
// Redis list.
package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/aimerfeng/Earnzy/internal/cache"
	"github.com/aimerfeng/Earnzy/internal/models"
	"github.com/aimerfeng/Earnzy/internal/monitoring"
)

// ErrNotApproved is returned when a request that is not approved is enqueued
var ErrNotApproved = errors.New("withdraw request is not approved")

// Queue is a FIFO list of job payloads
type Queue interface {
	Push(ctx context.Context, queue string, payload []byte) error
	Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)
	Len(ctx context.Context, queue string) (int64, error)
}

// Job is one approved withdrawal awaiting transfer
type Job struct {
	RequestID   uuid.UUID       `json:"request_id"`
	UID         string          `json:"uid"`
	AmountINR   decimal.Decimal `json:"amount_inr"`
	KYCRequired bool            `json:"kyc_required"`
	ApprovedBy  string          `json:"approved_by,omitempty"`
	ApprovedAt  time.Time       `json:"approved_at"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// Dispatcher publishes payout jobs
type Dispatcher struct {
	queue Queue
	key   string
}

// NewDispatcher creates a dispatcher writing to the list named key
func NewDispatcher(queue Queue, key string) *Dispatcher {
	return &Dispatcher{queue: queue, key: key}
}

// Enqueue publishes an approved withdrawal request
func (d *Dispatcher) Enqueue(ctx context.Context, req *models.WithdrawRequest) error {
	if req.Status != models.WithdrawStatusApproved {
		return ErrNotApproved
	}

	job := Job{
		RequestID:   req.ID,
		UID:         req.UID,
		AmountINR:   req.FinalAmountINR,
		KYCRequired: req.KYCRequired,
		EnqueuedAt:  time.Now().UTC(),
	}
	if req.ReviewedBy != nil {
		job.ApprovedBy = *req.ReviewedBy
	}
	if req.ReviewedAt != nil {
		job.ApprovedAt = *req.ReviewedAt
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode payout job: %w", err)
	}
	if err := d.queue.Push(ctx, d.key, payload); err != nil {
		monitoring.RecordPayoutJob("failed")
		return fmt.Errorf("enqueue payout job: %w", err)
	}

	monitoring.RecordPayoutJob("enqueued")
	log.Info().
		Str("request_id", req.ID.String()).
		Str("uid", req.UID).
		Str("amount_inr", req.FinalAmountINR.StringFixed(2)).
		Msg("Payout job enqueued")
	return nil
}

// Next waits up to timeout for the oldest job. It returns nil, nil when the
// queue stayed empty.
func (d *Dispatcher) Next(ctx context.Context, timeout time.Duration) (*Job, error) {
	payload, err := d.queue.Pop(ctx, d.key, timeout)
	if err != nil {
		if errors.Is(err, cache.ErrQueueEmpty) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue payout job: %w", err)
	}

	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("decode payout job: %w", err)
	}
	return &job, nil
}

// QueueDepth returns the number of jobs waiting
func (d *Dispatcher) QueueDepth(ctx context.Context) (int64, error) {
	return d.queue.Len(ctx, d.key)
}

// ReportDepth publishes the current queue depth to the payout_queue_depth gauge
func (d *Dispatcher) ReportDepth(ctx context.Context) (int64, error) {
	depth, err := d.QueueDepth(ctx)
	if err != nil {
		return 0, fmt.Errorf("payout queue depth: %w", err)
	}
	monitoring.SetPayoutQueueDepth(depth)
	return depth, nil
}
