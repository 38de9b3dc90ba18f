package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/phankid/api/internal/platform/jobs"
)

// ErrJobInvalidInput indicates a dispatch command is missing required fields.
var ErrJobInvalidInput = errors.New("jobs: invalid input")

// PaymentTaskPublisher publishes payment maintenance tasks to the background queue.
type PaymentTaskPublisher interface {
	PublishPaymentExpiry(ctx context.Context, task jobs.PaymentExpiryTask) (string, error)
}

// BackgroundJobDispatcherDeps enumerates collaborators required to construct the dispatcher.
type BackgroundJobDispatcherDeps struct {
	Publisher   PaymentTaskPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type backgroundJobDispatcher struct {
	publisher PaymentTaskPublisher
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewBackgroundJobDispatcher wires dependencies into a BackgroundJobDispatcher implementation.
func NewBackgroundJobDispatcher(deps BackgroundJobDispatcherDeps) (BackgroundJobDispatcher, error) {
	if deps.Publisher == nil {
		return nil, errors.New("background job dispatcher: publisher is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &backgroundJobDispatcher{
		publisher: deps.Publisher,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// EnqueuePaymentExpiry publishes an expiry sweep task scheduled at the payload
// cutoff. The push subscription delivers it to the internal task endpoint,
// which runs the reaper.
func (d *backgroundJobDispatcher) EnqueuePaymentExpiry(ctx context.Context, payload PaymentExpiryPayload) (string, error) {
	if payload.Cutoff.IsZero() {
		return "", fmt.Errorf("%w: cutoff is required", ErrJobInvalidInput)
	}

	now := d.clock()
	task := jobs.PaymentExpiryTask{
		TaskID:   "pt_" + d.newID(),
		Cutoff:   payload.Cutoff.UTC(),
		Limit:    payload.Limit,
		QueuedAt: now,
	}

	msgID, err := d.publisher.PublishPaymentExpiry(ctx, task)
	if err != nil {
		return "", fmt.Errorf("publish payment expiry task: %w", err)
	}

	d.logger(ctx, "jobs.payment_expiry_queued", map[string]any{
		"taskId": task.TaskID,
		"cutoff": task.Cutoff.Format(time.RFC3339),
	})
	return msgID, nil
}
