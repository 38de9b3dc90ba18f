package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/phankid/api/internal/platform/jobs"
)

type stubTaskPublisher struct {
	tasks []jobs.PaymentExpiryTask
	err   error
}

func (s *stubTaskPublisher) PublishPaymentExpiry(ctx context.Context, task jobs.PaymentExpiryTask) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.tasks = append(s.tasks, task)
	return "msg-42", nil
}

func TestDispatcherEnqueuePaymentExpiry(t *testing.T) {
	publisher := &stubTaskPublisher{}
	now := time.Date(2025, 5, 6, 10, 0, 0, 0, time.UTC)
	dispatcher, err := NewBackgroundJobDispatcher(BackgroundJobDispatcherDeps{
		Publisher:   publisher,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01ARZ3NDEKTSV4RRFFQ69G5FAV" },
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	cutoff := now.Add(30 * time.Minute)
	msgID, err := dispatcher.EnqueuePaymentExpiry(context.Background(), PaymentExpiryPayload{Cutoff: cutoff, Limit: 25})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if msgID != "msg-42" {
		t.Fatalf("unexpected message id %q", msgID)
	}
	if len(publisher.tasks) != 1 {
		t.Fatalf("expected one published task, got %d", len(publisher.tasks))
	}
	task := publisher.tasks[0]
	if !strings.HasPrefix(task.TaskID, "pt_") {
		t.Fatalf("expected pt_ task id, got %q", task.TaskID)
	}
	if !task.Cutoff.Equal(cutoff) || task.Limit != 25 {
		t.Fatalf("unexpected task payload %+v", task)
	}
	if !task.QueuedAt.Equal(now) {
		t.Fatalf("expected queue timestamp %v, got %v", now, task.QueuedAt)
	}
}

func TestDispatcherRequiresCutoff(t *testing.T) {
	dispatcher, err := NewBackgroundJobDispatcher(BackgroundJobDispatcherDeps{Publisher: &stubTaskPublisher{}})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if _, err := dispatcher.EnqueuePaymentExpiry(context.Background(), PaymentExpiryPayload{}); !errors.Is(err, ErrJobInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestDispatcherPropagatesPublishFailure(t *testing.T) {
	dispatcher, err := NewBackgroundJobDispatcher(BackgroundJobDispatcherDeps{
		Publisher: &stubTaskPublisher{err: errors.New("topic closed")},
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if _, err := dispatcher.EnqueuePaymentExpiry(context.Background(), PaymentExpiryPayload{Cutoff: time.Now()}); err == nil {
		t.Fatalf("expected publish error")
	}
}
