package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
)

// PaymentExpiryTask is the message delivered to the payment-expiry worker.
type PaymentExpiryTask struct {
	TaskID   string    `json:"taskId"`
	Cutoff   time.Time `json:"cutoff"`
	Limit    int       `json:"limit,omitempty"`
	QueuedAt time.Time `json:"queuedAt"`
}

// PubSubPaymentTaskPublisher publishes payment maintenance tasks to a Pub/Sub
// topic whose push subscription targets the internal task endpoint.
type PubSubPaymentTaskPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubPaymentTaskPublisher constructs a Pub/Sub backed task publisher.
func NewPubSubPaymentTaskPublisher(topic *pubsub.Topic) (*PubSubPaymentTaskPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub payment task publisher: topic is required")
	}
	return &PubSubPaymentTaskPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishPaymentExpiry enqueues an expiry sweep task.
func (p *PubSubPaymentTaskPublisher) PublishPaymentExpiry(ctx context.Context, task PaymentExpiryTask) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub payment task publisher: not initialised")
	}

	data, err := p.marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal payment expiry task: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "taskType", "payments.expire")
	setAttr(attrs, "taskId", task.TaskID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish payment expiry task: %w", err)
	}
	return id, nil
}
