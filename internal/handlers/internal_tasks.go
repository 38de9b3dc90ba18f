package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/phankid/api/internal/platform/httpx"
	"github.com/phankid/api/internal/platform/jobs"
	"github.com/phankid/api/internal/services"
)

const maxTaskBodySize = 64 * 1024

// InternalTaskHandlers consumes Pub/Sub push deliveries for background work.
// The router guards the group with HMAC middleware; these handlers only
// parse envelopes and dispatch.
type InternalTaskHandlers struct {
	payments services.PaymentService
	clock    func() time.Time
}

// NewInternalTaskHandlers constructs the internal task handlers.
func NewInternalTaskHandlers(payments services.PaymentService) *InternalTaskHandlers {
	return &InternalTaskHandlers{
		payments: payments,
		clock:    time.Now,
	}
}

// Routes registers the /internal/tasks endpoints.
func (h *InternalTaskHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/tasks/payments/expire", h.expirePayments)
}

// pushEnvelope is the Pub/Sub push delivery wrapper.
type pushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type expireResponse struct {
	TaskID  string `json:"task_id,omitempty"`
	Expired int    `json:"expired"`
}

// expirePayments runs the payment-attempt reaper for one delivered tick. A
// malformed envelope answers 2xx so Pub/Sub does not redeliver it forever.
func (h *InternalTaskHandlers) expirePayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxTaskBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read push body", http.StatusBadRequest))
		return
	}

	task, ok := decodeExpiryTask(body)
	if !ok {
		writeJSONResponse(w, http.StatusOK, map[string]any{"acknowledged": true, "reason": "malformed task payload"})
		return
	}

	cutoff := task.Cutoff
	if cutoff.IsZero() {
		cutoff = h.clock().UTC()
	}

	expired, err := h.payments.Expire(ctx, services.ExpireAttemptsCommand{
		Now:   cutoff,
		Limit: task.Limit,
	})
	if err != nil {
		// Non-2xx triggers Pub/Sub redelivery with backoff.
		httpx.WriteError(ctx, w, httpx.NewError("task_failed", "payment expiry run failed", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, expireResponse{TaskID: task.TaskID, Expired: expired})
}

// decodeExpiryTask accepts either a Pub/Sub push envelope or, for manual
// invocations, a bare task document.
func decodeExpiryTask(body []byte) (jobs.PaymentExpiryTask, bool) {
	var task jobs.PaymentExpiryTask
	if len(body) == 0 {
		return task, true
	}

	var envelope pushEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Message.Data) > 0 {
		if err := json.Unmarshal(envelope.Message.Data, &task); err != nil {
			return task, false
		}
		return task, true
	}

	if err := json.Unmarshal(body, &task); err != nil {
		return task, false
	}
	return task, true
}
