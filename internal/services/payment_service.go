package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/phankid/api/internal/domain"
	"github.com/phankid/api/internal/payments"
	"github.com/phankid/api/internal/repositories"
)

// defaultExpireBatch bounds how many stale attempts a single reaper tick closes.
const defaultExpireBatch = 100

var (
	// ErrPaymentInvalidInput indicates the callback is missing required parameters.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentUnavailable indicates the payment backend cannot fulfil the request.
	ErrPaymentUnavailable = errors.New("payment: unavailable")
	// ErrPaymentAmountMismatch indicates the gateway captured a different
	// amount than the attempt expected. The attempt is failed and the order is
	// left untouched for manual review.
	ErrPaymentAmountMismatch = errors.New("payment: captured amount does not match")
)

// orderPayer is the slice of the order service the payment pipeline drives.
type orderPayer interface {
	MarkPaid(ctx context.Context, cmd MarkOrderPaidCommand) (Order, error)
}

// paymentReconciler abstracts the gateway manager's status verification.
type paymentReconciler interface {
	Reconcile(ctx context.Context, req payments.ReconcileRequest) (payments.ReconcileResult, error)
}

// callbackArchiver stores raw gateway payloads for dispute handling.
type callbackArchiver interface {
	Archive(ctx context.Context, gateway, key string, payload []byte) (string, error)
}

// PaymentServiceDeps wires attempt persistence, gateway verification, and the
// order service for callback processing.
type PaymentServiceDeps struct {
	Attempts repositories.PaymentAttemptRepository
	Orders   orderPayer
	Gateways paymentReconciler
	Archiver callbackArchiver
	Audit    AuditLogService
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	attempts repositories.PaymentAttemptRepository
	orders   orderPayer
	gateways paymentReconciler
	archiver callbackArchiver
	audit    AuditLogService
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewPaymentService constructs a PaymentService enforcing dependency validation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Attempts == nil {
		return nil, errors.New("payment service: payment attempt repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order service is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("payment service: gateway manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		attempts: deps.Attempts,
		orders:   deps.Orders,
		gateways: deps.Gateways,
		archiver: deps.Archiver,
		audit:    deps.Audit,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// HandleCallback settles a wallet gateway callback (VNPay return/IPN, MoMo
// IPN). The gateway's status API is the source of truth; callback parameters
// only locate the attempt. Callbacks for unknown references are acknowledged
// so the gateway stops retrying.
func (s *paymentService) HandleCallback(ctx context.Context, cmd PaymentCallbackCommand) (PaymentCallbackResult, error) {
	ref := callbackGatewayRef(cmd)
	if ref == "" {
		return PaymentCallbackResult{}, fmt.Errorf("%w: missing gateway reference", ErrPaymentInvalidInput)
	}

	s.archive(ctx, strings.ToLower(string(cmd.Method)), ref, cmd.RawBody)

	attempt, found, err := s.findAttempt(ctx, ref)
	if err != nil {
		return PaymentCallbackResult{}, err
	}
	if !found {
		s.logger(ctx, "payment.callback_unknown_ref", map[string]any{
			"gatewayRef": ref,
			"method":     string(cmd.Method),
			"source":     cmd.Source,
		})
		return PaymentCallbackResult{Known: false}, nil
	}

	return s.settle(ctx, attempt, cmd.Params)
}

// HandleStripeWebhook settles a verified Stripe event. Signature verification
// happens at the HTTP layer; by the time the command arrives the payload is
// authentic.
func (s *paymentService) HandleStripeWebhook(ctx context.Context, cmd StripeWebhookCommand) (PaymentCallbackResult, error) {
	ref := strings.TrimSpace(cmd.GatewayRef)
	if ref == "" {
		return PaymentCallbackResult{}, fmt.Errorf("%w: missing payment intent id", ErrPaymentInvalidInput)
	}

	s.archive(ctx, "stripe", ref, cmd.RawBody)

	attempt, found, err := s.findAttempt(ctx, ref)
	if err != nil {
		return PaymentCallbackResult{}, err
	}
	if !found {
		s.logger(ctx, "payment.webhook_unknown_ref", map[string]any{
			"gatewayRef": ref,
			"eventType":  cmd.EventType,
		})
		return PaymentCallbackResult{Known: false}, nil
	}

	return s.settle(ctx, attempt, nil)
}

// Expire closes PENDING attempts whose deadline passed. It returns how many
// attempts were expired in this sweep. Expiry is a merchant-side bookkeeping
// state: a payment captured just before the deadline still settles when its
// late callback arrives, because settle re-reconciles EXPIRED attempts
// against the gateway.
func (s *paymentService) Expire(ctx context.Context, cmd ExpireAttemptsCommand) (int, error) {
	cutoff := cmd.Now.UTC()
	if cmd.Now.IsZero() {
		cutoff = s.now()
	}
	limit := cmd.Limit
	if limit <= 0 {
		limit = defaultExpireBatch
	}

	stale, err := s.attempts.ListExpired(ctx, cutoff, limit)
	if err != nil {
		return 0, s.translateRepoError(err)
	}

	expired := 0
	for _, attempt := range stale {
		if attempt.Status != domain.AttemptStatusPending {
			continue
		}
		attempt.Status = domain.AttemptStatusExpired
		completed := s.now()
		attempt.CompletedAt = &completed
		if err := s.attempts.Update(ctx, attempt); err != nil {
			s.logger(ctx, "payment.expire_update_failed", map[string]any{
				"attemptId": attempt.ID,
				"error":     err.Error(),
			})
			continue
		}
		expired++
	}

	if expired > 0 {
		s.logger(ctx, "payment.attempts_expired", map[string]any{
			"count":  expired,
			"cutoff": cutoff.Format(time.RFC3339),
		})
	}
	return expired, nil
}

// settle asks the gateway for the authoritative outcome and applies it to the
// attempt and, on verified success, the order.
func (s *paymentService) settle(ctx context.Context, attempt PaymentAttempt, params map[string][]string) (PaymentCallbackResult, error) {
	// Replays of settled attempts are acknowledged without re-querying the
	// gateway. A SUCCEEDED replay still re-drives MarkPaid (idempotent on a
	// paid order), so a transient order write failure after the attempt
	// update is repaired by the gateway's retry instead of stranding a
	// captured payment behind an ack. EXPIRED is merchant-assigned rather
	// than gateway truth, so a late callback falls through to reconcile and
	// may still settle the attempt.
	switch attempt.Status {
	case domain.AttemptStatusSucceeded:
		var paidAt time.Time
		if attempt.CompletedAt != nil {
			paidAt = *attempt.CompletedAt
		}
		order, err := s.orders.MarkPaid(ctx, MarkOrderPaidCommand{
			OrderID:      attempt.OrderID,
			AttemptID:    attempt.ID,
			GatewayTxnID: attempt.GatewayTxnID,
			PaidAt:       paidAt,
		})
		if err != nil {
			return PaymentCallbackResult{}, err
		}
		return PaymentCallbackResult{Known: true, Attempt: attempt, Order: order}, nil
	case domain.AttemptStatusFailed:
		return PaymentCallbackResult{Known: true, Attempt: attempt}, nil
	}

	result, err := s.gateways.Reconcile(ctx, payments.ReconcileRequest{
		Attempt: attempt,
		Params:  params,
	})
	if err != nil {
		return PaymentCallbackResult{}, fmt.Errorf("%w: reconcile %s: %v", ErrPaymentUnavailable, attempt.ID, err)
	}

	now := s.now()
	switch result.Status {
	case payments.StatusSucceeded:
		if result.Amount != attempt.Amount {
			attempt.Status = domain.AttemptStatusFailed
			attempt.FailureCode = "amount_mismatch"
			attempt.GatewayTxnID = result.GatewayTxnID
			attempt.CompletedAt = &now
			if err := s.attempts.Update(ctx, attempt); err != nil {
				return PaymentCallbackResult{}, s.translateRepoError(err)
			}
			s.recordAudit(ctx, "payment.amount_mismatch", attempt, map[string]any{
				"expected": attempt.Amount,
				"captured": result.Amount,
			})
			return PaymentCallbackResult{Known: true, Attempt: attempt},
				fmt.Errorf("%w: expected %s, captured %s", ErrPaymentAmountMismatch,
					domain.FormatVND(attempt.Amount), domain.FormatVND(result.Amount))
		}

		attempt.Status = domain.AttemptStatusSucceeded
		attempt.GatewayTxnID = result.GatewayTxnID
		attempt.CompletedAt = &now
		if err := s.attempts.Update(ctx, attempt); err != nil {
			return PaymentCallbackResult{}, s.translateRepoError(err)
		}

		order, err := s.orders.MarkPaid(ctx, MarkOrderPaidCommand{
			OrderID:      attempt.OrderID,
			AttemptID:    attempt.ID,
			GatewayTxnID: result.GatewayTxnID,
			PaidAt:       now,
		})
		if err != nil {
			return PaymentCallbackResult{}, err
		}
		s.recordAudit(ctx, "payment.succeeded", attempt, map[string]any{
			"gatewayTxnId": result.GatewayTxnID,
			"amount":       attempt.Amount,
		})
		return PaymentCallbackResult{Known: true, Attempt: attempt, Order: order}, nil

	case payments.StatusFailed:
		attempt.Status = domain.AttemptStatusFailed
		attempt.FailureCode = firstNonEmpty(result.FailureCode, "gateway_declined")
		attempt.GatewayTxnID = result.GatewayTxnID
		attempt.CompletedAt = &now
		if err := s.attempts.Update(ctx, attempt); err != nil {
			return PaymentCallbackResult{}, s.translateRepoError(err)
		}
		s.recordAudit(ctx, "payment.failed", attempt, map[string]any{
			"failureCode": attempt.FailureCode,
		})
		return PaymentCallbackResult{Known: true, Attempt: attempt}, nil

	default:
		// Still pending at the gateway; the reaper or a later callback settles it.
		return PaymentCallbackResult{Known: true, Attempt: attempt}, nil
	}
}

func (s *paymentService) findAttempt(ctx context.Context, ref string) (PaymentAttempt, bool, error) {
	attempt, err := s.attempts.FindByGatewayRef(ctx, ref)
	if err != nil {
		if isRepoNotFound(err) {
			return PaymentAttempt{}, false, nil
		}
		return PaymentAttempt{}, false, s.translateRepoError(err)
	}
	return attempt, true, nil
}

// archive persists the raw gateway payload for dispute handling. Failures are
// logged; losing an archive copy never blocks reconciliation.
func (s *paymentService) archive(ctx context.Context, gateway, ref string, payload []byte) {
	if s.archiver == nil || len(payload) == 0 {
		return
	}
	key := fmt.Sprintf("%s-%s", ref, s.now().Format("20060102T150405.000Z"))
	if _, err := s.archiver.Archive(ctx, gateway, key, payload); err != nil {
		s.logger(ctx, "payment.archive_failed", map[string]any{
			"gateway":    gateway,
			"gatewayRef": ref,
			"error":      err.Error(),
		})
	}
}

func (s *paymentService) recordAudit(ctx context.Context, action string, attempt PaymentAttempt, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditLogRecord{
		Actor:      "payment-pipeline",
		ActorType:  "service",
		Action:     action,
		TargetRef:  "orders/" + attempt.OrderCode + "/attempts/" + attempt.ID,
		Severity:   "info",
		OccurredAt: s.now(),
		Metadata:   metadata,
	})
}

func (s *paymentService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: attempt not found", ErrPaymentInvalidInput)
	}
	return ErrPaymentUnavailable
}

// callbackGatewayRef extracts the merchant transaction reference from the
// callback parameters of each wallet gateway.
func callbackGatewayRef(cmd PaymentCallbackCommand) string {
	switch cmd.Method {
	case domain.PaymentMethodVNPay:
		return strings.TrimSpace(cmd.Params.Get("vnp_TxnRef"))
	case domain.PaymentMethodMoMo:
		return strings.TrimSpace(cmd.Params.Get("orderId"))
	default:
		return ""
	}
}
