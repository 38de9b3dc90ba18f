package payments

import (
	"context"
	"errors"
	"testing"

	domain "github.com/phankid/api/internal/domain"
)

type fakeGateway struct {
	method domain.PaymentMethod
	lastOp string
	handle domain.PaymentHandle
	result ReconcileResult
	err    error
}

func (f *fakeGateway) Method() domain.PaymentMethod {
	return f.method
}

func (f *fakeGateway) Initiate(ctx context.Context, req InitiateRequest) (domain.PaymentHandle, error) {
	f.lastOp = "initiate"
	return f.handle, f.err
}

func (f *fakeGateway) Reconcile(ctx context.Context, req ReconcileRequest) (ReconcileResult, error) {
	f.lastOp = "reconcile"
	return f.result, f.err
}

func TestManagerRoutesByMethod(t *testing.T) {
	ctx := context.Background()
	cod := &fakeGateway{method: domain.PaymentMethodCOD, handle: domain.PaymentHandle{Kind: domain.HandleKindImmediate}}
	momo := &fakeGateway{method: domain.PaymentMethodMoMo, handle: domain.PaymentHandle{Kind: domain.HandleKindRedirect}}

	mgr, err := NewManager(cod, momo)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	handle, err := mgr.Initiate(ctx, InitiateRequest{
		Attempt: domain.PaymentAttempt{Method: domain.PaymentMethodMoMo},
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if handle.Kind != domain.HandleKindRedirect {
		t.Fatalf("expected redirect handle, got %q", handle.Kind)
	}
	if momo.lastOp != "initiate" {
		t.Fatalf("expected momo gateway to handle call")
	}
	if cod.lastOp != "" {
		t.Fatalf("expected cod gateway to remain unused")
	}
}

func TestManagerReconcileDelegates(t *testing.T) {
	ctx := context.Background()
	vnpay := &fakeGateway{
		method: domain.PaymentMethodVNPay,
		result: ReconcileResult{Status: StatusSucceeded, Amount: 530_000},
	}

	mgr, err := NewManager(vnpay)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	result, err := mgr.Reconcile(ctx, ReconcileRequest{
		Attempt: domain.PaymentAttempt{Method: domain.PaymentMethodVNPay},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Status != StatusSucceeded || result.Amount != 530_000 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if vnpay.lastOp != "reconcile" {
		t.Fatalf("expected vnpay gateway to handle call")
	}
}

func TestManagerUnsupportedMethod(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(&fakeGateway{method: domain.PaymentMethodCOD})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.Initiate(ctx, InitiateRequest{
		Attempt: domain.PaymentAttempt{Method: domain.PaymentMethodCard},
	})
	if !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("expected ErrUnsupportedMethod, got %v", err)
	}
}

func TestNewManagerValidatesGateways(t *testing.T) {
	if _, err := NewManager(); err == nil {
		t.Fatalf("expected error when gateways empty")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error for nil gateway")
	}
	if _, err := NewManager(&fakeGateway{method: "BANKWIRE"}); err == nil {
		t.Fatalf("expected error for invalid method")
	}
	cod := &fakeGateway{method: domain.PaymentMethodCOD}
	if _, err := NewManager(cod, &fakeGateway{method: domain.PaymentMethodCOD}); err == nil {
		t.Fatalf("expected error for duplicate method")
	}
}

func TestCODGatewayImmediateHandle(t *testing.T) {
	gw := NewCODGateway()

	handle, err := gw.Initiate(context.Background(), InitiateRequest{
		Attempt: domain.PaymentAttempt{ID: "pa_1", GatewayRef: "PK-ORD-1", Amount: 530_000},
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if handle.Kind != domain.HandleKindImmediate {
		t.Fatalf("expected immediate handle, got %q", handle.Kind)
	}
	if handle.AttemptID != "pa_1" || handle.GatewayRef != "PK-ORD-1" {
		t.Fatalf("unexpected handle: %+v", handle)
	}

	result, err := gw.Reconcile(context.Background(), ReconcileRequest{
		Attempt: domain.PaymentAttempt{Amount: 530_000},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Status != StatusSucceeded || result.Amount != 530_000 {
		t.Fatalf("unexpected result: %+v", result)
	}
}
