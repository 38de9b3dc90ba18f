package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	domain "github.com/phankid/api/internal/domain"
)

func newMoMoTestGateway(t *testing.T, doer *stubDoer) *MoMoGateway {
	t.Helper()
	gw, err := NewMoMoGateway(MoMoGatewayConfig{
		PartnerCode: "PHANKID",
		AccessKey:   "access-key",
		SecretKey:   "momo-secret",
		Endpoint:    "https://test-payment.momo.vn",
		RedirectURL: "https://shop.phankid.vn/payments/momo/return",
		IPNURL:      "https://api.phankid.vn/v1/payments/momo/ipn",
		HTTPClient:  doer,
		Clock: func() time.Time {
			return time.Date(2025, 5, 6, 10, 30, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("new momo gateway: %v", err)
	}
	return gw
}

func TestMoMoInitiateReturnsRedirectHandle(t *testing.T) {
	doer := &stubDoer{
		response: momoCreateResponse{
			ResultCode: 0,
			PayURL:     "https://test-payment.momo.vn/pay/abc",
			QRCodeURL:  "https://test-payment.momo.vn/qr/abc",
		},
	}
	gw := newMoMoTestGateway(t, doer)

	handle, err := gw.Initiate(context.Background(), InitiateRequest{
		Order: domain.Order{Code: "ORD-20250506-000042"},
		Attempt: domain.PaymentAttempt{
			ID:         "pa_1",
			GatewayRef: "PK20250506000042",
			Amount:     530_000,
		},
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if handle.Kind != domain.HandleKindRedirect {
		t.Fatalf("expected redirect handle, got %q", handle.Kind)
	}
	if handle.RedirectURL != "https://test-payment.momo.vn/pay/abc" {
		t.Fatalf("unexpected redirect url %q", handle.RedirectURL)
	}
	if handle.QRCodeURL != "https://test-payment.momo.vn/qr/abc" {
		t.Fatalf("unexpected qr code url %q", handle.QRCodeURL)
	}

	if got := doer.lastRequest.URL.String(); !strings.HasSuffix(got, momoCreatePath) {
		t.Fatalf("unexpected create endpoint %q", got)
	}

	var sent momoCreateRequest
	if err := json.Unmarshal(doer.lastBody, &sent); err != nil {
		t.Fatalf("decode create request: %v", err)
	}
	if sent.RequestType != "captureWallet" || sent.Amount != 530_000 {
		t.Fatalf("unexpected create request: %+v", sent)
	}

	// The request signature must match the documented canonical string.
	raw := "accessKey=access-key&amount=530000&extraData=&ipnUrl=https://api.phankid.vn/v1/payments/momo/ipn" +
		"&orderId=PK20250506000042&orderInfo=Thanh toan don hang ORD-20250506-000042" +
		"&partnerCode=PHANKID&redirectUrl=https://shop.phankid.vn/payments/momo/return" +
		"&requestId=pa_1&requestType=captureWallet"
	mac := hmac.New(sha256.New, []byte("momo-secret"))
	mac.Write([]byte(raw))
	if want := hex.EncodeToString(mac.Sum(nil)); sent.Signature != want {
		t.Fatalf("signature mismatch:\n got %s\nwant %s", sent.Signature, want)
	}
}

func TestMoMoInitiateNoQRCodeIsDegradedNotFatal(t *testing.T) {
	doer := &stubDoer{
		response: momoCreateResponse{ResultCode: 0, PayURL: "https://test-payment.momo.vn/pay/abc"},
	}
	gw := newMoMoTestGateway(t, doer)

	handle, err := gw.Initiate(context.Background(), InitiateRequest{
		Order:   domain.Order{Code: "ORD-1"},
		Attempt: domain.PaymentAttempt{ID: "pa_1", GatewayRef: "PK1", Amount: 100_000},
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if handle.RedirectURL == "" || handle.QRCodeURL != "" {
		t.Fatalf("expected redirect without qr code, got %+v", handle)
	}
}

func TestMoMoInitiateRejectedResultCode(t *testing.T) {
	doer := &stubDoer{
		response: momoCreateResponse{ResultCode: 41, Message: "duplicated orderId"},
	}
	gw := newMoMoTestGateway(t, doer)

	_, err := gw.Initiate(context.Background(), InitiateRequest{
		Order:   domain.Order{Code: "ORD-1"},
		Attempt: domain.PaymentAttempt{ID: "pa_1", GatewayRef: "PK1", Amount: 100_000},
	})
	if err == nil || !strings.Contains(err.Error(), "rejected") {
		t.Fatalf("expected rejection error, got %v", err)
	}
}

func TestMoMoReconcileQueriesGateway(t *testing.T) {
	doer := &stubDoer{
		response: momoQueryResponse{ResultCode: 0, Amount: 530_000, TransID: 987654},
	}
	gw := newMoMoTestGateway(t, doer)

	result, err := gw.Reconcile(context.Background(), ReconcileRequest{
		Attempt: domain.PaymentAttempt{ID: "pa_1", GatewayRef: "PK1", Amount: 530_000},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Status != StatusSucceeded || result.Amount != 530_000 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.GatewayTxnID != "987654" {
		t.Fatalf("unexpected txn id %q", result.GatewayTxnID)
	}
	if got := doer.lastRequest.URL.String(); !strings.HasSuffix(got, momoQueryPath) {
		t.Fatalf("unexpected query endpoint %q", got)
	}
}

func TestMoMoReconcilePendingAndFailedCodes(t *testing.T) {
	cases := []struct {
		code   int
		status Status
	}{
		{0, StatusSucceeded},
		{1000, StatusPending},
		{9000, StatusPending},
		{1006, StatusFailed},
	}
	for _, tc := range cases {
		doer := &stubDoer{response: momoQueryResponse{ResultCode: tc.code, Amount: 100_000}}
		gw := newMoMoTestGateway(t, doer)

		result, err := gw.Reconcile(context.Background(), ReconcileRequest{
			Attempt: domain.PaymentAttempt{ID: "pa_1", GatewayRef: "PK1"},
		})
		if err != nil {
			t.Fatalf("reconcile code %d: %v", tc.code, err)
		}
		if result.Status != tc.status {
			t.Fatalf("code %d: expected %q got %q", tc.code, tc.status, result.Status)
		}
	}
}

func TestMoMoVerifyIPNSignature(t *testing.T) {
	gw := newMoMoTestGateway(t, &stubDoer{})

	params := url.Values{}
	params.Set("partnerCode", "PHANKID")
	params.Set("orderId", "PK1")
	params.Set("requestId", "pa_1")
	params.Set("amount", "530000")
	params.Set("orderInfo", "Thanh toan don hang ORD-1")
	params.Set("orderType", "momo_wallet")
	params.Set("transId", "987654")
	params.Set("resultCode", "0")
	params.Set("message", "Successful.")
	params.Set("payType", "qr")
	params.Set("responseTime", "1746527400000")
	params.Set("extraData", "")

	raw := "accessKey=access-key&amount=530000&extraData=&message=Successful.&orderId=PK1" +
		"&orderInfo=Thanh toan don hang ORD-1&orderType=momo_wallet&partnerCode=PHANKID" +
		"&payType=qr&requestId=pa_1&responseTime=1746527400000&resultCode=0&transId=987654"
	mac := hmac.New(sha256.New, []byte("momo-secret"))
	mac.Write([]byte(raw))
	params.Set("signature", hex.EncodeToString(mac.Sum(nil)))

	if !gw.VerifyIPNSignature(params) {
		t.Fatalf("expected valid signature to verify")
	}

	params.Set("amount", "1")
	if gw.VerifyIPNSignature(params) {
		t.Fatalf("expected tampered params to fail verification")
	}
}
