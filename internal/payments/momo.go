package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	domain "github.com/phankid/api/internal/domain"
)

const (
	momoCreatePath  = "/v2/gateway/api/create"
	momoQueryPath   = "/v2/gateway/api/query"
	momoRequestType = "captureWallet"

	momoResultSuccess = 0
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// MoMoGatewayConfig configures the MoMo wallet gateway.
type MoMoGatewayConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	RedirectURL string
	IPNURL      string
	HTTPClient  httpDoer
	Logger      GatewayLogger
	Clock       func() time.Time
}

// MoMoGateway collects wallet payments through MoMo's captureWallet flow.
// Every outbound request and inbound IPN is HMAC-SHA256 signed; the status
// query API, not the IPN parameters, decides the attempt outcome.
type MoMoGateway struct {
	partnerCode string
	accessKey   string
	secretKey   string
	endpoint    string
	redirectURL string
	ipnURL      string
	http        httpDoer
	clock       func() time.Time
	logger      GatewayLogger
}

// NewMoMoGateway constructs a MoMo wallet gateway.
func NewMoMoGateway(cfg MoMoGatewayConfig) (*MoMoGateway, error) {
	partnerCode := strings.TrimSpace(cfg.PartnerCode)
	accessKey := strings.TrimSpace(cfg.AccessKey)
	secretKey := strings.TrimSpace(cfg.SecretKey)
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if partnerCode == "" || accessKey == "" || secretKey == "" {
		return nil, errors.New("momo: partner code, access key, and secret key are required")
	}
	if endpoint == "" {
		return nil, errors.New("momo: endpoint is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &MoMoGateway{
		partnerCode: partnerCode,
		accessKey:   accessKey,
		secretKey:   secretKey,
		endpoint:    endpoint,
		redirectURL: strings.TrimSpace(cfg.RedirectURL),
		ipnURL:      strings.TrimSpace(cfg.IPNURL),
		http:        httpClient,
		clock:       func() time.Time { return clock().UTC() },
		logger:      logger,
	}, nil
}

// Method reports the payment method this gateway serves.
func (g *MoMoGateway) Method() domain.PaymentMethod {
	return domain.PaymentMethodMoMo
}

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

type momoCreateResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	PayURL     string `json:"payUrl"`
	QRCodeURL  string `json:"qrCodeUrl"`
	Deeplink   string `json:"deeplink"`
}

// Initiate creates a captureWallet payment and returns a redirect handle with
// the payUrl and, when MoMo supplies one, a QR code URL.
func (g *MoMoGateway) Initiate(ctx context.Context, req InitiateRequest) (domain.PaymentHandle, error) {
	if g == nil || g.http == nil {
		return domain.PaymentHandle{}, errors.New("momo: gateway is not initialised")
	}
	orderRef := strings.TrimSpace(req.Attempt.GatewayRef)
	if orderRef == "" {
		return domain.PaymentHandle{}, errors.New("momo: attempt has no gateway reference")
	}
	if req.Attempt.Amount <= 0 {
		return domain.PaymentHandle{}, errors.New("momo: amount must be positive")
	}

	orderInfo := "Thanh toan don hang " + req.Order.Code
	rawSignature := "accessKey=" + g.accessKey +
		"&amount=" + strconv.FormatInt(req.Attempt.Amount, 10) +
		"&extraData=" +
		"&ipnUrl=" + g.ipnURL +
		"&orderId=" + orderRef +
		"&orderInfo=" + orderInfo +
		"&partnerCode=" + g.partnerCode +
		"&redirectUrl=" + g.redirectURL +
		"&requestId=" + req.Attempt.ID +
		"&requestType=" + momoRequestType

	payload := momoCreateRequest{
		PartnerCode: g.partnerCode,
		AccessKey:   g.accessKey,
		RequestID:   req.Attempt.ID,
		Amount:      req.Attempt.Amount,
		OrderID:     orderRef,
		OrderInfo:   orderInfo,
		RedirectURL: g.redirectURL,
		IPNURL:      g.ipnURL,
		ExtraData:   "",
		RequestType: momoRequestType,
		Signature:   g.sign(rawSignature),
		Lang:        "vi",
	}

	var resp momoCreateResponse
	if err := g.post(ctx, momoCreatePath, payload, &resp); err != nil {
		return domain.PaymentHandle{}, err
	}
	if resp.ResultCode != momoResultSuccess {
		return domain.PaymentHandle{}, fmt.Errorf("momo: create payment rejected: %d %s", resp.ResultCode, resp.Message)
	}
	if strings.TrimSpace(resp.PayURL) == "" {
		return domain.PaymentHandle{}, errors.New("momo: create payment returned no payUrl")
	}

	g.logger(ctx, "payments.momo.created", map[string]any{
		"orderId":   orderRef,
		"orderCode": req.Order.Code,
		"amount":    req.Attempt.Amount,
		"hasQrCode": resp.QRCodeURL != "",
	})

	expiresAt := g.clock().Add(30 * time.Minute)
	return domain.PaymentHandle{
		Kind:        domain.HandleKindRedirect,
		AttemptID:   req.Attempt.ID,
		GatewayRef:  orderRef,
		RedirectURL: resp.PayURL,
		QRCodeURL:   resp.QRCodeURL,
		ExpiresAt:   &expiresAt,
	}, nil
}

type momoQueryRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	OrderID     string `json:"orderId"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

type momoQueryResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	Amount     int64  `json:"amount"`
	TransID    int64  `json:"transId"`
}

// Reconcile verifies the IPN signature when params are present, then asks
// MoMo's query API for the authoritative transaction state.
func (g *MoMoGateway) Reconcile(ctx context.Context, req ReconcileRequest) (ReconcileResult, error) {
	if g == nil || g.http == nil {
		return ReconcileResult{}, errors.New("momo: gateway is not initialised")
	}
	orderRef := strings.TrimSpace(req.Attempt.GatewayRef)
	if orderRef == "" {
		return ReconcileResult{}, errors.New("momo: attempt has no gateway reference")
	}

	if len(req.Params) > 0 && !g.VerifyIPNSignature(req.Params) {
		return ReconcileResult{}, errors.New("momo: invalid ipn signature")
	}

	rawSignature := "accessKey=" + g.accessKey +
		"&orderId=" + orderRef +
		"&partnerCode=" + g.partnerCode +
		"&requestId=" + req.Attempt.ID

	payload := momoQueryRequest{
		PartnerCode: g.partnerCode,
		AccessKey:   g.accessKey,
		RequestID:   req.Attempt.ID,
		OrderID:     orderRef,
		Signature:   g.sign(rawSignature),
		Lang:        "vi",
	}

	var resp momoQueryResponse
	if err := g.post(ctx, momoQueryPath, payload, &resp); err != nil {
		return ReconcileResult{}, err
	}

	result := ReconcileResult{
		Status: StatusFailed,
		Amount: resp.Amount,
		Raw: map[string]any{
			"resultCode": resp.ResultCode,
			"message":    resp.Message,
			"amount":     resp.Amount,
			"transId":    resp.TransID,
		},
	}
	if resp.TransID != 0 {
		result.GatewayTxnID = strconv.FormatInt(resp.TransID, 10)
	}
	switch resp.ResultCode {
	case momoResultSuccess:
		result.Status = StatusSucceeded
	case 1000, 7000, 7002, 9000:
		// Transaction initiated / being processed / authorised but not captured.
		result.Status = StatusPending
	default:
		result.FailureCode = strconv.Itoa(resp.ResultCode)
	}

	g.logger(ctx, "payments.momo.reconciled", map[string]any{
		"orderId":    orderRef,
		"resultCode": resp.ResultCode,
		"amount":     resp.Amount,
	})
	return result, nil
}

// VerifyIPNSignature recomputes the HMAC over the IPN fields in MoMo's
// documented order and compares it against the delivered signature.
func (g *MoMoGateway) VerifyIPNSignature(params url.Values) bool {
	if g == nil {
		return false
	}
	signature := strings.TrimSpace(params.Get("signature"))
	if signature == "" {
		return false
	}

	raw := "accessKey=" + g.accessKey +
		"&amount=" + params.Get("amount") +
		"&extraData=" + params.Get("extraData") +
		"&message=" + params.Get("message") +
		"&orderId=" + params.Get("orderId") +
		"&orderInfo=" + params.Get("orderInfo") +
		"&orderType=" + params.Get("orderType") +
		"&partnerCode=" + params.Get("partnerCode") +
		"&payType=" + params.Get("payType") +
		"&requestId=" + params.Get("requestId") +
		"&responseTime=" + params.Get("responseTime") +
		"&resultCode=" + params.Get("resultCode") +
		"&transId=" + params.Get("transId")

	return hmac.Equal([]byte(g.sign(raw)), []byte(signature))
}

func (g *MoMoGateway) sign(raw string) string {
	mac := hmac.New(sha256.New, []byte(g.secretKey))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *MoMoGateway) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("momo: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("momo: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("momo: call %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("momo: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("momo: %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("momo: decode response: %w", err)
	}
	return nil
}

var _ Gateway = (*MoMoGateway)(nil)
