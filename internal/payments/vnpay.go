package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	domain "github.com/phankid/api/internal/domain"
)

const (
	vnpayVersion    = "2.1.0"
	vnpayCommandPay = "pay"
	vnpayTimeLayout = "20060102150405"

	vnpayCodeSuccess = "00"
)

// VNPay timestamps are expressed in Vietnam local time regardless of the
// merchant's server zone.
var vnpayLocation = time.FixedZone("ICT", 7*60*60)

// VNPayGatewayConfig configures the VNPay wallet gateway.
type VNPayGatewayConfig struct {
	TMNCode    string
	HashSecret string
	PayURL     string
	APIURL     string
	ReturnURL  string
	HTTPClient httpDoer
	Logger     GatewayLogger
	Clock      func() time.Time
}

// VNPayGateway collects wallet payments through VNPay's hosted payment page.
// The redirect URL is HMAC-SHA512 signed over the sorted, URL-encoded
// parameters; reconciliation re-queries the querydr API rather than trusting
// return-URL parameters.
type VNPayGateway struct {
	tmnCode    string
	hashSecret string
	payURL     string
	apiURL     string
	returnURL  string
	http       httpDoer
	clock      func() time.Time
	logger     GatewayLogger
}

// NewVNPayGateway constructs a VNPay wallet gateway.
func NewVNPayGateway(cfg VNPayGatewayConfig) (*VNPayGateway, error) {
	tmnCode := strings.TrimSpace(cfg.TMNCode)
	hashSecret := strings.TrimSpace(cfg.HashSecret)
	payURL := strings.TrimSpace(cfg.PayURL)
	apiURL := strings.TrimSpace(cfg.APIURL)
	if tmnCode == "" || hashSecret == "" {
		return nil, errors.New("vnpay: tmn code and hash secret are required")
	}
	if payURL == "" || apiURL == "" {
		return nil, errors.New("vnpay: pay url and api url are required")
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

	return &VNPayGateway{
		tmnCode:    tmnCode,
		hashSecret: hashSecret,
		payURL:     payURL,
		apiURL:     apiURL,
		returnURL:  strings.TrimSpace(cfg.ReturnURL),
		http:       httpClient,
		clock:      func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

// Method reports the payment method this gateway serves.
func (g *VNPayGateway) Method() domain.PaymentMethod {
	return domain.PaymentMethodVNPay
}

// Initiate builds the signed hosted-payment URL. VNPay has no separate QR
// endpoint; the hosted page renders the QR itself, so the handle carries the
// redirect URL only.
func (g *VNPayGateway) Initiate(_ context.Context, req InitiateRequest) (domain.PaymentHandle, error) {
	if g == nil {
		return domain.PaymentHandle{}, errors.New("vnpay: gateway is not initialised")
	}
	txnRef := strings.TrimSpace(req.Attempt.GatewayRef)
	if txnRef == "" {
		return domain.PaymentHandle{}, errors.New("vnpay: attempt has no gateway reference")
	}
	if req.Attempt.Amount <= 0 {
		return domain.PaymentHandle{}, errors.New("vnpay: amount must be positive")
	}

	now := g.clock().In(vnpayLocation)
	expire := now.Add(30 * time.Minute)
	clientIP := strings.TrimSpace(req.ClientIP)
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}

	params := url.Values{}
	params.Set("vnp_Version", vnpayVersion)
	params.Set("vnp_Command", vnpayCommandPay)
	params.Set("vnp_TmnCode", g.tmnCode)
	// VNPay expects the amount multiplied by 100.
	params.Set("vnp_Amount", strconv.FormatInt(req.Attempt.Amount*100, 10))
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", txnRef)
	params.Set("vnp_OrderInfo", "Thanh toan don hang "+req.Order.Code)
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", "vn")
	params.Set("vnp_ReturnUrl", g.returnURL)
	params.Set("vnp_IpAddr", clientIP)
	params.Set("vnp_CreateDate", now.Format(vnpayTimeLayout))
	params.Set("vnp_ExpireDate", expire.Format(vnpayTimeLayout))

	signData := hashData(params)
	params.Set("vnp_SecureHash", g.sign(signData))

	expiresAt := expire.UTC()
	return domain.PaymentHandle{
		Kind:        domain.HandleKindRedirect,
		AttemptID:   req.Attempt.ID,
		GatewayRef:  txnRef,
		RedirectURL: g.payURL + "?" + params.Encode(),
		ExpiresAt:   &expiresAt,
	}, nil
}

type vnpayQueryRequest struct {
	RequestID       string `json:"vnp_RequestId"`
	Version         string `json:"vnp_Version"`
	Command         string `json:"vnp_Command"`
	TMNCode         string `json:"vnp_TmnCode"`
	TxnRef          string `json:"vnp_TxnRef"`
	OrderInfo       string `json:"vnp_OrderInfo"`
	TransactionDate string `json:"vnp_TransactionDate"`
	CreateDate      string `json:"vnp_CreateDate"`
	IPAddr          string `json:"vnp_IpAddr"`
	SecureHash      string `json:"vnp_SecureHash"`
}

type vnpayQueryResponse struct {
	ResponseCode      string `json:"vnp_ResponseCode"`
	Message           string `json:"vnp_Message"`
	TransactionStatus string `json:"vnp_TransactionStatus"`
	Amount            string `json:"vnp_Amount"`
	TransactionNo     string `json:"vnp_TransactionNo"`
}

// Reconcile verifies the callback signature when parameters are present and
// then asks the querydr API for the authoritative transaction state.
func (g *VNPayGateway) Reconcile(ctx context.Context, req ReconcileRequest) (ReconcileResult, error) {
	if g == nil || g.http == nil {
		return ReconcileResult{}, errors.New("vnpay: gateway is not initialised")
	}
	txnRef := strings.TrimSpace(req.Attempt.GatewayRef)
	if txnRef == "" {
		return ReconcileResult{}, errors.New("vnpay: attempt has no gateway reference")
	}

	if len(req.Params) > 0 && !g.VerifySignature(req.Params) {
		return ReconcileResult{}, errors.New("vnpay: invalid callback signature")
	}

	now := g.clock().In(vnpayLocation)
	transactionDate := strings.TrimSpace(req.Params.Get("vnp_PayDate"))
	if transactionDate == "" {
		transactionDate = req.Attempt.CreatedAt.In(vnpayLocation).Format(vnpayTimeLayout)
	}

	query := vnpayQueryRequest{
		RequestID:       req.Attempt.ID,
		Version:         vnpayVersion,
		Command:         "querydr",
		TMNCode:         g.tmnCode,
		TxnRef:          txnRef,
		OrderInfo:       "Truy van giao dich " + txnRef,
		TransactionDate: transactionDate,
		CreateDate:      now.Format(vnpayTimeLayout),
		IPAddr:          "127.0.0.1",
	}
	query.SecureHash = g.sign(strings.Join([]string{
		query.RequestID,
		query.Version,
		query.Command,
		query.TMNCode,
		query.TxnRef,
		query.TransactionDate,
		query.CreateDate,
		query.IPAddr,
		query.OrderInfo,
	}, "|"))

	var resp vnpayQueryResponse
	if err := g.post(ctx, query, &resp); err != nil {
		return ReconcileResult{}, err
	}

	amount := int64(0)
	if raw := strings.TrimSpace(resp.Amount); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return ReconcileResult{}, fmt.Errorf("vnpay: parse amount %q: %w", raw, err)
		}
		amount = parsed / 100
	}

	result := ReconcileResult{
		Status:       StatusFailed,
		Amount:       amount,
		GatewayTxnID: strings.TrimSpace(resp.TransactionNo),
		Raw: map[string]any{
			"responseCode":      resp.ResponseCode,
			"transactionStatus": resp.TransactionStatus,
			"amount":            resp.Amount,
			"message":           resp.Message,
		},
	}
	switch {
	case resp.ResponseCode == vnpayCodeSuccess && resp.TransactionStatus == vnpayCodeSuccess:
		result.Status = StatusSucceeded
	case resp.TransactionStatus == "01":
		// Transaction pending at the gateway.
		result.Status = StatusPending
	default:
		result.FailureCode = resp.TransactionStatus
		if result.FailureCode == "" {
			result.FailureCode = resp.ResponseCode
		}
	}

	g.logger(ctx, "payments.vnpay.reconciled", map[string]any{
		"txnRef":            txnRef,
		"responseCode":      resp.ResponseCode,
		"transactionStatus": resp.TransactionStatus,
		"amount":            amount,
	})
	return result, nil
}

// VerifySignature recomputes the secure hash over the callback parameters,
// excluding the hash fields themselves.
func (g *VNPayGateway) VerifySignature(params url.Values) bool {
	if g == nil {
		return false
	}
	signature := strings.TrimSpace(params.Get("vnp_SecureHash"))
	if signature == "" {
		return false
	}

	filtered := url.Values{}
	for key, values := range params {
		if key == "vnp_SecureHash" || key == "vnp_SecureHashType" {
			continue
		}
		for _, v := range values {
			filtered.Add(key, v)
		}
	}

	expected := g.sign(hashData(filtered))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

// hashData builds the canonical sign string: keys sorted ascending, values
// URL-encoded, joined with &.
func hashData(params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		if params.Get(key) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(key)))
	}
	return b.String()
}

func (g *VNPayGateway) sign(raw string) string {
	mac := hmac.New(sha512.New, []byte(g.hashSecret))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *VNPayGateway) post(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("vnpay: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("vnpay: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("vnpay: call querydr: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("vnpay: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vnpay: querydr returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("vnpay: decode response: %w", err)
	}
	return nil
}

var _ Gateway = (*VNPayGateway)(nil)
