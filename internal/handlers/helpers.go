package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	domain "github.com/phankid/api/internal/domain"
	"github.com/phankid/api/internal/platform/auth"
	"github.com/phankid/api/internal/platform/httpx"
	"github.com/phankid/api/internal/services"
)

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

// readLimitedBody reads at most limit bytes from the request body, failing
// when the payload exceeds it.
func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, errEmptyBody
	}
	defer r.Body.Close()

	reader := io.LimitReader(r.Body, limit+1)
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func parseTimeParam(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// shopperFromRequest resolves the shopper reference for the request: a
// Firebase identity wins over a guest session header.
func shopperFromRequest(r *http.Request) services.ShopperRef {
	ctx := r.Context()
	if identity, ok := auth.IdentityFromContext(ctx); ok && strings.TrimSpace(identity.UID) != "" {
		return services.ShopperRef{UserID: identity.UID}
	}
	if sessionID, ok := auth.SessionIDFromContext(ctx); ok {
		return services.ShopperRef{SessionID: sessionID}
	}
	return services.ShopperRef{}
}

func writeUnauthenticated(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication or a session header is required", http.StatusUnauthorized))
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware rewrites RemoteAddr from the forwarding headers.
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 && !strings.Contains(host[idx:], "]") {
		host = host[:idx]
	}
	return strings.Trim(host, "[]")
}

func parsePageSize(raw string, fallback, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	switch {
	case size <= 0:
		return fallback, nil
	case size > max:
		return max, nil
	default:
		return size, nil
	}
}

func parseStatusFilters(values []string) ([]domain.OrderStatus, bool) {
	var out []domain.OrderStatus
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(part)))
			if status == "" {
				continue
			}
			if !status.Valid() {
				return nil, false
			}
			out = append(out, status)
		}
	}
	return out, true
}

func parseMethodFilters(values []string) ([]domain.PaymentMethod, bool) {
	var out []domain.PaymentMethod
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			method := domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(part)))
			if method == "" {
				continue
			}
			if !method.Valid() {
				return nil, false
			}
			out = append(out, method)
		}
	}
	return out, true
}
