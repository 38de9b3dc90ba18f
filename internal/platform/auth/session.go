package auth

import (
	"context"
	"net/http"
	"regexp"
	"strings"
)

// DefaultSessionHeader carries the opaque guest session identifier issued by
// the storefront frontend.
const DefaultSessionHeader = "X-Session-Id"

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)

type sessionContextKey struct{}

// WithSessionID stores the guest session identifier on the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sessionID)
}

// SessionIDFromContext retrieves the guest session identifier when present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(sessionContextKey{}).(string)
	if !ok || sessionID == "" {
		return "", false
	}
	return sessionID, true
}

// OptionalShopperAuth resolves the shopper identity without requiring one.
// A valid bearer token populates the Firebase identity; otherwise a
// well-formed session header is accepted as a guest identity. Requests with
// neither pass through untouched so handlers can reject them contextually.
func (a *Authenticator) OptionalShopperAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if sessionID := normaliseSessionID(r.Header.Get(DefaultSessionHeader)); sessionID != "" {
				ctx = WithSessionID(ctx, sessionID)
			}

			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok || a == nil || a.verifier == nil {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			verifyCtx, cancel := a.contextWithTimeout(ctx)
			if cancel != nil {
				defer cancel()
			}

			token, err := a.verifier.VerifyIDToken(verifyCtx, tokenStr)
			if err != nil {
				// An explicit but invalid token is rejected rather than
				// silently downgraded to a guest.
				respondVerificationError(w, err)
				return
			}

			identity := &Identity{
				UID:    token.UID,
				Email:  claimAsString(token.Claims, a.emailClaim),
				Locale: claimAsString(token.Claims, a.localeClaim),
				Roles:  rolesFromClaims(token.Claims, a.roleClaim),
				token:  token,
			}
			if len(identity.Roles) == 0 && a.fallbackRole != "" {
				identity.Roles = []string{a.fallbackRole}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func normaliseSessionID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !sessionIDPattern.MatchString(trimmed) {
		return ""
	}
	return trimmed
}
