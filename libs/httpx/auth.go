package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/clinicbook/libs/auth"
)

const (
	ctxKeyClaims ctxKey = iota + 1
	ctxKeySubjectSlot
)

// ClaimsFromContext returns the verified token claims stored by WithAuth.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(*auth.Claims)
	return c, ok && c != nil
}

func ContextWithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, claims)
}

// withSubjectSlot lets an outer middleware learn who WithAuth authenticated further in.
func withSubjectSlot(ctx context.Context, slot *string) context.Context {
	return context.WithValue(ctx, ctxKeySubjectSlot, slot)
}

func recordSubject(ctx context.Context, sub string) {
	if slot, ok := ctx.Value(ctxKeySubjectSlot).(*string); ok {
		*slot = sub
	}
}

// WithAuth verifies a Bearer token (RS256 via JWKS when configured, HS256 with the
// shared secret) and stores its claims in the request context.
func WithAuth(jwtSecret string, jwksClient *auth.JWKSClient) Middleware {
	verifier := auth.NewVerifier(jwtSecret, jwksClient)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

			claims, err := verifier.Verify(r.Context(), token)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			recordSubject(r.Context(), claims.Sub)
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole rejects requests whose claims carry none of the given roles. Use after WithAuth.
func RequireRole(roles ...string) Middleware {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
