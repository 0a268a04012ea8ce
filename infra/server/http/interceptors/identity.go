package interceptors

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	// IdentityContextKey is the key used to store/retrieve the caller identity from context
	IdentityContextKey contextKey = "identity"

	IdentityHeader = "X-Im-Identity"
	IdentityQuery  = "identity"
)

// NewIdentityInterceptor resolves the caller identity before a live
// connection opens. Authentication happens upstream (gateway); this layer
// only requires that an identity was forwarded.
func NewIdentityInterceptor() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// [PRE_AUTH] browsers cannot set headers on WebSocket upgrades, so
			// the query parameter is accepted as well
			identity := strings.TrimSpace(r.Header.Get(IdentityHeader))
			if identity == "" {
				identity = strings.TrimSpace(r.URL.Query().Get(IdentityQuery))
			}
			if identity == "" {
				http.Error(w, "identity is required", http.StatusUnauthorized)
				return
			}

			// [ENRICHMENT] Inject the identity into the context for downstream handlers
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, IdentityContextKey, identity)
}

// GetIdentity is a helper to extract the identity from context safely.
func GetIdentity(ctx context.Context) (string, bool) {
	identity, ok := ctx.Value(IdentityContextKey).(string)
	return identity, ok && identity != ""
}
