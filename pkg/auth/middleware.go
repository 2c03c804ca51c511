package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/ccodaemon/ccod/pkg/api"
)

type contextKey int

const tokenRecordKey contextKey = iota

// publicPaths never require a bearer token.
var publicPaths = []string{"/health"}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// NewMiddleware builds bearer-auth middleware backed by store. A nil
// store fails closed: every non-public request is rejected.
func NewMiddleware(store *TokenStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if store == nil {
				api.WriteUnauthorized(w, "authentication not configured")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteUnauthorized(w, "missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				api.WriteUnauthorized(w, "expected 'Bearer <token>'")
				return
			}

			record, err := store.Validate(parts[1])
			if err != nil {
				api.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), tokenRecordKey, record)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RecordFromContext returns the validated token record for the
// current request, if any.
func RecordFromContext(ctx context.Context) (*TokenRecord, bool) {
	rec, ok := ctx.Value(tokenRecordKey).(*TokenRecord)
	return rec, ok
}
