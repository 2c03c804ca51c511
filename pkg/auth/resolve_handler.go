package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ccodaemon/ccod/pkg/api"
	"github.com/ccodaemon/ccod/pkg/permission"
)

type resolveRequest struct {
	Approved bool `json:"approved"`
}

// ResolveHandler answers POST /api/hooks/decisions/{id}/resolve,
// verifying the caller's resolution token before unblocking the hook
// callback waiting on decisionID via resolver.
func ResolveHandler(issuer *ResolutionIssuer, resolver *permission.PendingResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decisionID := r.PathValue("id")
		if decisionID == "" {
			api.WriteBadRequest(w, "missing decision id")
			return
		}

		token := bearerToken(r)
		if token == "" {
			api.WriteUnauthorized(w, "missing resolution token")
			return
		}
		if err := issuer.Verify(token, decisionID); err != nil {
			api.WriteUnauthorized(w, "invalid resolution token")
			return
		}

		var req resolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.WriteBadRequest(w, "invalid request body")
			return
		}

		switch err := resolver.Resolve(decisionID, req.Approved); {
		case errors.Is(err, permission.ErrUnknownDecision):
			api.WriteNotFound(w, "decision not pending or already resolved")
		case err != nil:
			api.WriteInternal(w, err)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
