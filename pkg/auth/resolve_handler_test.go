package auth

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ccodaemon/ccod/pkg/identity"
	"github.com/ccodaemon/ccod/pkg/permission"
)

func newTestIssuer(t *testing.T) *ResolutionIssuer {
	t.Helper()
	keys, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)
	return NewResolutionIssuer(keys)
}

func doResolve(t *testing.T, handler http.HandlerFunc, decisionID, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/hooks/decisions/"+decisionID+"/resolve", bytes.NewBufferString(body))
	req.SetPathValue("id", decisionID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestResolveHandler_ApprovesPendingDecision(t *testing.T) {
	issuer := newTestIssuer(t)
	resolver := permission.NewPendingResolver()
	ch := resolver.Register("dec-1")

	token, err := issuer.IssueFor(context.Background(), "dec-1")
	require.NoError(t, err)

	rec := doResolve(t, ResolveHandler(issuer, resolver), "dec-1", token, `{"approved":true}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, <-ch)
}

func TestResolveHandler_RejectsMissingToken(t *testing.T) {
	issuer := newTestIssuer(t)
	resolver := permission.NewPendingResolver()
	resolver.Register("dec-2")

	rec := doResolve(t, ResolveHandler(issuer, resolver), "dec-2", "", `{"approved":true}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResolveHandler_RejectsTokenForWrongDecision(t *testing.T) {
	issuer := newTestIssuer(t)
	resolver := permission.NewPendingResolver()
	resolver.Register("dec-3")

	token, err := issuer.IssueFor(context.Background(), "dec-other")
	require.NoError(t, err)

	rec := doResolve(t, ResolveHandler(issuer, resolver), "dec-3", token, `{"approved":true}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResolveHandler_UnknownDecisionReturnsNotFound(t *testing.T) {
	issuer := newTestIssuer(t)
	resolver := permission.NewPendingResolver()

	token, err := issuer.IssueFor(context.Background(), "dec-4")
	require.NoError(t, err)

	rec := doResolve(t, ResolveHandler(issuer, resolver), "dec-4", token, `{"approved":false}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
