package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ccodaemon/ccod/pkg/identity"
)

func TestResolutionIssuer_IssueAndVerify(t *testing.T) {
	keys, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)
	issuer := NewResolutionIssuer(keys)

	token, err := issuer.IssueFor(context.Background(), "decision-1")
	require.NoError(t, err)

	require.NoError(t, issuer.Verify(token, "decision-1"))
}

func TestResolutionIssuer_RejectsWrongDecision(t *testing.T) {
	keys, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)
	issuer := NewResolutionIssuer(keys)

	token, err := issuer.IssueFor(context.Background(), "decision-1")
	require.NoError(t, err)

	err = issuer.Verify(token, "decision-2")
	require.Error(t, err)
}

func TestResolutionIssuer_RejectsMalformedToken(t *testing.T) {
	keys, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)
	issuer := NewResolutionIssuer(keys)

	err = issuer.Verify("not-a-jwt", "decision-1")
	require.Error(t, err)
}
