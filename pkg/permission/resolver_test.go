package permission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPendingResolver_RegisterAndResolve(t *testing.T) {
	r := NewPendingResolver()
	ch := r.Register("dec-1")

	require.NoError(t, r.Resolve("dec-1", true))

	select {
	case approved := <-ch:
		require.True(t, approved)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolution")
	}
}

func TestPendingResolver_ResolveUnknownDecision(t *testing.T) {
	r := NewPendingResolver()
	err := r.Resolve("nope", true)
	require.ErrorIs(t, err, ErrUnknownDecision)
}

func TestPendingResolver_ResolveOnlyOnce(t *testing.T) {
	r := NewPendingResolver()
	r.Register("dec-2")
	require.NoError(t, r.Resolve("dec-2", false))
	require.ErrorIs(t, r.Resolve("dec-2", true), ErrUnknownDecision)
}

func TestPendingResolver_Forget(t *testing.T) {
	r := NewPendingResolver()
	r.Register("dec-3")
	r.Forget("dec-3")
	require.ErrorIs(t, r.Resolve("dec-3", true), ErrUnknownDecision)
}
