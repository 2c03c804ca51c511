package hookengine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestExecuteHook_InvokesInRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	exec := NewExecutor(reg)

	var mu sync.Mutex
	var order []int

	for i := 0; i < 5; i++ {
		i := i
		reg.Register(PreCommand, CallbackFunc(func(p HookPayload) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}

	err := exec.ExecuteHook(PreCommand, HookPayload{Command: "ls"})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestExecuteHook_EmptyRegistrySucceeds(t *testing.T) {
	exec := NewExecutor(NewRegistry())
	require.NoError(t, exec.ExecuteHook(PreCommand, HookPayload{}))
}

func TestExecuteHook_FirstErrorSurfacedRemainderStillRun(t *testing.T) {
	reg := NewRegistry()
	exec := NewExecutor(reg, WithMaxRetries(0))

	var ran []int
	var mu sync.Mutex
	mark := func(i int) { mu.Lock(); ran = append(ran, i); mu.Unlock() }

	reg.Register(PreCommand, CallbackFunc(func(p HookPayload) error {
		mark(0)
		return &HookError{Kind: ErrValidationFailed, Hook: 0}
	}))
	reg.Register(PreCommand, CallbackFunc(func(p HookPayload) error {
		mark(1)
		return &HookError{Kind: ErrValidationFailed, Hook: 1}
	}))
	reg.Register(PreCommand, CallbackFunc(func(p HookPayload) error {
		mark(2)
		return nil
	}))

	err := exec.ExecuteHook(PreCommand, HookPayload{})
	require.Error(t, err)
	he := err.(*HookError)
	require.Equal(t, 0, he.Hook)
	require.Equal(t, []int{0, 1, 2}, ran)
}

func TestExecuteHook_TimeoutYieldsMaxRetriesExceeded(t *testing.T) {
	reg := NewRegistry()
	exec := NewExecutor(reg, WithTimeout(10*time.Millisecond), WithMaxRetries(1))

	reg.Register(PostCommand, CallbackFunc(func(p HookPayload) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}))

	err := exec.ExecuteHook(PostCommand, HookPayload{})
	require.Error(t, err)
	he := err.(*HookError)
	require.Equal(t, ErrMaxRetriesExceeded, he.Kind)
	require.Equal(t, 2, he.Attempt)
}

func TestExecuteHook_PanicIsolated(t *testing.T) {
	reg := NewRegistry()
	exec := NewExecutor(reg, WithMaxRetries(0))

	var secondRan bool
	reg.Register(PreCommand, CallbackFunc(func(p HookPayload) error {
		panic("boom")
	}))
	reg.Register(PreCommand, CallbackFunc(func(p HookPayload) error {
		secondRan = true
		return nil
	}))

	err := exec.ExecuteHook(PreCommand, HookPayload{})
	require.Error(t, err)
	he := err.(*HookError)
	require.Equal(t, ErrPanic, he.Kind)
	require.Equal(t, "boom", he.Message)
	require.True(t, secondRan)
}

func TestExecuteHook_ValidationFailureNotRetried(t *testing.T) {
	reg := NewRegistry()
	exec := NewExecutor(reg, WithMaxRetries(3))

	attempts := 0
	reg.Register(PreCommand, CallbackFunc(func(p HookPayload) error {
		attempts++
		return &HookError{Kind: ErrValidationFailed}
	}))

	err := exec.ExecuteHook(PreCommand, HookPayload{})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestExecuteHook_PlainErrorIsRetried(t *testing.T) {
	// A plain (non-HookError) error is coerced to ExecutionFailed, which
	// IS retryable.
	reg := NewRegistry()
	exec := NewExecutor(reg, WithMaxRetries(2))

	attempts := 0
	reg.Register(PreCommand, CallbackFunc(func(p HookPayload) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}))

	err := exec.ExecuteHook(PreCommand, HookPayload{})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

// Property: for any registration count N, ExecuteHook invokes exactly N
// callbacks exactly once each, in order, when every callback succeeds.
func TestExecuteHook_Property_InvokesExactlyRegisteredCallbacks(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("all callbacks invoked once in order", prop.ForAll(
		func(n int) bool {
			reg := NewRegistry()
			exec := NewExecutor(reg)

			var mu sync.Mutex
			var order []int
			for i := 0; i < n; i++ {
				i := i
				reg.Register(PreCommand, CallbackFunc(func(p HookPayload) error {
					mu.Lock()
					order = append(order, i)
					mu.Unlock()
					return nil
				}))
			}

			err := exec.ExecuteHook(PreCommand, HookPayload{})
			if err != nil {
				return false
			}
			if len(order) != n {
				return false
			}
			for i, v := range order {
				if v != i {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
