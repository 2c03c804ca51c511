package hookengine

import (
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultMaxRetries = 2
	retryBackoff      = 100 * time.Millisecond
)

// Executor runs callbacks registered in a Registry with per-attempt
// timeout, retry, and panic isolation. Callbacks are assumed blocking and
// are dispatched onto a goroutine per attempt so a slow callback does not
// stall the caller's scheduler; cancellation on timeout is best-effort —
// the goroutine runs to completion but its result is discarded.
type Executor struct {
	registry   *Registry
	timeout    time.Duration
	maxRetries int
	logger     *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithTimeout overrides the default 5s per-attempt timeout.
func WithTimeout(d time.Duration) Option { return func(e *Executor) { e.timeout = d } }

// WithMaxRetries overrides the default of 2 additional attempts.
func WithMaxRetries(n int) Option { return func(e *Executor) { e.maxRetries = n } }

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option { return func(e *Executor) { e.logger = l } }

// NewExecutor creates an Executor over registry.
func NewExecutor(registry *Registry, opts ...Option) *Executor {
	e := &Executor{
		registry:   registry,
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteHook runs every callback registered under typ, in registration
// order, applying timeout/retry/panic-isolation to each. It returns the
// first failure encountered (after all retries for that callback are
// exhausted), but continues invoking every subsequent callback regardless.
func (e *Executor) ExecuteHook(typ HookType, payload HookPayload) error {
	callbacks := e.registry.Snapshot(typ)
	if len(callbacks) == 0 {
		return nil
	}

	var firstErr error
	for idx, cb := range callbacks {
		if err := e.runWithRetry(idx, cb, payload); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Executor) runWithRetry(idx int, cb Callback, payload HookPayload) error {
	var lastErr error
	attempts := e.maxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		err := e.runOnce(idx, cb, payload)
		if err == nil {
			return nil
		}
		lastErr = err

		hookErr, ok := err.(*HookError)
		if !ok {
			return err
		}
		hookErr.Attempt = attempt
		if !hookErr.IsRetryable() {
			return err
		}
		if attempt < attempts {
			e.logger.Warn("hook attempt failed, retrying",
				"hook_index", idx, "attempt", attempt, "error", err)
			time.Sleep(retryBackoff)
			continue
		}
	}

	if hookErr, ok := lastErr.(*HookError); ok && hookErr.IsRetryable() {
		return &HookError{Kind: ErrMaxRetriesExceeded, Hook: idx, Attempt: attempts}
	}
	return lastErr
}

// runOnce dispatches a single attempt onto its own goroutine, enforcing
// the per-attempt timeout and coercing panics into HookError.
func (e *Executor) runOnce(idx int, cb Callback, payload HookPayload) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &HookError{Kind: ErrPanic, Hook: idx, Message: fmt.Sprint(r)}
			}
		}()
		done <- toHookError(idx, cb.Execute(payload))
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(e.timeout):
		return &HookError{Kind: ErrTimeout, Hook: idx}
	}
}

func toHookError(idx int, err error) error {
	if err == nil {
		return nil
	}
	if he, ok := err.(*HookError); ok {
		return he
	}
	return &HookError{Kind: ErrExecutionFailed, Hook: idx, Where: "callback", Why: err.Error()}
}
