package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/evalsvc/docreview/internal/core"
)

// ErrCircuitOpen is returned when the circuit breaker is blocking requests.
var ErrCircuitOpen = errors.New("provider circuit breaker is open")

// nonRetryableKeywords mark an error as never retryable, even though it may
// otherwise look transient.
var nonRetryableKeywords = []string{
	"prompt rejected", "invalid prompt", "authentication failed", "unauthorized", "401", "403",
}

// transientKeywords mark an error as retryable: network/timeout/provider-
// reported-transient. Case-insensitive substring scan, same idiom as
// internal/service/issues.isTransientError.
var transientKeywords = []string{
	"rate limit", "too many requests", "429", "quota exceeded",
	"timeout", "deadline exceeded", "context deadline",
	"connection refused", "network unreachable", "no route to host",
	"connection reset", "temporary failure", "i/o timeout",
	"500", "502", "503", "504", "internal server error", "bad gateway",
	"service unavailable", "gateway timeout",
	"overloaded", "capacity", "try again",
}

func containsAny(s string, keywords []string) bool {
	lower := strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if containsAny(msg, nonRetryableKeywords) {
		return false
	}
	return containsAny(msg, transientKeywords)
}

// IsCancelled reports whether err represents a caller-initiated cancellation
// of a provider invocation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ResilientConfig configures a Resilient provider wrapper.
type ResilientConfig struct {
	RetryPolicy      RetryPolicy
	FailureThreshold int
	ResetTimeout     time.Duration
}

// DefaultResilientConfig returns the documented default config.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		RetryPolicy:      DefaultRetryPolicy(),
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Second,
	}
}

// Resilient wraps a Provider with retry + circuit breaker, grounded on
// internal/service/issues.ResilientLLMExecutor.
type Resilient struct {
	inner   Provider
	cfg     ResilientConfig
	breaker *CircuitBreaker
	notify  RetryNotify
}

// NewResilient wraps inner. notify is invoked on each retry attempt (wire it
// to evaluator.retry/evaluator.timeout SSE publication).
func NewResilient(inner Provider, cfg ResilientConfig, notify RetryNotify) *Resilient {
	return &Resilient{
		inner:   inner,
		cfg:     cfg,
		breaker: NewCircuitBreaker(cfg.FailureThreshold, cfg.ResetTimeout),
		notify:  notify,
	}
}

// Name delegates to the wrapped provider.
func (r *Resilient) Name() string { return r.inner.Name() }

// Invoke retries opts.Timeout-scoped calls to the wrapped provider per the
// retry policy, short-circuiting via the breaker when the upstream has been
// persistently failing.
func (r *Resilient) Invoke(ctx context.Context, opts InvokeOptions) (*InvokeResult, error) {
	if !r.breaker.AllowRequest() {
		return nil, ErrCircuitOpen
	}

	var result *InvokeResult
	err := r.cfg.RetryPolicy.Execute(ctx, isTransientError, r.notify, func(ctx context.Context) error {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if opts.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}
		res, execErr := r.inner.Invoke(attemptCtx, opts)
		if execErr != nil {
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !IsCancelled(ctx.Err()) {
				return core.ErrTimeout("provider invocation timed out").WithCause(execErr)
			}
			return execErr
		}
		result = res
		return nil
	})

	if err != nil {
		r.breaker.RecordFailure()
		var exhausted *RetryExhaustedError
		if errors.As(err, &exhausted) {
			return nil, core.ErrProvider("PROVIDER_ERROR", exhausted.Error(), false).WithCause(exhausted.LastErr)
		}
		return nil, err
	}
	r.breaker.RecordSuccess()
	return result, nil
}
