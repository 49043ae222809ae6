// Package provider implements the Provider abstraction: a retryable,
// cancellable CLI invocation of an external AI coding agent with
// working-directory and write-mode controls.
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/evalsvc/docreview/internal/core"
)

// TokenUsage mirrors the usage block returned by invoke().
type TokenUsage struct {
	Input       int `json:"input"`
	Output      int `json:"output"`
	CacheCreate int `json:"cacheCreate"`
	CacheRead   int `json:"cacheRead"`
}

// InvokeOptions configures one provider call.
type InvokeOptions struct {
	Prompt       string
	SystemPrompt string
	Model        string
	Temperature  float64
	Cwd          string
	WriteMode    bool
	Timeout      time.Duration
}

// InvokeResult is the normalized output of one provider call.
type InvokeResult struct {
	ResultText string
	Usage      TokenUsage
	CostUSD    float64
	DurationMs int64
}

// RetryNotify is called once per retry attempt; it is how callers wire
// evaluator.retry/evaluator.timeout SSE events into the provider layer
// without the provider package depending on internal/sse.
type RetryNotify func(attempt, max int, truncatedErr string, remaining int)

// Provider invokes an external AI CLI agent.
type Provider interface {
	// Name returns the provider's registry key.
	Name() string
	// Invoke runs prompt once, honoring opts.Cwd and opts.WriteMode. It must
	// return within opts.Timeout of cancellation, and return a distinguishable
	// error when ctx is cancelled (see IsCancelled).
	Invoke(ctx context.Context, opts InvokeOptions) (*InvokeResult, error)
}

// Registry is a named mapping {provider -> invoker}, with availability
// checks. Lookup by an unregistered name fails with a specific error.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its own Name().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get looks up a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, core.ErrProvider("AGENT_NOT_FOUND", "no provider registered with name: "+name, false)
	}
	return p, nil
}

// List returns every registered provider name.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
