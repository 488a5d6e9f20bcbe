package main

import (
	"context"
	"time"

	"github.com/professorai/tutorcore/internal/resilience"
	"github.com/professorai/tutorcore/pkg/provider/llm"
	"github.com/professorai/tutorcore/pkg/types"
)

// newProviderBreaker returns a circuit breaker tuned for an outbound
// provider call: five consecutive failures trips it, and it probes again
// after 20 seconds. name appears in the breaker's log lines.
func newProviderBreaker(name string) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  5,
		ResetTimeout: 20 * time.Second,
		HalfOpenMax:  2,
	})
}

// resilientLLM wraps an llm.Provider with a circuit breaker so a string of
// failures against a flaky backend stops adding latency to every chat turn
// — callers get ErrCircuitOpen immediately instead of waiting out a timeout
// on each request while the provider is down.
type resilientLLM struct {
	inner   llm.Provider
	breaker *resilience.CircuitBreaker
}

func (r *resilientLLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	var ch <-chan llm.Chunk
	err := r.breaker.Execute(func() error {
		var innerErr error
		ch, innerErr = r.inner.StreamCompletion(ctx, req)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (r *resilientLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := r.breaker.Execute(func() error {
		var innerErr error
		resp, innerErr = r.inner.Complete(ctx, req)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *resilientLLM) CountTokens(messages []types.Message) (int, error) {
	return r.inner.CountTokens(messages)
}

func (r *resilientLLM) Capabilities() types.ModelCapabilities {
	return r.inner.Capabilities()
}

var _ llm.Provider = (*resilientLLM)(nil)
