package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/memvault/memvault/pkg/synthesis"
)

// Synthesizer implements the synthesis.Synthesizer interface with canned
// results for tests.
type Synthesizer struct {
	// result is returned by every successful call
	result synthesis.RawResult

	// failures is how many leading calls should fail before succeeding
	failures int

	// shouldError makes every call fail
	shouldError bool

	// requests records every request received
	requests []synthesis.Request

	mu sync.Mutex
}

// Option configures a mock Synthesizer.
type Option func(*Synthesizer)

// WithResult sets the canned result.
func WithResult(result synthesis.RawResult) Option {
	return func(s *Synthesizer) {
		s.result = result
	}
}

// WithFailures makes the first n calls fail before succeeding.
func WithFailures(n int) Option {
	return func(s *Synthesizer) {
		s.failures = n
	}
}

// WithShouldError makes every call fail.
func WithShouldError(shouldErr bool) Option {
	return func(s *Synthesizer) {
		s.shouldError = shouldErr
	}
}

// NewSynthesizer creates a mock Synthesizer.
func NewSynthesizer(opts ...Option) *Synthesizer {
	s := &Synthesizer{
		result: synthesis.RawResult{
			Summary:      "mock summary",
			MetadataJSON: "{}",
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Requests returns a copy of the recorded requests.
func (s *Synthesizer) Requests() []synthesis.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]synthesis.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Synthesize implements the synthesis.Synthesizer interface.
func (s *Synthesizer) Synthesize(ctx context.Context, req synthesis.Request) (synthesis.RawResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)

	if s.shouldError {
		return synthesis.RawResult{}, errors.New("mock synthesizer error")
	}
	if s.failures > 0 {
		s.failures--
		return synthesis.RawResult{}, errors.New("mock synthesizer transient failure")
	}
	return s.result, nil
}
