package synthesis

import (
	"context"

	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/log"
)

// Chain is a Synthesizer that tries an ordered list of backends, each with a
// bounded number of attempts, falling through to the next on failure. The
// chain is resolved at construction time; there is no ad hoc probing at call
// sites.
type Chain struct {
	backends []Synthesizer
	attempts int
}

// NewChain builds a fallback chain over the given backends.
// attempts is the per-backend try count; values below 1 default to 2.
func NewChain(attempts int, backends ...Synthesizer) *Chain {
	if attempts < 1 {
		attempts = 2
	}
	return &Chain{
		backends: backends,
		attempts: attempts,
	}
}

// Synthesize implements the Synthesizer interface.
func (c *Chain) Synthesize(ctx context.Context, req Request) (RawResult, error) {
	if len(c.backends) == 0 {
		return RawResult{}, errors.Wrap(errors.ErrConfiguration, "synthesis chain has no backends")
	}

	var lastErr error
	for i, backend := range c.backends {
		for attempt := 1; attempt <= c.attempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return RawResult{}, errors.Wrap(errors.ErrSynthesis, "synthesis cancelled")
			}

			result, err := backend.Synthesize(ctx, req)
			if err == nil {
				return result, nil
			}
			lastErr = err
			log.WarnContext(ctx, "Synthesis attempt failed",
				"backend", i,
				"attempt", attempt,
				"error", err)
		}
	}

	return RawResult{}, errors.Wrap(errors.ErrSynthesis, "all backends exhausted (%v)", lastErr)
}
