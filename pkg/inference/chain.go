package inference

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// Chain falls back through providers in order, starting from the provider
// that last answered.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
	preferred atomic.Int32
}

// NewChain creates a provider chain. At least one provider is required; a
// nil logger uses slog.Default.
func NewChain(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers: providers,
		logger:    logger.With("component", "inference.chain"),
	}, nil
}

// Name implements Provider.
func (c *Chain) Name() string { return "chain" }

// Vision tries each provider once, starting from the preferred one. A request
// without an image fails immediately.
func (c *Chain) Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
	start := int(c.preferred.Load())
	errs := make([]error, 0, len(c.providers))

	for n := range len(c.providers) {
		i := (start + n) % len(c.providers)
		p := c.providers[i]

		resp, err := p.Vision(ctx, req)
		if err == nil {
			if i != start {
				c.preferred.Store(int32(i))
				c.logger.Info("switched provider", "provider", p.Name(), "provider_index", i)
			}
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrNoImage) {
			return nil, err
		}

		errs = append(errs, err)
		c.logger.Warn("provider failed, trying next", "provider", p.Name(), "provider_index", i, "error", err)
	}
	return nil, &ChainError{Errors: errs}
}

// Preferred returns the provider the next request starts with.
func (c *Chain) Preferred() Provider {
	return c.providers[c.preferred.Load()]
}

// Health succeeds when any provider is healthy.
func (c *Chain) Health(ctx context.Context) error {
	var errs []error
	for _, p := range c.providers {
		err := p.Health(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return WrapError("chain", &ChainError{Errors: errs})
}

// Close closes every provider.
func (c *Chain) Close() error {
	var errs []error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Providers returns the providers in configured order.
func (c *Chain) Providers() []Provider {
	return c.providers
}

var _ Provider = (*Chain)(nil)
