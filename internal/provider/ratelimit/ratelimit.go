package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"stockquote/internal/provider"
)

// NewLimiter builds a token bucket allowing perMinute calls with the given
// burst. perMinute <= 0 falls back to minInterval spacing; when both are
// unset the limiter is nil and calls are not gated.
func NewLimiter(perMinute, burst int, minInterval time.Duration) *rate.Limiter {
	if burst <= 0 {
		burst = 1
	}
	switch {
	case perMinute > 0:
		return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
	case minInterval > 0:
		return rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return nil
}

// wait blocks for a token. rate.Limiter.Wait fails immediately when the
// token would arrive after the context deadline.
func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", provider.ErrRateLimited, err)
	}
	return nil
}

// Primary wraps a primary provider and gates calls through L.
type Primary struct {
	P provider.Primary
	L *rate.Limiter
}

func (p *Primary) Name() string { return p.P.Name() }

func (p *Primary) Fetch(ctx context.Context, symbol string) (provider.Partial, error) {
	if err := wait(ctx, p.L); err != nil {
		return provider.Partial{}, provider.NewUpstreamError(p.P.Name(), symbol, 0, err)
	}
	return p.P.Fetch(ctx, symbol)
}

// Scraper wraps a scraper. A call that cannot get a token in time yields an
// empty result, like any other scrape failure.
type Scraper struct {
	S       provider.Scraper
	L       *rate.Limiter
	OnLimit func(symbol string, err error)
}

func (s *Scraper) Name() string { return s.S.Name() }

func (s *Scraper) Scrape(ctx context.Context, symbol string) provider.Partial {
	if err := wait(ctx, s.L); err != nil {
		if s.OnLimit != nil {
			s.OnLimit(symbol, err)
		}
		return provider.Partial{}
	}
	return s.S.Scrape(ctx, symbol)
}
