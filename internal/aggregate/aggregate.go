// Package aggregate assembles one QuoteResult per symbol from the primary
// provider, the scraper and the reference table, in that order.
package aggregate

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stockquote/internal/metrics"
	"stockquote/internal/provider"
)

// Tier labels used in logs and metrics.
const (
	TierPrimary  = "primary"
	TierScrape   = "scrape"
	TierFallback = "fallback"
)

//go:generate mockgen -package=aggregate_test -destination=mock_provider_test.go stockquote/internal/provider Primary,Scraper

// Resolver is the last tier. It must always return a finalized result.
type Resolver interface {
	Resolve(symbol provider.Symbol, res provider.QuoteResult) provider.QuoteResult
}

type Options struct {
	// DefaultSymbol answers requests that name no symbol.
	DefaultSymbol string
	// ScrapeExchange is used for the scrape notation of bare tickers.
	ScrapeExchange string
	// TierTimeout bounds each tier separately.
	TierTimeout time.Duration
	// Concurrency bounds GetQuotes fan-out.
	Concurrency int
}

type Aggregator struct {
	primary  provider.Primary
	scraper  provider.Scraper
	resolver Resolver
	opts     Options
	metrics  *metrics.Recorder
	log      zerolog.Logger
}

// New wires the tiers. primary and scraper may be nil when disabled;
// resolver is required. rec may be nil.
func New(primary provider.Primary, scraper provider.Scraper, resolver Resolver, opts Options, rec *metrics.Recorder, log zerolog.Logger) *Aggregator {
	if opts.DefaultSymbol == "" {
		opts.DefaultSymbol = "INFY.NS"
	}
	if opts.TierTimeout <= 0 {
		opts.TierTimeout = 12 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &Aggregator{
		primary:  primary,
		scraper:  scraper,
		resolver: resolver,
		opts:     opts,
		metrics:  rec,
		log:      log.With().Str("component", "aggregate").Logger(),
	}
}

// DefaultSymbol is the symbol used when a request names none.
func (a *Aggregator) DefaultSymbol() string { return a.opts.DefaultSymbol }

// GetQuote never fails. Whatever the upstreams do, the result carries both
// ratios as a positive decimal or "N/A", with each field's origin stamped.
// The price is only ever taken from the primary provider.
func (a *Aggregator) GetQuote(ctx context.Context, symbol string) provider.QuoteResult {
	start := time.Now()
	raw := strings.TrimSpace(symbol)
	if raw == "" {
		raw = a.opts.DefaultSymbol
	}
	sym := provider.ParseSymbol(raw)
	log := a.log.With().Str("symbol", raw).Logger()

	res := provider.NewResult(raw)
	res = a.primaryTier(ctx, log, sym, res)

	if res.Partial().RatiosComplete() {
		a.metrics.Tier(TierScrape, metrics.OutcomeSkipped)
	} else {
		res = a.scrapeTier(ctx, log, sym, res)
	}

	before := res
	res = a.resolver.Resolve(sym, res)
	switch {
	case before.Partial().RatiosComplete():
		a.metrics.Tier(TierFallback, metrics.OutcomeSkipped)
	case added(before, res, provider.Fallback):
		a.metrics.Tier(TierFallback, metrics.OutcomeHit)
	default:
		a.metrics.Tier(TierFallback, metrics.OutcomeMiss)
	}

	took := time.Since(start)
	a.metrics.Quote(res, took)
	log.Debug().
		Str("pe", res.PERatio).
		Str("eps", res.EPS).
		Str("quality", string(res.DataQuality)).
		Dur("took", took).
		Msg("quote assembled")
	return res
}

func (a *Aggregator) primaryTier(ctx context.Context, log zerolog.Logger, sym provider.Symbol, res provider.QuoteResult) provider.QuoteResult {
	if a.primary == nil {
		a.metrics.Tier(TierPrimary, metrics.OutcomeSkipped)
		return res
	}
	tctx, cancel := context.WithTimeout(ctx, a.opts.TierTimeout)
	defer cancel()

	p, err := a.primary.Fetch(tctx, sym.PriceNotation())
	if err != nil {
		a.metrics.Tier(TierPrimary, metrics.OutcomeError)
		log.Warn().Err(err).Str("tier", TierPrimary).Msg("primary provider failed")
		return res
	}
	out := res.Merge(sanitize(p), provider.Live)
	a.metrics.Tier(TierPrimary, outcome(res, out, provider.Live))
	return out
}

func (a *Aggregator) scrapeTier(ctx context.Context, log zerolog.Logger, sym provider.Symbol, res provider.QuoteResult) provider.QuoteResult {
	if a.scraper == nil {
		a.metrics.Tier(TierScrape, metrics.OutcomeSkipped)
		return res
	}
	tctx, cancel := context.WithTimeout(ctx, a.opts.TierTimeout)
	defer cancel()

	p := sanitize(a.scraper.Scrape(tctx, sym.ScrapeNotation(a.opts.ScrapeExchange)))
	if p.EPS != "" && p.EPS == p.PERatio {
		p.EPS = ""
	}
	// The scraper only speaks for the ratios.
	out := res.Merge(provider.Partial{PERatio: p.PERatio, EPS: p.EPS}, provider.Scraped)
	o := outcome(res, out, provider.Scraped)
	a.metrics.Tier(TierScrape, o)
	log.Debug().Str("tier", TierScrape).Str("outcome", o).Msg("scrape tier done")
	return out
}

// GetQuotes runs GetQuote for each symbol with bounded concurrency. The
// results line up with symbols.
func (a *Aggregator) GetQuotes(ctx context.Context, symbols []string) []provider.QuoteResult {
	out := make([]provider.QuoteResult, len(symbols))
	var g errgroup.Group
	g.SetLimit(a.opts.Concurrency)
	for i, s := range symbols {
		g.Go(func() error {
			out[i] = a.GetQuote(ctx, s)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// sanitize drops values no tier may hand out: ratios that are not positive
// decimals and non-positive or non-finite numbers.
func sanitize(p provider.Partial) provider.Partial {
	p.PERatio = provider.NormalizeDecimal(p.PERatio)
	p.EPS = provider.NormalizeDecimal(p.EPS)
	if p.Price != nil && !positive(*p.Price) {
		p.Price = nil
	}
	if p.MarketCap != nil && !positive(*p.MarketCap) {
		p.MarketCap = nil
	}
	if p.Volume != nil && *p.Volume < 0 {
		p.Volume = nil
	}
	return p
}

func positive(v float64) bool { return v > 0 && !math.IsInf(v, 0) }

func outcome(before, after provider.QuoteResult, tier provider.DataQuality) string {
	if added(before, after, tier) {
		return metrics.OutcomeHit
	}
	return metrics.OutcomeMiss
}

// added reports whether after gained a field stamped tier that before lacked.
func added(before, after provider.QuoteResult, tier provider.DataQuality) bool {
	for _, f := range provider.Fields {
		if _, had := before.FieldQuality[f]; had {
			continue
		}
		if after.FieldQuality[f] == tier {
			return true
		}
	}
	return false
}
