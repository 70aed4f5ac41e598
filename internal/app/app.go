// Package app wires the quote tiers from configuration. The server and
// the command line tools share it so they resolve quotes the same way.
package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"stockquote/internal/aggregate"
	"stockquote/internal/config"
	"stockquote/internal/httpx"
	"stockquote/internal/metrics"
	"stockquote/internal/portfolio"
	"stockquote/internal/provider"
	"stockquote/internal/provider/fallback"
	"stockquote/internal/provider/gfinance"
	"stockquote/internal/provider/ratelimit"
	"stockquote/internal/provider/yahoo"
)

type App struct {
	Config     config.Config
	Aggregator *aggregate.Aggregator
	Scraper    *gfinance.Scraper // nil when the scrape tier is disabled
	Holdings   portfolio.Portfolio
	Metrics    *metrics.Recorder
	Log        zerolog.Logger
}

// New builds every enabled tier. Only unreadable data files are errors;
// a disabled upstream simply leaves its tier out.
func New(cfg config.Config, log zerolog.Logger) (*App, error) {
	table, err := fallback.Load(cfg.Fallback.TableFile)
	if err != nil {
		return nil, fmt.Errorf("fallback table: %w", err)
	}
	holdings, err := portfolio.Load(cfg.Portfolio.HoldingsFile)
	if err != nil {
		return nil, fmt.Errorf("holdings: %w", err)
	}
	if cfg.Portfolio.Currency != "" {
		holdings.Currency = cfg.Portfolio.Currency
	}

	a := &App{Config: cfg, Holdings: holdings, Metrics: metrics.New(), Log: log}

	var primary provider.Primary
	if cfg.Yahoo.Enabled {
		primary = newYahoo(cfg.Yahoo, log)
		log.Info().Str("endpoint", cfg.Yahoo.Endpoint).Msg("primary tier enabled")
	} else {
		log.Warn().Msg("yahoo.enabled=false; primary tier disabled")
	}

	var scraper provider.Scraper
	if cfg.GFinance.Enabled {
		a.Scraper = newScraper(cfg.GFinance, cfg.Quote.ScrapeExchange, log)
		scraper = &ratelimit.Scraper{
			S: a.Scraper,
			L: ratelimit.NewLimiter(cfg.GFinance.MaxRequestsPerMinute, cfg.GFinance.Burst, seconds(cfg.GFinance.MinRequestIntervalSec)),
			OnLimit: func(symbol string, err error) {
				log.Warn().Err(err).Str("symbol", symbol).Str("tier", aggregate.TierScrape).Msg("scrape rate limited")
			},
		}
		log.Info().Str("endpoint", cfg.GFinance.Endpoint).Msg("scrape tier enabled")
	} else {
		log.Warn().Msg("gfinance.enabled=false; scrape tier disabled")
	}

	resolver := fallback.NewResolver(table, log)
	log.Info().Int("symbols", resolver.Len()).Msg("fallback table loaded")

	a.Aggregator = aggregate.New(primary, scraper, resolver, aggregate.Options{
		DefaultSymbol:  cfg.Quote.DefaultSymbol,
		ScrapeExchange: cfg.Quote.ScrapeExchange,
		TierTimeout:    seconds(cfg.Quote.TierTimeoutSec),
		Concurrency:    cfg.Quote.Concurrency,
	}, a.Metrics, log)
	return a, nil
}

func newYahoo(c config.Yahoo, log zerolog.Logger) provider.Primary {
	hc := httpx.New(seconds(c.HTTPTimeoutSec))
	opts := []yahoo.ClientOption{
		yahoo.WithBaseURL(c.Endpoint),
		yahoo.WithHTTPClient(hc.HTTP),
		yahoo.WithHeader(http.Header{
			"User-Agent": []string{httpx.DefaultUserAgent},
			"Accept":     []string{"application/json"},
		}),
	}
	if c.CookieURL != "" {
		opts = append(opts, yahoo.WithCookieURL(c.CookieURL))
	}
	if c.Crumb != "" {
		opts = append(opts, yahoo.WithCrumb(c.Crumb))
	}
	client := yahoo.NewClient(opts...)
	return &ratelimit.Primary{
		P: yahoo.NewProvider("yahoo", client, log),
		L: ratelimit.NewLimiter(c.MaxRequestsPerMinute, c.Burst, seconds(c.MinRequestIntervalSec)),
	}
}

func newScraper(c config.GFinance, exchange string, log zerolog.Logger) *gfinance.Scraper {
	hc := httpx.New(seconds(c.HTTPTimeoutSec))
	return gfinance.New(gfinance.Config{
		Name:            "gfinance",
		BaseURL:         c.Endpoint,
		UserAgent:       c.UserAgent,
		DefaultExchange: exchange,
		Selectors: gfinance.Selectors{
			Row:   c.RowSelector,
			Label: c.LabelSelector,
			Value: c.ValueSelector,
		},
		Ranges: gfinance.Ranges{
			PEMin:  c.PEMin,
			PEMax:  c.PEMax,
			EPSMin: c.EPSMin,
			EPSMax: c.EPSMax,
		},
	}, hc, log)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
