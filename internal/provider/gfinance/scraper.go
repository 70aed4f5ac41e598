// Package gfinance scrapes P/E and EPS from Google Finance quote pages.
//
// The page layout changes often, so extraction runs a cascade of
// strategies from the most specific (the statistics table) to the most
// permissive (attribute hints). The first candidate that parses as a
// positive decimal inside the plausible range wins.
package gfinance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"stockquote/internal/httpx"
	"stockquote/internal/provider"
)

type Config struct {
	Name      string
	BaseURL   string
	UserAgent string
	// DefaultExchange is appended to bare tickers, e.g. INFY -> INFY:NSE.
	DefaultExchange string
	Selectors       Selectors
	Ranges          Ranges
	// MaxBodyBytes caps how much of the page is parsed.
	MaxBodyBytes int64
}

type Scraper struct {
	cfg        Config
	client     *httpx.Client
	strategies []Strategy
	log        zerolog.Logger
}

func New(cfg Config, hc *httpx.Client, log zerolog.Logger) *Scraper {
	if cfg.Name == "" {
		cfg.Name = "google"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.google.com/finance"
	}
	if cfg.DefaultExchange == "" {
		cfg.DefaultExchange = "NSE"
	}
	if cfg.Selectors == (Selectors{}) {
		cfg.Selectors = DefaultSelectors()
	}
	if cfg.Ranges == (Ranges{}) {
		cfg.Ranges = DefaultRanges()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Scraper{
		cfg:        cfg,
		client:     hc,
		strategies: DefaultStrategies(cfg.Selectors),
		log:        log.With().Str("component", cfg.Name).Logger(),
	}
}

func (s *Scraper) Name() string { return s.cfg.Name }

// Scrape fetches the quote page for symbol and extracts the ratios. It
// never fails: a page that cannot be fetched or parsed yields an empty
// Partial.
func (s *Scraper) Scrape(ctx context.Context, symbol string) provider.Partial {
	doc, _, err := s.fetch(ctx, symbol)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("scrape failed")
		return provider.Partial{}
	}
	ex := s.Extract(doc)
	s.log.Debug().
		Str("symbol", symbol).
		Str("pe", ex.PE.Value).
		Str("pe_strategy", ex.PE.Strategy).
		Str("eps", ex.EPS.Value).
		Str("eps_strategy", ex.EPS.Strategy).
		Strs("corrections", ex.Corrections).
		Msg("scraped ratios")
	return ex.Partial()
}

// PageURL is the English quote page for symbol, e.g. .../quote/INFY:NSE?hl=en.
func (s *Scraper) PageURL(symbol string) string {
	sym := provider.ParseSymbol(symbol)
	return fmt.Sprintf("%s/quote/%s?hl=en", s.cfg.BaseURL, url.PathEscape(sym.ScrapeNotation(s.cfg.DefaultExchange)))
}

func (s *Scraper) fetch(ctx context.Context, symbol string) (*goquery.Document, string, error) {
	pageURL := s.PageURL(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, pageURL, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range httpx.BrowserHeaders(s.cfg.UserAgent) {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return nil, pageURL, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, pageURL, provider.NewUpstreamError(s.cfg.Name, symbol, resp.StatusCode, fmt.Errorf("%w: %s", provider.ErrBadStatus, string(b)))
	}
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		return nil, pageURL, provider.NewUpstreamError(s.cfg.Name, symbol, resp.StatusCode, fmt.Errorf("%w: %v", provider.ErrDecode, err))
	}
	return doc, pageURL, nil
}

// Extraction is the outcome of running the cascade over one page.
type Extraction struct {
	PE          Candidate `json:"pe"`
	EPS         Candidate `json:"eps"`
	Corrections []string  `json:"corrections,omitempty"`
}

func (e Extraction) Partial() provider.Partial {
	return provider.Partial{PERatio: e.PE.Value, EPS: e.EPS.Value}
}

// Extract runs the cascade for both metrics and applies the consistency
// rules: an EPS that was taken from next to a P/E label moves into an empty
// P/E slot, and an EPS equal to the P/E is dropped.
func (s *Scraper) Extract(doc *goquery.Document) Extraction {
	var ex Extraction
	ex.PE, _ = s.cascade(doc, PE, "", nil)
	ex.EPS, _ = s.cascade(doc, EPS, ex.PE.Value, nil)
	ex.reconcile(s.cfg.Ranges)
	return ex
}

func (e *Extraction) reconcile(r Ranges) {
	if e.PE.Value == "" && e.EPS.Value != "" && e.EPS.NearPE {
		if r.contains(PE, e.EPS.Value) {
			e.PE = e.EPS
			e.PE.Metric = PE.String()
			e.Corrections = append(e.Corrections, "eps value sat next to a P/E label; moved to pe")
		} else {
			e.Corrections = append(e.Corrections, "eps value sat next to a P/E label; dropped")
		}
		e.EPS = Candidate{}
	}
	if e.EPS.Value != "" && e.EPS.Value == e.PE.Value {
		e.EPS = Candidate{}
		e.Corrections = append(e.Corrections, "eps equal to pe; dropped")
	}
}

// cascade returns the first acceptable candidate across the strategies.
// Candidates equal to exclude are skipped. When trace is non-nil every
// strategy runs and each candidate is recorded with its verdict.
func (s *Scraper) cascade(doc *goquery.Document, m Metric, exclude string, trace *[]TraceStep) (Candidate, bool) {
	var (
		winner Candidate
		won    bool
	)
	for _, st := range s.strategies {
		step := TraceStep{Metric: m.String(), Strategy: st.Name(), Candidates: []TracedCandidate{}}
		for _, c := range st.Candidates(doc, m) {
			reason := s.verdict(c, m, exclude)
			accepted := reason == "" && !won
			if reason == "" && !accepted {
				reason = "earlier candidate won"
			}
			if accepted {
				winner, won = c, true
			}
			if trace == nil {
				if won {
					return winner, true
				}
				continue
			}
			step.Candidates = append(step.Candidates, TracedCandidate{Candidate: c, Accepted: accepted, Reason: reason})
		}
		if trace != nil {
			*trace = append(*trace, step)
		}
	}
	return winner, won
}

// verdict explains why c is unacceptable, or returns "" when it is fine.
func (s *Scraper) verdict(c Candidate, m Metric, exclude string) string {
	switch {
	case c.Value == "":
		return "not a positive decimal"
	case !s.cfg.Ranges.contains(m, c.Value):
		return "out of range"
	case exclude != "" && c.Value == exclude:
		return "equals pe"
	}
	return ""
}
