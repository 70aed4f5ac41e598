package aggregate_test

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"stockquote/internal/aggregate"
	"stockquote/internal/metrics"
	"stockquote/internal/provider"
	"stockquote/internal/provider/fallback"
)

func ptr[T any](v T) *T { return &v }

func resolver(t *testing.T) *fallback.Resolver {
	t.Helper()
	table, err := fallback.Load("")
	require.NoError(t, err)
	return fallback.NewResolver(table, zerolog.Nop())
}

func newAggregator(t *testing.T, p provider.Primary, s provider.Scraper, rec *metrics.Recorder) *aggregate.Aggregator {
	t.Helper()
	return aggregate.New(p, s, resolver(t), aggregate.Options{
		DefaultSymbol:  "INFY.NS",
		ScrapeExchange: "NSE",
		TierTimeout:    2 * time.Second,
		Concurrency:    4,
	}, rec, zerolog.Nop())
}

func TestGetQuote_PrimaryCompleteSkipsScraper(t *testing.T) {
	t.Parallel()

	// Arrange: a primary that answers everything
	ctrl := gomock.NewController(t)
	primary := NewMockPrimary(ctrl)
	primary.EXPECT().
		Fetch(gomock.Any(), "INFY.NS").
		Return(provider.Partial{Price: ptr(1502.3), PERatio: "22.37", EPS: "65.68", Volume: ptr(int64(10))}, nil).
		Times(1)

	// Assert: the scraper is never consulted
	scraper := NewMockScraper(ctrl)
	scraper.EXPECT().Scrape(gomock.Any(), gomock.Any()).Times(0)

	// Act
	got := newAggregator(t, primary, scraper, nil).GetQuote(t.Context(), "INFY.NS")

	require.InDelta(t, 1502.3, *got.CurrentPrice, 1e-9)
	require.Equal(t, "22.37", got.PERatio)
	require.Equal(t, "65.68", got.EPS)
	require.Equal(t, provider.Live, got.DataQuality)
	require.Equal(t, provider.Live, got.FieldQuality[provider.FieldVolume])
	require.Equal(t, provider.Unavailable, got.FieldQuality[provider.FieldMarketCap])
}

func TestGetQuote_DegradationOrdering(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	primary := NewMockPrimary(ctrl)
	primary.EXPECT().
		Fetch(gomock.Any(), "INFY.NS").
		Return(provider.Partial{Price: ptr(1502.3)}, nil).
		Times(1)
	scraper := NewMockScraper(ctrl)
	scraper.EXPECT().
		Scrape(gomock.Any(), "INFY:NSE").
		Return(provider.Partial{PERatio: "18.20"}).
		Times(1)

	got := newAggregator(t, primary, scraper, nil).GetQuote(t.Context(), "INFY.NS")

	require.NotNil(t, got.CurrentPrice)
	require.Equal(t, provider.Live, got.FieldQuality[provider.FieldPrice])
	require.Equal(t, "18.20", got.PERatio)
	require.Equal(t, provider.Scraped, got.FieldQuality[provider.FieldPERatio])
	require.Equal(t, "65.68", got.EPS)
	require.Equal(t, provider.Fallback, got.FieldQuality[provider.FieldEPS])
	require.Equal(t, provider.Fallback, got.DataQuality)
}

func TestGetQuote_TotalFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	primary := NewMockPrimary(ctrl)
	primary.EXPECT().
		Fetch(gomock.Any(), "INFY.NS").
		Return(provider.Partial{}, provider.NewUpstreamError("yahoo", "INFY.NS", 0, errors.New("dial tcp: i/o timeout"))).
		Times(1)
	scraper := NewMockScraper(ctrl)
	scraper.EXPECT().Scrape(gomock.Any(), gomock.Any()).Return(provider.Partial{}).Times(1)

	got := newAggregator(t, primary, scraper, nil).GetQuote(t.Context(), "INFY.NS")

	require.Equal(t, "INFY.NS", got.Symbol)
	require.Nil(t, got.CurrentPrice)
	require.Equal(t, "22.37", got.PERatio)
	require.Equal(t, "65.68", got.EPS)
	require.Equal(t, provider.Fallback, got.DataQuality)
}

func TestGetQuote_UnknownSymbolIsUnavailable(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	primary := NewMockPrimary(ctrl)
	primary.EXPECT().
		Fetch(gomock.Any(), "ZZZZ").
		Return(provider.Partial{}, provider.NewUpstreamError("yahoo", "ZZZZ", 404, provider.ErrNotFound)).
		Times(1)
	scraper := NewMockScraper(ctrl)
	scraper.EXPECT().Scrape(gomock.Any(), "ZZZZ:NSE").Return(provider.Partial{}).Times(1)

	got := newAggregator(t, primary, scraper, nil).GetQuote(t.Context(), "zzzz")

	require.Equal(t, provider.NA, got.PERatio)
	require.Equal(t, provider.NA, got.EPS)
	require.Equal(t, provider.Unavailable, got.DataQuality)
}

func TestGetQuote_DefaultSymbolAndNotations(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	primary := NewMockPrimary(ctrl)
	scraper := NewMockScraper(ctrl)
	gomock.InOrder(
		primary.EXPECT().Fetch(gomock.Any(), "INFY.NS").Return(provider.Partial{}, nil),
		scraper.EXPECT().Scrape(gomock.Any(), "INFY:NSE").Return(provider.Partial{}),
		primary.EXPECT().Fetch(gomock.Any(), "TCS.NS").Return(provider.Partial{}, nil),
		scraper.EXPECT().Scrape(gomock.Any(), "TCS:NSE").Return(provider.Partial{}),
	)

	a := newAggregator(t, primary, scraper, nil)
	require.Equal(t, "INFY.NS", a.DefaultSymbol())

	got := a.GetQuote(t.Context(), "  ")
	require.Equal(t, "INFY.NS", got.Symbol)

	got = a.GetQuote(t.Context(), "TCS:NSE")
	require.Equal(t, "TCS:NSE", got.Symbol)
	require.Equal(t, "22.64", got.PERatio)
}

func TestGetQuote_TierTimeout(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	primary := NewMockPrimary(ctrl)
	primary.EXPECT().
		Fetch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string) (provider.Partial, error) {
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			require.LessOrEqual(t, time.Until(deadline), 50*time.Millisecond)
			<-ctx.Done()
			return provider.Partial{}, provider.NewUpstreamError("yahoo", "INFY.NS", 0, ctx.Err())
		}).
		Times(1)
	scraper := NewMockScraper(ctrl)
	scraper.EXPECT().
		Scrape(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string) provider.Partial {
			// a fresh budget, not what the primary left over
			require.NoError(t, ctx.Err())
			return provider.Partial{}
		}).
		Times(1)

	a := aggregate.New(primary, scraper, resolver(t), aggregate.Options{TierTimeout: 50 * time.Millisecond}, nil, zerolog.Nop())
	got := a.GetQuote(t.Context(), "INFY.NS")
	require.Equal(t, "22.37", got.PERatio)
}

func TestGetQuote_SanitizesTierOutput(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	primary := NewMockPrimary(ctrl)
	primary.EXPECT().
		Fetch(gomock.Any(), gomock.Any()).
		Return(provider.Partial{Price: ptr(-1.0), PERatio: "abc", EPS: "0"}, nil)
	scraper := NewMockScraper(ctrl)
	scraper.EXPECT().
		Scrape(gomock.Any(), gomock.Any()).
		Return(provider.Partial{PERatio: "19.10", EPS: "19.10"})

	got := newAggregator(t, primary, scraper, nil).GetQuote(t.Context(), "WIPRO.NS")
	require.Nil(t, got.CurrentPrice)
	require.Equal(t, "19.10", got.PERatio)
	require.Equal(t, provider.Scraped, got.FieldQuality[provider.FieldPERatio])
	require.Equal(t, provider.NA, got.EPS)
}

func TestGetQuote_DisabledTiers(t *testing.T) {
	t.Parallel()

	got := newAggregator(t, nil, nil, nil).GetQuote(t.Context(), "HDFCBANK.NS")
	require.Equal(t, "20.74", got.PERatio)
	require.Equal(t, "84.32", got.EPS)
	require.Equal(t, provider.Fallback, got.DataQuality)
}

func TestGetQuote_RecordsMetrics(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	primary := NewMockPrimary(ctrl)
	primary.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(provider.Partial{}, provider.NewUpstreamError("yahoo", "INFY.NS", 429, provider.ErrRateLimited))
	scraper := NewMockScraper(ctrl)
	scraper.EXPECT().Scrape(gomock.Any(), gomock.Any()).Return(provider.Partial{PERatio: "22.10"})

	rec := metrics.New()
	newAggregator(t, primary, scraper, rec).GetQuote(t.Context(), "INFY.NS")

	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	for _, want := range []string{
		`stockquote_tier_attempts_total{outcome="error",tier="primary"} 1`,
		`stockquote_tier_attempts_total{outcome="hit",tier="scrape"} 1`,
		`stockquote_tier_attempts_total{outcome="hit",tier="fallback"} 1`,
		`stockquote_field_quality_total{field="peRatio",quality="scraped"} 1`,
		`stockquote_field_quality_total{field="earningsPerShare",quality="fallback"} 1`,
	} {
		require.True(t, strings.Contains(string(body), want), want)
	}
}

func TestGetQuotes_PreservesOrderUnderConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	ctrl := gomock.NewController(t)
	primary := NewMockPrimary(ctrl)
	primary.EXPECT().
		Fetch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, symbol string) (provider.Partial, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return provider.Partial{Price: ptr(float64(len(symbol))), PERatio: "10.00", EPS: "1.00"}, nil
		}).
		AnyTimes()

	symbols := []string{"A.NS", "BB.NS", "CCC.NS", "DDDD.NS", "EEEEE.NS", "FFFFFF.NS", "GGGGGGG.NS", "HHHHHHHH.NS", "IIIIIIIII.NS"}
	got := newAggregator(t, primary, nil, nil).GetQuotes(t.Context(), symbols)

	require.Len(t, got, len(symbols))
	for i, s := range symbols {
		require.Equal(t, s, got[i].Symbol)
		require.InDelta(t, float64(len(s)), *got[i].CurrentPrice, 1e-9)
	}
	require.LessOrEqual(t, peak.Load(), int32(4))
}
