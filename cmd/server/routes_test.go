package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"stockquote/internal/aggregate"
	"stockquote/internal/metrics"
	"stockquote/internal/portfolio"
	"stockquote/internal/provider"
	"stockquote/internal/provider/fallback"
	"stockquote/internal/provider/gfinance"
)

// offlineServer answers every quote from the built-in reference table.
func offlineServer(t *testing.T) *server {
	t.Helper()
	table, err := fallback.Load("")
	require.NoError(t, err)
	holdings, err := portfolio.Load("")
	require.NoError(t, err)
	rec := metrics.New()
	agg := aggregate.New(nil, nil, fallback.NewResolver(table, zerolog.Nop()), aggregate.Options{}, rec, zerolog.Nop())
	return &server{
		quotes:      agg,
		holdings:    holdings,
		concurrency: 4,
		metrics:     rec.Handler(),
		maxBatch:    3,
		log:         zerolog.Nop(),
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestQuote_TotalUpstreamFailureStillAnswers(t *testing.T) {
	t.Parallel()

	rr := do(t, offlineServer(t).routes(), http.MethodGet, "/quote?symbol=INFY.NS", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	require.NotEmpty(t, rr.Header().Get(requestIDHeader))

	var got provider.QuoteResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, "INFY.NS", got.Symbol)
	require.Nil(t, got.CurrentPrice)
	require.Equal(t, "22.37", got.PERatio)
	require.Equal(t, "65.68", got.EPS)
	require.Equal(t, provider.Fallback, got.DataQuality)
	require.Equal(t, provider.Unavailable, got.FieldQuality[provider.FieldPrice])
}

func TestQuote_DefaultAndUnknownSymbol(t *testing.T) {
	t.Parallel()
	h := offlineServer(t).routes()

	var got provider.QuoteResult
	rr := do(t, h, http.MethodGet, "/quote", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, "INFY.NS", got.Symbol)

	rr = do(t, h, http.MethodGet, "/quote?symbol=NOPE", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, provider.NA, got.PERatio)
	require.Equal(t, provider.NA, got.EPS)
	require.Equal(t, provider.Unavailable, got.DataQuality)
}

func TestQuotes(t *testing.T) {
	t.Parallel()
	h := offlineServer(t).routes()

	rr := do(t, h, http.MethodGet, "/quotes?symbols=TCS.NS,%20,HDFCBANK", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp quotesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Quotes, 2)
	require.Equal(t, "TCS.NS", resp.Quotes[0].Symbol)
	require.Equal(t, "22.64", resp.Quotes[0].PERatio)
	require.Equal(t, "84.32", resp.Quotes[1].EPS)

	rr = do(t, h, http.MethodPost, "/quotes", `{"symbols":["INFY"]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Quotes, 1)
	require.Equal(t, "65.68", resp.Quotes[0].EPS)
}

func TestQuotes_BadRequests(t *testing.T) {
	t.Parallel()
	h := offlineServer(t).routes()

	cases := []struct {
		name, method, target, body string
		status                     int
	}{
		{"missing param", http.MethodGet, "/quotes", "", http.StatusBadRequest},
		{"only commas", http.MethodGet, "/quotes?symbols=,,", "", http.StatusBadRequest},
		{"too many", http.MethodGet, "/quotes?symbols=A,B,C,D", "", http.StatusBadRequest},
		{"bad json", http.MethodPost, "/quotes", `{"symbols":`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/quotes", `{"tickers":["A"]}`, http.StatusBadRequest},
		{"empty list", http.MethodPost, "/quotes", `{"symbols":[]}`, http.StatusBadRequest},
		{"too large", http.MethodPost, "/quotes", `{"symbols":["` + strings.Repeat("A", 2<<20) + `"]}`, http.StatusRequestEntityTooLarge},
		{"wrong method", http.MethodDelete, "/quote", "", http.StatusMethodNotAllowed},
		{"debug off", http.MethodGet, "/debug/scrape?symbol=INFY", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, h, tc.method, tc.target, tc.body)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			var e errorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &e))
			require.NotEmpty(t, e.Error)
		})
	}
}

func TestPortfolio(t *testing.T) {
	t.Parallel()

	rr := do(t, offlineServer(t).routes(), http.MethodGet, "/portfolio", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var view portfolio.View
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	require.Equal(t, "INR", view.Currency)
	require.Equal(t, "Technology", view.Sectors[0].Name)
	require.Equal(t, 8, view.Totals.Holdings)
	// no primary tier: nothing is priced
	require.Zero(t, view.Totals.Priced)
	require.Equal(t, "22.37", view.Sectors[0].Rows[0].PERatio)
}

func TestHealthzAndMetrics(t *testing.T) {
	t.Parallel()
	h := offlineServer(t).routes()

	rr := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())

	do(t, h, http.MethodGet, "/quote?symbol=TCS", "")
	rr = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `stockquote_tier_attempts_total{outcome="hit",tier="fallback"} 1`)
}

func TestRequestIDIsKept(t *testing.T) {
	t.Parallel()

	const id = "1b4e28ba-2fa1-41d2-883f-0016d3cca427"
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, id)
	rr := httptest.NewRecorder()
	offlineServer(t).routes().ServeHTTP(rr, req)
	require.Equal(t, id, rr.Header().Get(requestIDHeader))
}

func TestAccessLogCarriesRequestID(t *testing.T) {
	t.Parallel()

	var buf syncBuffer
	s := offlineServer(t)
	s.log = zerolog.New(&buf)
	rr := do(t, s.routes(), http.MethodGet, "/quote?symbol=TCS", "")

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(lastLine(buf.String())), &line))
	require.Equal(t, "request", line["message"])
	require.Equal(t, "/quote", line["path"])
	require.EqualValues(t, 200, line["status"])
	require.Equal(t, rr.Header().Get(requestIDHeader), line["request_id"])
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodOptions, "/quote", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	offlineServer(t).routes().ServeHTTP(rr, req)
	require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

type panicQuoter struct{}

func (panicQuoter) GetQuote(context.Context, string) provider.QuoteResult { panic("boom") }
func (panicQuoter) GetQuotes(context.Context, []string) []provider.QuoteResult {
	panic("boom")
}

func TestPanicBecomesJSON500(t *testing.T) {
	t.Parallel()

	s := offlineServer(t)
	s.quotes = panicQuoter{}
	rr := do(t, s.routes(), http.MethodGet, "/quote?symbol=INFY", "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.JSONEq(t, `{"error":"internal server error"}`, rr.Body.String())
}

type stubTracer struct{ got string }

func (s *stubTracer) Trace(_ context.Context, symbol string) gfinance.Trace {
	s.got = symbol
	return gfinance.Trace{Symbol: symbol, URL: "https://www.google.com/finance/quote/INFY:NSE?hl=en", Steps: []gfinance.TraceStep{}}
}

func TestDebugScrape(t *testing.T) {
	t.Parallel()

	tr := &stubTracer{}
	s := offlineServer(t)
	s.tracer = tr
	h := s.routes()

	rr := do(t, h, http.MethodGet, "/debug/scrape?symbol=INFY", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "INFY", tr.got)
	var got gfinance.Trace
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, "INFY", got.Symbol)

	rr = do(t, h, http.MethodGet, "/debug/scrape", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGzip(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(offlineServer(t).routes())
	defer srv.Close()

	// the transport asks for gzip and decodes it transparently
	resp, err := http.Get(srv.URL + "/quote?symbol=INFY")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.True(t, resp.Uncompressed)
	var got provider.QuoteResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, "22.37", got.PERatio)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
