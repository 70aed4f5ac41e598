package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"stockquote/internal/portfolio"
	"stockquote/internal/provider"
	"stockquote/internal/provider/gfinance"
)

type quoter interface {
	GetQuote(ctx context.Context, symbol string) provider.QuoteResult
	GetQuotes(ctx context.Context, symbols []string) []provider.QuoteResult
}

type tracer interface {
	Trace(ctx context.Context, symbol string) gfinance.Trace
}

// server holds the handler dependencies. tracer is nil unless debug routes
// are on and the scraper is enabled.
type server struct {
	quotes         quoter
	holdings       portfolio.Portfolio
	concurrency    int
	tracer         tracer
	metrics        http.Handler
	maxBatch       int
	requestTimeout time.Duration
	corsOrigins    []string
	log            zerolog.Logger
}

type quotesResponse struct {
	Quotes []provider.QuoteResult `json:"quotes"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(withLogger(s.log))
	r.Use(withRequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(withCORS(s.corsOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		// promhttp negotiates its own compression
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(withGzip, withJSONHeaders, recoverPanic, limitBody)

		r.Get("/quote", s.handleQuote)
		r.Get("/quotes", s.handleGetQuotes)
		r.Post("/quotes", s.handlePostQuotes)
		r.Get("/portfolio", s.handlePortfolio)
		if s.tracer != nil {
			r.Get("/debug/scrape", s.handleDebugScrape)
		}
		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusNotFound, "not found")
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		})
	})
	return r
}

func (s *server) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return r.Context(), func() {}
	}
	return context.WithTimeout(r.Context(), s.requestTimeout)
}

// handleQuote always answers 200: upstream trouble shows up in dataQuality.
func (s *server) handleQuote(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.withTimeout(r)
	defer cancel()
	writeJSON(w, http.StatusOK, s.quotes.GetQuote(ctx, r.URL.Query().Get("symbol")))
}

func (s *server) handleGetQuotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("symbols")
	if strings.TrimSpace(q) == "" {
		writeError(w, http.StatusBadRequest, "missing symbols query param")
		return
	}
	s.writeQuotes(w, r, splitCSV(q))
}

type postBody struct {
	Symbols []string `json:"symbols"`
}

func (s *server) handlePostQuotes(w http.ResponseWriter, r *http.Request) {
	var b postBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var symbols []string
	for _, sym := range b.Symbols {
		if sym = strings.TrimSpace(sym); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	s.writeQuotes(w, r, symbols)
}

func (s *server) writeQuotes(w http.ResponseWriter, r *http.Request, symbols []string) {
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols cannot be empty")
		return
	}
	if len(symbols) > s.maxBatch {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("too many symbols (max %d)", s.maxBatch))
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()
	writeJSON(w, http.StatusOK, quotesResponse{Quotes: s.quotes.GetQuotes(ctx, symbols)})
}

func (s *server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.withTimeout(r)
	defer cancel()
	writeJSON(w, http.StatusOK, portfolio.Build(ctx, s.quotes, s.holdings, s.concurrency))
}

func (s *server) handleDebugScrape(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol query param")
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()
	writeJSON(w, http.StatusOK, s.tracer.Trace(ctx, symbol))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
