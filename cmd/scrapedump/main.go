// Command scrapedump prints how the Google Finance scraper reads a quote
// page, candidate by candidate, as JSON.
//
//	scrapedump INFY TCS:NSE
//	scrapedump --html saved.html INFY
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"stockquote/internal/app"
	"stockquote/internal/config"
	"stockquote/internal/logging"
	"stockquote/internal/provider/gfinance"
	"stockquote/internal/provider/ratelimit"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "scrapedump:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath     string
		htmlPath    string
		outPath     string
		concurrency int
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:           "scrapedump SYMBOL...",
		Short:         "Dump the scrape strategy trace for symbols",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			// the dump is about the scraper, whatever the service config says
			cfg.GFinance.Enabled = true
			cfg.Yahoo.Enabled = false
			cfg.Log.File = ""
			log, _ := logging.NewWithWriter(cfg.Log, os.Stderr)
			a, err := app.New(cfg, log)
			if err != nil {
				return err
			}

			var traces []gfinance.Trace
			if htmlPath != "" {
				if len(args) != 1 {
					return fmt.Errorf("--html takes exactly one symbol, got %d", len(args))
				}
				t, err := traceFile(a.Scraper, htmlPath, args[0])
				if err != nil {
					return err
				}
				traces = []gfinance.Trace{t}
			} else {
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()
				limiter := ratelimit.NewLimiter(cfg.GFinance.MaxRequestsPerMinute, cfg.GFinance.Burst, time.Duration(cfg.GFinance.MinRequestIntervalSec)*time.Second)
				if traces, err = traceAll(ctx, a.Scraper, limiter, args, concurrency, log); err != nil {
					return err
				}
			}

			if outPath == "" {
				return writeTraces(cmd.OutOrStdout(), traces)
			}
			return writeFile(outPath, traces)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "config file (default: $CONFIG_FILE or ./config.yaml)")
	cmd.Flags().StringVar(&htmlPath, "html", "", "read a saved quote page instead of fetching")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write JSON here instead of stdout")
	cmd.Flags().IntVar(&concurrency, "concurrency", 2, "parallel page fetches")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline")
	return cmd
}

func traceAll(ctx context.Context, s *gfinance.Scraper, limiter *rate.Limiter, symbols []string, concurrency int, log zerolog.Logger) ([]gfinance.Trace, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	traces := make([]gfinance.Trace, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, sym := range symbols {
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return fmt.Errorf("%s: %w", sym, err)
				}
			}
			traces[i] = s.Trace(gctx, sym)
			log.Info().Str("symbol", sym).Str("pe", traces[i].Extraction.PE.Value).Str("eps", traces[i].Extraction.EPS.Value).Msg("traced")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return traces, nil
}

// writeFile reports a failed flush or close, so a short file is never
// mistaken for a complete dump.
func writeFile(path string, traces []gfinance.Trace) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create out: %w", err)
	}
	bw := bufio.NewWriterSize(f, 1<<16)
	if err := writeTraces(bw, traces); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write out: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close out: %w", err)
	}
	return nil
}

func traceFile(s *gfinance.Scraper, path, symbol string) (gfinance.Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return gfinance.Trace{}, fmt.Errorf("open html: %w", err)
	}
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return gfinance.Trace{}, fmt.Errorf("parse html: %w", err)
	}
	return s.TraceDocument(doc, gfinance.Trace{Symbol: symbol, URL: "file://" + path}), nil
}

func writeTraces(w io.Writer, traces []gfinance.Trace) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if len(traces) == 1 {
		return enc.Encode(traces[0])
	}
	return enc.Encode(traces)
}
