package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"stockquote/internal/app"
	"stockquote/internal/config"
	"stockquote/internal/logging"
	"stockquote/internal/portfolio"
	"stockquote/internal/provider"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fetch:", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	timeout    time.Duration
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "fetch",
		Short:         "Resolve quotes from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: $CONFIG_FILE or ./config.yaml)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "overall deadline")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log tier activity to stderr")

	root.AddCommand(newQuoteCmd(opts), newPortfolioCmd(opts))
	return root
}

func newQuoteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "quote [SYMBOL...]",
		Short: "Print quotes as JSON",
		Long:  "Print one QuoteResult per symbol as JSON. Without symbols the configured default symbol is used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			if len(args) == 0 {
				args = []string{""}
			}
			quotes := a.Aggregator.GetQuotes(ctx, args)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			if len(quotes) == 1 {
				return enc.Encode(quotes[0])
			}
			return enc.Encode(quotes)
		},
	}
}

func newPortfolioCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Print the holdings grouped by sector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(opts)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			view := portfolio.Build(ctx, a.Aggregator, a.Holdings, a.Config.Quote.Concurrency)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}
			return writeTable(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the view as JSON")
	return cmd
}

func setup(opts *options) (*app.App, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logCfg := cfg.Log
	if opts.verbose {
		logCfg.Level = "debug"
	} else {
		logCfg.Level = "error"
	}
	logCfg.File = ""
	log, _ := logging.NewWithWriter(logCfg, os.Stderr)
	return app.New(cfg, log)
}

// writeTable prints one block per sector followed by the portfolio totals.
func writeTable(w io.Writer, v portfolio.View) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	money := func(d decimal.Decimal) string { return portfolio.FormatMoney(d, v.Currency) }
	optMoney := func(d *decimal.Decimal) string {
		if d == nil {
			return provider.NA
		}
		return money(*d)
	}

	for _, s := range v.Sectors {
		fmt.Fprintf(tw, "%s\t\t\t\t\t\t\t\t\t\n", s.Name)
		fmt.Fprintln(tw, "Name\tQty\tPurchase\tInvestment\tWeight\tCMP\tPresent value\tGain/Loss\tP/E\tEPS\tQuality\t")
		for _, r := range s.Rows {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s%%\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
				r.Name, r.Qty, money(r.PurchasePrice), money(r.Investment), r.Weight.StringFixed(2),
				optMoney(r.CurrentPrice), optMoney(r.PresentValue), optMoney(r.GainLoss),
				r.PERatio, r.EPS, r.DataQuality)
		}
		writeTotals(tw, "Sector total", s.Totals, money)
		fmt.Fprintln(tw, "\t\t\t\t\t\t\t\t\t\t\t")
	}
	writeTotals(tw, "Portfolio", v.Totals, money)
	fmt.Fprintf(tw, "Updated\t%s\t\t\t\t\t\t\t\t\t\t\n", v.UpdatedAt.Local().Format(time.DateTime))
	return tw.Flush()
}

func writeTotals(w io.Writer, label string, t portfolio.Totals, money func(decimal.Decimal) string) {
	fmt.Fprintf(w, "%s\t\t\t%s\t\t\t%s\t%s (%s)\t\t\t%d/%d priced\t\n",
		label, money(t.Investment), money(t.PresentValue), money(t.GainLoss),
		portfolio.FormatPercent(t.GainLossPercent), t.Priced, t.Holdings)
}
