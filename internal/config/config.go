package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"stockquote/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. STOCKQUOTE_SERVER_PORT.
const EnvPrefix = "STOCKQUOTE"

type Server struct {
	Port              string   `mapstructure:"port"`
	RequestTimeoutSec int      `mapstructure:"request_timeout_sec"`
	DebugRoutes       bool     `mapstructure:"debug_routes"`
	MaxBatch          int      `mapstructure:"max_batch"`
	CORSOrigins       []string `mapstructure:"cors_origins"`
}

type Quote struct {
	DefaultSymbol  string `mapstructure:"default_symbol"`
	TierTimeoutSec int    `mapstructure:"tier_timeout_sec"`
	ScrapeExchange string `mapstructure:"scrape_exchange"`
	Concurrency    int    `mapstructure:"concurrency"`
}

type Yahoo struct {
	Enabled               bool   `mapstructure:"enabled"`
	Endpoint              string `mapstructure:"endpoint"`
	CookieURL             string `mapstructure:"cookie_url"`
	Crumb                 string `mapstructure:"crumb"` // optional seed; renewed on 401
	HTTPTimeoutSec        int    `mapstructure:"http_timeout_sec"`
	MaxRequestsPerMinute  int    `mapstructure:"max_requests_per_minute"`
	MinRequestIntervalSec int    `mapstructure:"min_request_interval_sec"`
	Burst                 int    `mapstructure:"burst"`
}

type GFinance struct {
	Enabled               bool    `mapstructure:"enabled"`
	Endpoint              string  `mapstructure:"endpoint"`
	UserAgent             string  `mapstructure:"user_agent"`
	HTTPTimeoutSec        int     `mapstructure:"http_timeout_sec"`
	RowSelector           string  `mapstructure:"row_selector"`
	LabelSelector         string  `mapstructure:"label_selector"`
	ValueSelector         string  `mapstructure:"value_selector"`
	PEMin                 float64 `mapstructure:"pe_min"`
	PEMax                 float64 `mapstructure:"pe_max"`
	EPSMin                float64 `mapstructure:"eps_min"`
	EPSMax                float64 `mapstructure:"eps_max"`
	MaxRequestsPerMinute  int     `mapstructure:"max_requests_per_minute"`
	MinRequestIntervalSec int     `mapstructure:"min_request_interval_sec"`
	Burst                 int     `mapstructure:"burst"`
}

type Fallback struct {
	// TableFile replaces the built-in reference table when set.
	TableFile string `mapstructure:"table_file"`
}

type Portfolio struct {
	HoldingsFile string `mapstructure:"holdings_file"`
	Currency     string `mapstructure:"currency"`
}

type Config struct {
	Server    Server         `mapstructure:"server"`
	Log       logging.Config `mapstructure:"log"`
	Quote     Quote          `mapstructure:"quote"`
	Yahoo     Yahoo          `mapstructure:"yahoo"`
	GFinance  GFinance       `mapstructure:"gfinance"`
	Fallback  Fallback       `mapstructure:"fallback"`
	Portfolio Portfolio      `mapstructure:"portfolio"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 45, MaxBatch: 100, CORSOrigins: []string{"*"}},
		Log:    logging.DefaultConfig(),
		Quote: Quote{
			DefaultSymbol:  "INFY.NS",
			TierTimeoutSec: 12,
			ScrapeExchange: "NSE",
			Concurrency:    8,
		},
		Yahoo: Yahoo{
			Enabled:              true,
			Endpoint:             "https://query1.finance.yahoo.com",
			CookieURL:            "https://fc.yahoo.com",
			HTTPTimeoutSec:       10,
			MaxRequestsPerMinute: 60,
			Burst:                5,
		},
		GFinance: GFinance{
			Enabled:              true,
			Endpoint:             "https://www.google.com/finance",
			HTTPTimeoutSec:       10,
			RowSelector:          "div.gyFHrc",
			LabelSelector:        ".mfs7Fc",
			ValueSelector:        ".P6K39c",
			PEMin:                1,
			PEMax:                1000,
			EPSMin:               0.1,
			EPSMax:               1000,
			MaxRequestsPerMinute: 20,
			Burst:                2,
		},
		Portfolio: Portfolio{Currency: "INR"},
	}
}

// Load builds the configuration from defaults, an optional config file and
// STOCKQUOTE_* environment variables, in increasing precedence. A .env file
// in the working directory is loaded into the environment first. When path
// is empty, CONFIG_FILE and then ./config.{yaml,json,toml} are tried.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// PORT is what most hosting platforms set.
	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.request_timeout_sec", d.Server.RequestTimeoutSec)
	v.SetDefault("server.debug_routes", d.Server.DebugRoutes)
	v.SetDefault("server.max_batch", d.Server.MaxBatch)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)

	v.SetDefault("quote.default_symbol", d.Quote.DefaultSymbol)
	v.SetDefault("quote.tier_timeout_sec", d.Quote.TierTimeoutSec)
	v.SetDefault("quote.scrape_exchange", d.Quote.ScrapeExchange)
	v.SetDefault("quote.concurrency", d.Quote.Concurrency)

	v.SetDefault("yahoo.enabled", d.Yahoo.Enabled)
	v.SetDefault("yahoo.endpoint", d.Yahoo.Endpoint)
	v.SetDefault("yahoo.cookie_url", d.Yahoo.CookieURL)
	v.SetDefault("yahoo.crumb", d.Yahoo.Crumb)
	v.SetDefault("yahoo.http_timeout_sec", d.Yahoo.HTTPTimeoutSec)
	v.SetDefault("yahoo.max_requests_per_minute", d.Yahoo.MaxRequestsPerMinute)
	v.SetDefault("yahoo.min_request_interval_sec", d.Yahoo.MinRequestIntervalSec)
	v.SetDefault("yahoo.burst", d.Yahoo.Burst)

	v.SetDefault("gfinance.enabled", d.GFinance.Enabled)
	v.SetDefault("gfinance.endpoint", d.GFinance.Endpoint)
	v.SetDefault("gfinance.user_agent", d.GFinance.UserAgent)
	v.SetDefault("gfinance.http_timeout_sec", d.GFinance.HTTPTimeoutSec)
	v.SetDefault("gfinance.row_selector", d.GFinance.RowSelector)
	v.SetDefault("gfinance.label_selector", d.GFinance.LabelSelector)
	v.SetDefault("gfinance.value_selector", d.GFinance.ValueSelector)
	v.SetDefault("gfinance.pe_min", d.GFinance.PEMin)
	v.SetDefault("gfinance.pe_max", d.GFinance.PEMax)
	v.SetDefault("gfinance.eps_min", d.GFinance.EPSMin)
	v.SetDefault("gfinance.eps_max", d.GFinance.EPSMax)
	v.SetDefault("gfinance.max_requests_per_minute", d.GFinance.MaxRequestsPerMinute)
	v.SetDefault("gfinance.min_request_interval_sec", d.GFinance.MinRequestIntervalSec)
	v.SetDefault("gfinance.burst", d.GFinance.Burst)

	v.SetDefault("fallback.table_file", d.Fallback.TableFile)

	v.SetDefault("portfolio.holdings_file", d.Portfolio.HoldingsFile)
	v.SetDefault("portfolio.currency", d.Portfolio.Currency)
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if p, err := strconv.Atoi(c.Server.Port); err != nil || p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("server.port %q is not a valid port", c.Server.Port))
	}
	if c.Server.RequestTimeoutSec <= 0 {
		errs = append(errs, errors.New("server.request_timeout_sec must be positive"))
	}
	if c.Server.MaxBatch <= 0 {
		errs = append(errs, errors.New("server.max_batch must be positive"))
	}
	if strings.TrimSpace(c.Quote.DefaultSymbol) == "" {
		errs = append(errs, errors.New("quote.default_symbol must not be empty"))
	}
	if c.Quote.TierTimeoutSec < 10 || c.Quote.TierTimeoutSec > 15 {
		errs = append(errs, fmt.Errorf("quote.tier_timeout_sec %d outside 10..15", c.Quote.TierTimeoutSec))
	}
	if c.Quote.Concurrency <= 0 {
		errs = append(errs, errors.New("quote.concurrency must be positive"))
	}
	if c.GFinance.PEMin <= 0 || c.GFinance.PEMin >= c.GFinance.PEMax {
		errs = append(errs, fmt.Errorf("gfinance P/E range [%g, %g] is invalid", c.GFinance.PEMin, c.GFinance.PEMax))
	}
	if c.GFinance.EPSMin <= 0 || c.GFinance.EPSMin >= c.GFinance.EPSMax {
		errs = append(errs, fmt.Errorf("gfinance EPS range [%g, %g] is invalid", c.GFinance.EPSMin, c.GFinance.EPSMax))
	}
	for name, n := range map[string]int{
		"yahoo.max_requests_per_minute":     c.Yahoo.MaxRequestsPerMinute,
		"yahoo.min_request_interval_sec":    c.Yahoo.MinRequestIntervalSec,
		"yahoo.burst":                       c.Yahoo.Burst,
		"gfinance.max_requests_per_minute":  c.GFinance.MaxRequestsPerMinute,
		"gfinance.min_request_interval_sec": c.GFinance.MinRequestIntervalSec,
		"gfinance.burst":                    c.GFinance.Burst,
	} {
		if n < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	return errors.Join(errs...)
}
