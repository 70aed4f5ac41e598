package provider

import (
	"strings"
)

// Symbol identifies one instrument independent of notation. The price API
// writes "INFY.NS" while the scraped page writes "INFY:NSE".
type Symbol struct {
	Ticker   string
	Exchange string // scrape-side exchange code, e.g. NSE; empty when unknown
}

// suffixToExchange maps price-API suffixes to scrape-page exchange codes.
var suffixToExchange = map[string]string{
	"ns": "NSE",
	"bo": "BOM",
	"l":  "LON",
	"to": "TSE",
	"ax": "ASX",
	"hk": "HKG",
	"t":  "TYO",
	"de": "ETR",
	"pa": "EPA",
}

// exchangeAliases normalizes scrape-side exchange spellings.
var exchangeAliases = map[string]string{
	"nse":  "NSE",
	"bse":  "BOM",
	"bom":  "BOM",
	"lon":  "LON",
	"lse":  "LON",
	"tse":  "TSE",
	"asx":  "ASX",
	"hkg":  "HKG",
	"hkex": "HKG",
	"tyo":  "TYO",
	"etr":  "ETR",
	"xetr": "ETR",
	"epa":  "EPA",
}

var exchangeToSuffix = func() map[string]string {
	m := make(map[string]string, len(suffixToExchange))
	for suf, ex := range suffixToExchange {
		m[ex] = strings.ToUpper(suf)
	}
	return m
}()

// ParseSymbol accepts either notation. Exchanges unknown to the alias tables
// are kept as written (upper-cased).
func ParseSymbol(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if i := strings.LastIndex(s, ":"); i > 0 {
		ticker, ex := s[:i], s[i+1:]
		if norm, ok := exchangeAliases[strings.ToLower(ex)]; ok {
			ex = norm
		}
		return Symbol{Ticker: ticker, Exchange: ex}
	}
	if i := strings.LastIndex(s, "."); i > 0 {
		ticker, suf := s[:i], s[i+1:]
		if ex, ok := suffixToExchange[strings.ToLower(suf)]; ok {
			return Symbol{Ticker: ticker, Exchange: ex}
		}
	}
	return Symbol{Ticker: s}
}

// IsZero reports whether no ticker was given.
func (s Symbol) IsZero() bool { return s.Ticker == "" }

// Base is the ticker alone, used to key reference data.
func (s Symbol) Base() string { return s.Ticker }

// PriceNotation renders the symbol the way the market-data API expects.
func (s Symbol) PriceNotation() string {
	if s.Exchange == "" {
		return s.Ticker
	}
	if suf, ok := exchangeToSuffix[s.Exchange]; ok {
		return s.Ticker + "." + suf
	}
	return s.Ticker
}

// ScrapeNotation renders the symbol for the finance page, using
// defaultExchange when the symbol carries none.
func (s Symbol) ScrapeNotation(defaultExchange string) string {
	ex := s.Exchange
	if ex == "" {
		ex = strings.ToUpper(strings.TrimSpace(defaultExchange))
	}
	if ex == "" {
		return s.Ticker
	}
	return s.Ticker + ":" + ex
}
