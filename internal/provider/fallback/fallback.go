// Package fallback resolves ratios the live tiers could not supply from a
// static reference table.
package fallback

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"stockquote/internal/provider"
)

//go:embed reference.yaml
var defaultTable []byte

// Entry holds the reference ratios for one ticker. Either may be empty.
type Entry struct {
	PERatio string `yaml:"peRatio"`
	EPS     string `yaml:"earningsPerShare"`
}

// Table maps bare, upper-case tickers to reference ratios.
type Table map[string]Entry

type tableFile struct {
	Symbols map[string]Entry `yaml:"symbols"`
}

// Load reads the table at path, or the embedded default when path is empty.
func Load(path string) (Table, error) {
	data := defaultTable
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read reference table: %w", err)
		}
		data = b
	}
	return Parse(data)
}

// Parse decodes and validates a YAML reference table.
func Parse(data []byte) (Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse reference table: %w", err)
	}
	t := make(Table, len(f.Symbols))
	for sym, e := range f.Symbols {
		key := provider.ParseSymbol(sym).Base()
		if key == "" {
			return nil, fmt.Errorf("reference table: empty symbol")
		}
		for name, v := range map[string]string{"peRatio": e.PERatio, "earningsPerShare": e.EPS} {
			if v != "" && provider.NormalizeDecimal(v) != v {
				return nil, fmt.Errorf("reference table: %s %s %q is not a positive decimal", key, name, v)
			}
		}
		t[key] = e
	}
	return t, nil
}

// Lookup finds the entry for symbol: an exact ticker match first, then the
// longest key the ticker starts with.
func (t Table) Lookup(symbol provider.Symbol) (Entry, bool) {
	base := symbol.Base()
	if base == "" {
		return Entry{}, false
	}
	if e, ok := t[base]; ok {
		return e, true
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		if strings.HasPrefix(base, k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return Entry{}, false
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	return t[keys[0]], true
}

// Resolver is the last tier: it never fails and always leaves both ratios
// well formed.
type Resolver struct {
	table Table
	log   zerolog.Logger
}

func NewResolver(table Table, log zerolog.Logger) *Resolver {
	return &Resolver{table: table, log: log.With().Str("component", "fallback").Logger()}
}

// Len is the number of tickers in the reference table.
func (r *Resolver) Len() int { return len(r.table) }

// Resolve fills each empty ratio of res from the table, stamping it
// fallback, or with "N/A" stamped unavailable. The overall quality is
// computed on the way out.
func (r *Resolver) Resolve(symbol provider.Symbol, res provider.QuoteResult) provider.QuoteResult {
	var p provider.Partial
	if res.PERatio == "" || res.EPS == "" {
		if e, ok := r.table.Lookup(symbol); ok {
			p = provider.Partial{PERatio: e.PERatio, EPS: e.EPS}
			r.log.Debug().Str("symbol", symbol.Base()).Msg("reference ratios used")
		}
	}
	out := res.Merge(p, provider.Fallback)
	out = out.Merge(provider.Partial{PERatio: provider.NA, EPS: provider.NA}, provider.Unavailable)
	return out.Finalize()
}
