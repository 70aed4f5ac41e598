package provider

import (
	"context"
)

// NA is the sentinel for a ratio no tier could supply.
const NA = "N/A"

// DataQuality records which tier produced a value.
type DataQuality string

const (
	Live        DataQuality = "live"
	Scraped     DataQuality = "scraped"
	Fallback    DataQuality = "fallback"
	Unavailable DataQuality = "unavailable"
)

// rank orders tiers from most to least trusted.
func (q DataQuality) rank() int {
	switch q {
	case Live:
		return 0
	case Scraped:
		return 1
	case Fallback:
		return 2
	default:
		return 3
	}
}

// Weaker returns the less trusted of q and o.
func (q DataQuality) Weaker(o DataQuality) DataQuality {
	if o.rank() > q.rank() {
		return o
	}
	return q
}

// Field names a numeric field of a QuoteResult. Values match the JSON keys.
type Field string

const (
	FieldPrice     Field = "currentPrice"
	FieldPERatio   Field = "peRatio"
	FieldEPS       Field = "earningsPerShare"
	FieldMarketCap Field = "marketCap"
	FieldVolume    Field = "volume"
)

// Fields lists every numeric field in merge order.
var Fields = []Field{FieldPrice, FieldPERatio, FieldEPS, FieldMarketCap, FieldVolume}

// Partial is what a single tier managed to find. Empty strings and nil
// pointers mean "not found"; nothing is ever guessed.
type Partial struct {
	Price     *float64
	PERatio   string
	EPS       string
	MarketCap *float64
	Volume    *int64
}

// Has reports whether the tier produced f.
func (p Partial) Has(f Field) bool {
	switch f {
	case FieldPrice:
		return p.Price != nil
	case FieldPERatio:
		return p.PERatio != ""
	case FieldEPS:
		return p.EPS != ""
	case FieldMarketCap:
		return p.MarketCap != nil
	case FieldVolume:
		return p.Volume != nil
	}
	return false
}

// RatiosComplete reports whether both P/E and EPS are present.
func (p Partial) RatiosComplete() bool { return p.PERatio != "" && p.EPS != "" }

// Primary is an authoritative market-data source.
type Primary interface {
	Name() string
	Fetch(ctx context.Context, symbol string) (Partial, error)
}

// Scraper extracts ratios from a public page. It never fails outward:
// any internal failure yields an empty Partial.
type Scraper interface {
	Name() string
	Scrape(ctx context.Context, symbol string) Partial
}
