package provider

// QuoteResult is the merged answer handed to callers. It is built once per
// request and passed by value.
type QuoteResult struct {
	Symbol       string                `json:"symbol"`
	CurrentPrice *float64              `json:"currentPrice,omitempty"`
	PERatio      string                `json:"peRatio"`
	EPS          string                `json:"earningsPerShare"`
	MarketCap    *float64              `json:"marketCap,omitempty"`
	Volume       *int64                `json:"volume,omitempty"`
	DataQuality  DataQuality           `json:"dataQuality"`
	FieldQuality map[Field]DataQuality `json:"fieldQuality"`
}

// NewResult starts an empty result for symbol.
func NewResult(symbol string) QuoteResult {
	return QuoteResult{Symbol: symbol, FieldQuality: make(map[Field]DataQuality, len(Fields))}
}

// Merge copies every field p has and r lacks, stamping it with tier.
// Earlier merges win.
func (r QuoteResult) Merge(p Partial, tier DataQuality) QuoteResult {
	out := r.clone()
	if out.CurrentPrice == nil && p.Price != nil {
		v := *p.Price
		out.CurrentPrice = &v
		out.FieldQuality[FieldPrice] = tier
	}
	if out.PERatio == "" && p.PERatio != "" {
		out.PERatio = p.PERatio
		out.FieldQuality[FieldPERatio] = tier
	}
	if out.EPS == "" && p.EPS != "" {
		out.EPS = p.EPS
		out.FieldQuality[FieldEPS] = tier
	}
	if out.MarketCap == nil && p.MarketCap != nil {
		v := *p.MarketCap
		out.MarketCap = &v
		out.FieldQuality[FieldMarketCap] = tier
	}
	if out.Volume == nil && p.Volume != nil {
		v := *p.Volume
		out.Volume = &v
		out.FieldQuality[FieldVolume] = tier
	}
	return out
}

// Partial exposes the fields gathered so far.
func (r QuoteResult) Partial() Partial {
	return Partial{Price: r.CurrentPrice, PERatio: r.PERatio, EPS: r.EPS, MarketCap: r.MarketCap, Volume: r.Volume}
}

// Finalize stamps absent optional fields as unavailable and derives the
// overall DataQuality from the ratio fields:
//   - both ratios N/A: unavailable
//   - otherwise the weakest tier among ratios that carry a value,
//     capped at fallback when one of them is N/A.
func (r QuoteResult) Finalize() QuoteResult {
	out := r.clone()
	for _, f := range Fields {
		if _, ok := out.FieldQuality[f]; !ok {
			out.FieldQuality[f] = Unavailable
		}
	}
	peNA, epsNA := out.PERatio == NA || out.PERatio == "", out.EPS == NA || out.EPS == ""
	switch {
	case peNA && epsNA:
		out.DataQuality = Unavailable
	case peNA:
		out.DataQuality = out.FieldQuality[FieldEPS].Weaker(Fallback)
	case epsNA:
		out.DataQuality = out.FieldQuality[FieldPERatio].Weaker(Fallback)
	default:
		out.DataQuality = out.FieldQuality[FieldPERatio].Weaker(out.FieldQuality[FieldEPS])
	}
	return out
}

func (r QuoteResult) clone() QuoteResult {
	out := r
	out.FieldQuality = make(map[Field]DataQuality, len(Fields))
	for k, v := range r.FieldQuality {
		out.FieldQuality[k] = v
	}
	return out
}
