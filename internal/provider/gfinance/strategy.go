package gfinance

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"stockquote/internal/provider"
)

// Metric is a ratio the scraper looks for.
type Metric int

const (
	PE Metric = iota
	EPS
)

func (m Metric) String() string {
	if m == PE {
		return "pe"
	}
	return "eps"
}

// Ranges bounds plausible values; anything outside is a false positive.
type Ranges struct {
	PEMin, PEMax   float64
	EPSMin, EPSMax float64
}

// DefaultRanges covers P/E 1–1000 and EPS 0.1–1000.
func DefaultRanges() Ranges {
	return Ranges{PEMin: 1, PEMax: 1000, EPSMin: 0.1, EPSMax: 1000}
}

func (r Ranges) contains(m Metric, v string) bool {
	if m == PE {
		return provider.InRange(v, r.PEMin, r.PEMax)
	}
	return provider.InRange(v, r.EPSMin, r.EPSMax)
}

// Candidate is one value a strategy found for a metric.
type Candidate struct {
	Metric   string `json:"metric"`
	Strategy string `json:"strategy"`
	Raw      string `json:"raw"`
	Value    string `json:"value"` // normalized decimal, "" when Raw is not one
	Context  string `json:"context,omitempty"`
	// NearPE is set when the candidate sat next to P/E-labelled text.
	NearPE bool `json:"nearPE,omitempty"`
}

// Strategy finds candidates for a metric in a parsed page. Candidates come
// back in document order and unfiltered; the cascade applies the decimal,
// range and duplicate checks.
type Strategy interface {
	Name() string
	Candidates(doc *goquery.Document, m Metric) []Candidate
}

// Label patterns. A label must not be glued to other letters, but digits
// may follow directly ("P/E ratio22.37").
var (
	peLabel  = regexp.MustCompile(`(?i)(?:^|[^a-z])(p/e(?:\s*ratio)?|pe\s*ratio|price\s*/?\s*(?:to\s*)?earnings)(?:[^a-z]|$)`)
	epsLabel = regexp.MustCompile(`(?i)(?:^|[^a-z])(eps|earnings\s*(?:per|/)\s*share)(?:[^a-z]|$)`)

	decimalToken = regexp.MustCompile(`\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?`)
	spaces       = regexp.MustCompile(`\s+`)
)

// labelled reports whether text carries the metric's label and not the
// other metric's. P/E labels take precedence: a block mentioning both is
// never an EPS label.
func labelled(m Metric, text string) bool {
	if m == PE {
		return peLabel.MatchString(text)
	}
	return epsLabel.MatchString(text) && !peLabel.MatchString(text)
}

// labelEnd returns the offset just past the metric's label in text, or -1.
func labelEnd(m Metric, text string) int {
	re := peLabel
	if m == EPS {
		re = epsLabel
	}
	loc := re.FindStringSubmatchIndex(text)
	if loc == nil {
		return -1
	}
	return loc[3]
}

func mentionsPE(text string) bool { return peLabel.MatchString(text) }

func clean(s string) string { return strings.TrimSpace(spaces.ReplaceAllString(s, " ")) }

func snippet(s string, n int) string {
	s = clean(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func newCandidate(m Metric, strategy, raw, context string, nearPE bool) Candidate {
	return Candidate{
		Metric:   m.String(),
		Strategy: strategy,
		Raw:      raw,
		Value:    provider.NormalizeDecimal(raw),
		Context:  snippet(context, 80),
		NearPE:   nearPE,
	}
}

// DefaultStrategies is the cascade order: each entry is more permissive
// than the one before.
func DefaultStrategies(sel Selectors) []Strategy {
	return []Strategy{
		Structured{Selectors: sel},
		Proximity{Lookahead: 3, Window: 24},
		Regex{},
		Attribute{},
	}
}
