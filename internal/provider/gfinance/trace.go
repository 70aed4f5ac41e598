package gfinance

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Trace explains one scrape: every candidate each strategy produced and
// which one won. It backs the debug route.
type Trace struct {
	Symbol     string      `json:"symbol"`
	URL        string      `json:"url"`
	Error      string      `json:"error,omitempty"`
	Title      string      `json:"title,omitempty"`
	Stats      []Stat      `json:"stats,omitempty"`
	Steps      []TraceStep `json:"steps"`
	Extraction Extraction  `json:"extraction"`
}

// Stat is one label/value row of the statistics table as found on the page.
type Stat struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type TraceStep struct {
	Metric     string            `json:"metric"`
	Strategy   string            `json:"strategy"`
	Candidates []TracedCandidate `json:"candidates"`
}

type TracedCandidate struct {
	Candidate
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Trace fetches the page for symbol and records how extraction went. A
// fetch failure is reported inside the Trace, not as an error.
func (s *Scraper) Trace(ctx context.Context, symbol string) Trace {
	doc, pageURL, err := s.fetch(ctx, symbol)
	t := Trace{Symbol: symbol, URL: pageURL, Steps: []TraceStep{}}
	if err != nil {
		t.Error = err.Error()
		return t
	}
	return s.TraceDocument(doc, t)
}

// TraceDocument runs the traced cascade over an already parsed page.
func (s *Scraper) TraceDocument(doc *goquery.Document, t Trace) Trace {
	if t.Steps == nil {
		t.Steps = []TraceStep{}
	}
	t.Title = strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find(s.cfg.Selectors.Row).Each(func(_ int, row *goquery.Selection) {
		t.Stats = append(t.Stats, Stat{
			Label: snippet(row.Find(s.cfg.Selectors.Label).First().Text(), 60),
			Value: clean(row.Find(s.cfg.Selectors.Value).First().Text()),
		})
	})

	var ex Extraction
	ex.PE, _ = s.cascade(doc, PE, "", &t.Steps)
	ex.EPS, _ = s.cascade(doc, EPS, ex.PE.Value, &t.Steps)
	ex.reconcile(s.cfg.Ranges)
	t.Extraction = ex
	return t
}
