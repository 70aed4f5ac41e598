package gfinance

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Selectors describe the key-statistics table of a quote page.
type Selectors struct {
	Row   string `mapstructure:"row"`
	Label string `mapstructure:"label"`
	Value string `mapstructure:"value"`
}

// DefaultSelectors match the current Google Finance markup.
func DefaultSelectors() Selectors {
	return Selectors{Row: "div.gyFHrc", Label: ".mfs7Fc", Value: ".P6K39c"}
}

// Structured reads label/value rows of the statistics table.
type Structured struct {
	Selectors Selectors
}

func (Structured) Name() string { return "structured" }

func (s Structured) Candidates(doc *goquery.Document, m Metric) []Candidate {
	var out []Candidate
	doc.Find(s.Selectors.Row).Each(func(_ int, row *goquery.Selection) {
		label := clean(row.Find(s.Selectors.Label).First().Text())
		if !labelled(m, label) {
			return
		}
		raw := clean(row.Find(s.Selectors.Value).First().Text())
		if raw == "" {
			return
		}
		out = append(out, newCandidate(m, s.Name(), raw, label, m == EPS && mentionsPE(clean(row.Text()))))
	})
	return out
}

// Proximity finds elements whose text carries the label and takes the first
// number right after it, or else the first numeric text among the next few
// siblings of the element and of its parent.
type Proximity struct {
	Lookahead int // siblings examined per level
	Window    int // bytes scanned after the label inside the same block
}

func (Proximity) Name() string { return "proximity" }

// maxBlockText skips page-level containers whose text spans whole sections.
const maxBlockText = 240

func (p Proximity) Candidates(doc *goquery.Document, m Metric) []Candidate {
	var out []Candidate
	doc.Find("div, span, td, th, li, p").Each(func(_ int, sel *goquery.Selection) {
		text := clean(sel.Text())
		if text == "" || len(text) > maxBlockText {
			return
		}
		if !labelled(m, text) {
			return
		}
		adjacent := m == EPS && nearPE(sel)

		if end := labelEnd(m, text); end >= 0 {
			window := text[end:]
			if len(window) > p.Window {
				window = window[:p.Window]
			}
			if loc := decimalToken.FindStringIndex(window); loc != nil {
				// a signed figure is a loss, never a usable ratio
				if !signed(window[:loc[0]]) {
					out = append(out, newCandidate(m, p.Name(), window[loc[0]:loc[1]], text, adjacent))
				}
				return
			}
		}
		for _, level := range []*goquery.Selection{sel, sel.Parent()} {
			if raw, ctx, ok := p.siblingValue(level); ok {
				out = append(out, newCandidate(m, p.Name(), raw, ctx, adjacent))
				return
			}
		}
	})
	return out
}

func (p Proximity) siblingValue(sel *goquery.Selection) (raw, context string, ok bool) {
	next := sel.NextAll()
	if next.Length() > p.Lookahead {
		next = next.Slice(0, p.Lookahead)
	}
	next.EachWithBreak(func(_ int, sib *goquery.Selection) bool {
		text := clean(sib.Text())
		if tok := decimalToken.FindString(text); tok != "" && tok == text {
			raw, context, ok = tok, text, true
			return false
		}
		return true
	})
	return raw, context, ok
}

// signed reports whether the text before a number ends in a minus sign or
// an opening parenthesis.
func signed(prefix string) bool {
	prefix = strings.TrimRight(prefix, " ")
	return strings.HasSuffix(prefix, "-") || strings.HasSuffix(prefix, "\u2212") || strings.HasSuffix(prefix, "(")
}

// nearPE reports whether the enclosing block carries a P/E label, as when a
// tooltip mentioning EPS sits inside the P/E row.
func nearPE(sel *goquery.Selection) bool {
	text := clean(sel.Parent().Text())
	return len(text) <= maxBlockText && mentionsPE(text)
}

// Regex scans the visible document text with label-then-number patterns.
type Regex struct{}

func (Regex) Name() string { return "regex" }

const number = `(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)`

var metricPatterns = map[Metric][]*regexp.Regexp{
	PE: {
		regexp.MustCompile(`(?i)(?:^|[^a-z])P/E\s*ratio[:\s]*` + number),
		regexp.MustCompile(`(?i)(?:^|[^a-z])PE\s*ratio[:\s]*` + number),
		regexp.MustCompile(`(?i)(?:^|[^a-z])Price[/\s]*Earnings[:\s]*` + number),
		regexp.MustCompile(`(?i)(?:^|[^a-z])P/E[:\s]*` + number),
	},
	EPS: {
		regexp.MustCompile(`(?i)(?:^|[^a-z])EPS[:\s]*` + number),
		regexp.MustCompile(`(?i)(?:^|[^a-z])Earnings\s*per\s*share[:\s]*` + number),
		regexp.MustCompile(`(?i)(?:^|[^a-z])Earnings/share[:\s]*` + number),
	},
}

// lookbehind is how far before an EPS match P/E text marks it as adjacent.
const lookbehind = 40

func (r Regex) Candidates(doc *goquery.Document, m Metric) []Candidate {
	text := visibleText(doc)
	var out []Candidate
	for _, re := range metricPatterns[m] {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			adjacent := false
			if m == EPS {
				from := max(loc[0]-lookbehind, 0)
				adjacent = mentionsPE(text[from:loc[0]])
			}
			out = append(out, newCandidate(m, r.Name(), text[loc[2]:loc[3]], text[loc[0]:loc[1]], adjacent))
		}
	}
	return out
}

// visibleText is the body text without script and style contents. Element
// boundaries become spaces so numbers in neighbouring cells stay apart.
func visibleText(doc *goquery.Document) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	var b strings.Builder
	for _, n := range body.Nodes {
		collectText(&b, n)
	}
	return b.String()
}

func collectText(b *strings.Builder, n *html.Node) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "noscript", "template":
			return
		}
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		return
	}
	if n.Type == html.ElementNode {
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c)
	}
	if n.Type == html.ElementNode {
		b.WriteByte(' ')
	}
}

// Attribute probes data-testid, aria-label, title and class hints.
type Attribute struct{}

func (Attribute) Name() string { return "attribute" }

var hintTokens = map[Metric][]string{
	PE:  {"pe", "peratio", "p/e"},
	EPS: {"eps"},
}

func (a Attribute) Candidates(doc *goquery.Document, m Metric) []Candidate {
	var out []Candidate
	doc.Find("[data-testid], [aria-label], [title], [class]").Each(func(_ int, sel *goquery.Selection) {
		hint, ok := a.hint(sel, m)
		if !ok {
			return
		}
		raw := clean(sel.Text())
		if raw == "" {
			for _, attr := range []string{"data-value", "content", "value"} {
				if v, ok := sel.Attr(attr); ok {
					raw = clean(v)
					break
				}
			}
		}
		if raw == "" {
			return
		}
		out = append(out, newCandidate(m, a.Name(), raw, hint, false))
	})
	return out
}

func hintSeparator(r rune) bool {
	return r != '/' && !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func (Attribute) hint(sel *goquery.Selection, m Metric) (string, bool) {
	for _, attr := range []string{"aria-label", "title"} {
		if v, ok := sel.Attr(attr); ok && labelled(m, v) {
			return attr + "=" + v, true
		}
	}
	for _, attr := range []string{"data-testid", "class"} {
		v, ok := sel.Attr(attr)
		if !ok {
			continue
		}
		for _, tok := range strings.FieldsFunc(strings.ToLower(v), hintSeparator) {
			for _, want := range hintTokens[m] {
				if tok == want {
					return attr + "=" + v, true
				}
			}
		}
	}
	return "", false
}
