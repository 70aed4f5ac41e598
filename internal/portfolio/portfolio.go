// Package portfolio joins a list of holdings with live quotes and groups
// them by sector.
package portfolio

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"stockquote/internal/provider"
)

//go:embed holdings.yaml
var sampleHoldings []byte

// UnknownSector groups holdings that name no sector.
const UnknownSector = "Other"

type Holding struct {
	Name          string          `yaml:"name" json:"name"`
	Symbol        string          `yaml:"symbol" json:"symbol"`
	Exchange      string          `yaml:"exchange" json:"exchange"`
	Sector        string          `yaml:"sector" json:"sector"`
	PurchasePrice decimal.Decimal `yaml:"purchasePrice" json:"purchasePrice"`
	Qty           int64           `yaml:"qty" json:"qty"`
}

type Portfolio struct {
	Currency string    `yaml:"currency"`
	Holdings []Holding `yaml:"holdings"`
}

// Load reads holdings from path, or the embedded sample when path is empty.
func Load(path string) (Portfolio, error) {
	data := sampleHoldings
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Portfolio{}, fmt.Errorf("failed to read holdings: %w", err)
		}
		data = b
	}
	return Parse(data)
}

// Parse decodes and validates a YAML holdings document.
func Parse(data []byte) (Portfolio, error) {
	var p Portfolio
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Portfolio{}, fmt.Errorf("failed to parse holdings: %w", err)
	}
	if p.Currency == "" {
		p.Currency = "INR"
	}
	var errs []error
	for i := range p.Holdings {
		h := &p.Holdings[i]
		h.Symbol = strings.TrimSpace(h.Symbol)
		h.Sector = strings.TrimSpace(h.Sector)
		if h.Sector == "" {
			h.Sector = UnknownSector
		}
		if h.Name == "" {
			h.Name = h.Symbol
		}
		if h.Symbol == "" {
			errs = append(errs, fmt.Errorf("holding %d: symbol is required", i))
		}
		if !h.PurchasePrice.IsPositive() {
			errs = append(errs, fmt.Errorf("holding %d (%s): purchasePrice must be positive", i, h.Symbol))
		}
		if h.Qty <= 0 {
			errs = append(errs, fmt.Errorf("holding %d (%s): qty must be positive", i, h.Symbol))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Portfolio{}, err
	}
	return p, nil
}

// Quoter is satisfied by the aggregator.
type Quoter interface {
	GetQuote(ctx context.Context, symbol string) provider.QuoteResult
}

type Row struct {
	Holding
	Investment   decimal.Decimal      `json:"investment"`
	CurrentPrice *decimal.Decimal     `json:"currentPrice,omitempty"`
	PresentValue *decimal.Decimal     `json:"presentValue,omitempty"`
	GainLoss     *decimal.Decimal     `json:"gainLoss,omitempty"`
	Weight       decimal.Decimal      `json:"weightPercent"`
	PERatio      string               `json:"peRatio"`
	EPS          string               `json:"earningsPerShare"`
	DataQuality  provider.DataQuality `json:"dataQuality"`
}

// Totals sum a set of rows. PresentValue and GainLoss only cover rows that
// have a price; PricedInvestment is what they are measured against.
type Totals struct {
	Investment       decimal.Decimal `json:"investment"`
	PricedInvestment decimal.Decimal `json:"pricedInvestment"`
	PresentValue     decimal.Decimal `json:"presentValue"`
	GainLoss         decimal.Decimal `json:"gainLoss"`
	GainLossPercent  decimal.Decimal `json:"gainLossPercent"`
	Priced           int             `json:"priced"`
	Holdings         int             `json:"holdings"`
}

type Sector struct {
	Name   string `json:"name"`
	Rows   []Row  `json:"rows"`
	Totals Totals `json:"totals"`
}

type View struct {
	Currency  string    `json:"currency"`
	Sectors   []Sector  `json:"sectors"`
	Totals    Totals    `json:"totals"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var hundred = decimal.NewFromInt(100)

// Build quotes every distinct symbol once, at most concurrency at a time,
// and assembles the view. Sectors keep the order in which they first
// appear in the holdings.
func Build(ctx context.Context, q Quoter, p Portfolio, concurrency int) View {
	if concurrency <= 0 {
		concurrency = 4
	}

	var symbols []string
	index := make(map[string]int)
	for _, h := range p.Holdings {
		key := strings.ToUpper(h.Symbol)
		if _, ok := index[key]; !ok {
			index[key] = len(symbols)
			symbols = append(symbols, h.Symbol)
		}
	}
	quotes := make([]provider.QuoteResult, len(symbols))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, s := range symbols {
		g.Go(func() error {
			quotes[i] = q.GetQuote(ctx, s)
			return nil
		})
	}
	_ = g.Wait()

	var total decimal.Decimal
	for _, h := range p.Holdings {
		total = total.Add(h.PurchasePrice.Mul(decimal.NewFromInt(h.Qty)))
	}

	view := View{Currency: p.Currency, Sectors: []Sector{}, UpdatedAt: time.Now().UTC()}
	sectorAt := make(map[string]int)
	for _, h := range p.Holdings {
		row := newRow(h, quotes[index[strings.ToUpper(h.Symbol)]], total)
		i, ok := sectorAt[h.Sector]
		if !ok {
			i = len(view.Sectors)
			sectorAt[h.Sector] = i
			view.Sectors = append(view.Sectors, Sector{Name: h.Sector})
		}
		view.Sectors[i].Rows = append(view.Sectors[i].Rows, row)
	}

	var all []Row
	for i := range view.Sectors {
		view.Sectors[i].Totals = sum(view.Sectors[i].Rows)
		all = append(all, view.Sectors[i].Rows...)
	}
	view.Totals = sum(all)
	return view
}

func newRow(h Holding, q provider.QuoteResult, total decimal.Decimal) Row {
	qty := decimal.NewFromInt(h.Qty)
	r := Row{
		Holding:     h,
		Investment:  h.PurchasePrice.Mul(qty).Round(2),
		PERatio:     q.PERatio,
		EPS:         q.EPS,
		DataQuality: q.DataQuality,
	}
	if total.IsPositive() {
		r.Weight = r.Investment.Div(total).Mul(hundred).Round(2)
	}
	if q.CurrentPrice != nil {
		price := decimal.NewFromFloat(*q.CurrentPrice)
		pv := price.Mul(qty).Round(2)
		gl := pv.Sub(r.Investment)
		r.CurrentPrice = &price
		r.PresentValue = &pv
		r.GainLoss = &gl
	}
	return r
}

func sum(rows []Row) Totals {
	var t Totals
	for _, r := range rows {
		t.Holdings++
		t.Investment = t.Investment.Add(r.Investment)
		if r.PresentValue == nil {
			continue
		}
		t.Priced++
		t.PricedInvestment = t.PricedInvestment.Add(r.Investment)
		t.PresentValue = t.PresentValue.Add(*r.PresentValue)
	}
	t.GainLoss = t.PresentValue.Sub(t.PricedInvestment)
	if t.PricedInvestment.IsPositive() {
		t.GainLossPercent = t.GainLoss.Div(t.PricedInvestment).Mul(hundred).Round(2)
	}
	return t
}
