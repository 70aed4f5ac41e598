package yahoo

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog"

	"stockquote/internal/provider"
)

// Provider adapts Client to provider.Primary.
type Provider struct {
	name   string
	client *Client
	log    zerolog.Logger
}

func NewProvider(name string, client *Client, log zerolog.Logger) *Provider {
	if name == "" {
		name = "yahoo"
	}
	return &Provider{name: name, client: client, log: log.With().Str("component", name).Logger()}
}

func (p *Provider) Name() string { return p.name }

// Fetch makes one quote request, preceded by the crumb handshake when the
// client has no session yet. Any failure comes back as a
// *provider.UpstreamError.
func (p *Provider) Fetch(ctx context.Context, symbol string) (provider.Partial, error) {
	q, err := p.client.GetQuote(ctx, symbol)
	if err != nil {
		var ue *provider.UpstreamError
		if !errors.As(err, &ue) {
			ue = provider.NewUpstreamError(p.name, symbol, 0, err)
		}
		return provider.Partial{}, ue
	}

	var out provider.Partial
	if q.RegularMarketPrice != nil && *q.RegularMarketPrice > 0 {
		v := *q.RegularMarketPrice
		out.Price = &v
	}
	if q.TrailingPE != nil {
		out.PERatio = provider.FormatRatio(*q.TrailingPE)
	}
	if q.EpsTrailingTwelveMonths != nil {
		out.EPS = provider.FormatRatio(*q.EpsTrailingTwelveMonths)
	}
	if q.MarketCap != nil && *q.MarketCap > 0 {
		v := *q.MarketCap
		out.MarketCap = &v
	}
	if q.RegularMarketVolume != nil && *q.RegularMarketVolume >= 0 && !math.IsInf(*q.RegularMarketVolume, 0) {
		v := int64(*q.RegularMarketVolume)
		out.Volume = &v
	}
	p.log.Debug().
		Str("symbol", symbol).
		Bool("price", out.Price != nil).
		Str("pe", out.PERatio).
		Str("eps", out.EPS).
		Msg("primary quote")
	return out, nil
}
