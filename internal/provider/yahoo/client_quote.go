package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"

	"github.com/PaesslerAG/jsonpath"

	"stockquote/internal/provider"
)

// resultPath locates the single quote inside a v7 quote response.
const resultPath = "$.quoteResponse.result[0]"

// Quote is the subset of a Yahoo quote this service reads. Nil fields were
// not reported.
type Quote struct {
	Symbol                  string
	RegularMarketPrice      *float64
	TrailingPE              *float64
	EpsTrailingTwelveMonths *float64
	MarketCap               *float64
	RegularMarketVolume     *float64
}

// GetQuote retrieves the quote for symbol in price-API notation (e.g. INFY.NS).
// A 401 renews the session crumb and retries once.
func (c *Client) GetQuote(ctx context.Context, symbol string, opts ...ClientOption) (*Quote, error) {
	var override = &Client{
		baseURL:    c.baseURL,
		cookieURL:  c.cookieURL,
		httpClient: c.httpClient,
		header:     c.header.Clone(),
		query:      c.query,
		session:    c.session,
	}
	for _, opt := range opts {
		opt(override)
	}

	for attempt := 0; ; attempt++ {
		crumb, cookies, err := override.credentials(ctx)
		if err != nil {
			return nil, provider.NewUpstreamError("yahoo", symbol, 0, err)
		}
		res, err := override.doQuote(ctx, symbol, crumb, cookies)
		if err != nil {
			return nil, err
		}
		if res.StatusCode == http.StatusUnauthorized && attempt == 0 {
			_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 512))
			res.Body.Close()
			override.session.invalidate(crumb)
			continue
		}
		defer res.Body.Close()
		return decodeQuote(res, symbol)
	}
}

func (c *Client) doQuote(ctx context.Context, symbol, crumb string, cookies []*http.Cookie) (*http.Response, error) {
	query := maps.Clone(c.query)
	query.Set("symbols", symbol)
	query.Set("crumb", crumb)

	url := fmt.Sprintf("%s/v7/finance/quote?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()
	for _, ck := range cookies {
		req.AddCookie(ck)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	return res, nil
}

func decodeQuote(res *http.Response, symbol string) (*Quote, error) {
	switch res.StatusCode {
	case http.StatusOK:
		break

	case http.StatusNotFound:
		return nil, provider.NewUpstreamError("yahoo", symbol, res.StatusCode, provider.ErrNotFound)

	case http.StatusTooManyRequests:
		return nil, provider.NewUpstreamError("yahoo", symbol, res.StatusCode, provider.ErrRateLimited)

	default:
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, provider.NewUpstreamError("yahoo", symbol, res.StatusCode, fmt.Errorf("%w: %s", provider.ErrBadStatus, string(b)))
	}

	var body any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, provider.NewUpstreamError("yahoo", symbol, 0, fmt.Errorf("%w: %v", provider.ErrDecode, err))
	}

	// {
	//   "quoteResponse": {
	//     "result": [{
	//       "symbol": "INFY.NS",
	//       "regularMarketPrice": 1502.3,
	//       "trailingPE": 22.37,
	//       "epsTrailingTwelveMonths": 65.68,
	//       "marketCap": 6238000000000,
	//       "regularMarketVolume": 5523012
	//     }],
	//     "error": null
	//   }
	// }
	raw, err := jsonpath.Get(resultPath, body)
	if err != nil {
		return nil, provider.NewUpstreamError("yahoo", symbol, 0, provider.ErrNotFound)
	}
	if raw == nil {
		return nil, provider.NewUpstreamError("yahoo", symbol, 0, provider.ErrNotFound)
	}
	item, ok := raw.(map[string]any)
	if !ok {
		return nil, provider.NewUpstreamError("yahoo", symbol, 0, fmt.Errorf("%w: result is %T", provider.ErrDecode, raw))
	}

	q := &Quote{Symbol: symbol}
	if s, ok := item["symbol"].(string); ok && s != "" {
		q.Symbol = s
	}
	fields := []struct {
		key string
		dst **float64
	}{
		{"regularMarketPrice", &q.RegularMarketPrice},
		{"trailingPE", &q.TrailingPE},
		{"epsTrailingTwelveMonths", &q.EpsTrailingTwelveMonths},
		{"marketCap", &q.MarketCap},
		{"regularMarketVolume", &q.RegularMarketVolume},
	}
	for _, f := range fields {
		v, err := parseNullableValue[float64](item, f.key)
		if err != nil {
			return nil, provider.NewUpstreamError("yahoo", symbol, 0, fmt.Errorf("%w: %s: %v", provider.ErrDecode, f.key, err))
		}
		*f.dst = v
	}
	return q, nil
}

// parseNullableValue is a helper function to parse a nullable value.
func parseNullableValue[T any](data map[string]any, key string) (*T, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return nil, nil
	}
	if v, ok := v.(T); ok {
		return &v, nil
	}
	return nil, fmt.Errorf("unexpected type: %T", v)
}
