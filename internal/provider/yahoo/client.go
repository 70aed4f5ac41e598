package yahoo

import (
	"net/http"
	"net/url"
)

const (
	baseURL   = "https://query1.finance.yahoo.com"
	cookieURL = "https://fc.yahoo.com"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=yahoo_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the unofficial Yahoo Finance quote API. The quote
// endpoint only answers requests that carry a session cookie and the crumb
// issued for it; Client obtains both on first use and renews them when the
// API starts refusing them.
type Client struct {
	baseURL    string
	cookieURL  string // any Yahoo page that sets the session cookie
	httpClient HTTPClient
	header     http.Header
	query      url.Values
	session    *session
}

// ClientOption is a configuration option for the Yahoo client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithCookieURL sets the page fetched to obtain a session cookie.
func WithCookieURL(u string) ClientOption {
	return func(c *Client) {
		c.cookieURL = u
	}
}

// WithCrumb seeds the session with a known crumb, skipping the handshake
// until the API rejects it.
func WithCrumb(crumb string) ClientOption {
	return func(c *Client) {
		c.session.set(crumb, nil)
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithQuery sets additional query parameters such as region or lang.
func WithQuery(query url.Values) ClientOption {
	return func(c *Client) {
		for key, values := range query {
			for _, value := range values {
				c.query.Add(key, value)
			}
		}
	}
}

// NewClient creates a new Yahoo Finance client.
func NewClient(options ...ClientOption) *Client {
	var client = &Client{
		baseURL:    baseURL,
		cookieURL:  cookieURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		query:      url.Values{},
		session:    &session{},
	}
	for _, option := range options {
		option(client)
	}
	return client
}
