package provider

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("symbol not found")
	ErrRateLimited = errors.New("rate limited")
	ErrBadStatus   = errors.New("unexpected status code")
	ErrDecode      = errors.New("unparseable response")
)

// UpstreamError reports a failed call to an external source: network errors,
// timeouts, non-200 answers, bodies that cannot be read, unknown symbols.
type UpstreamError struct {
	Provider   string
	Symbol     string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Symbol, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Symbol, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NewUpstreamError wraps err for provider/symbol.
func NewUpstreamError(provider, symbol string, status int, err error) *UpstreamError {
	return &UpstreamError{Provider: provider, Symbol: symbol, StatusCode: status, Err: err}
}
