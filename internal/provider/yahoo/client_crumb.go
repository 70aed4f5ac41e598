package yahoo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"stockquote/internal/provider"
)

// ErrCrumb reports a failed cookie/crumb handshake.
var ErrCrumb = errors.New("crumb handshake failed")

// session is the cookie/crumb pair shared by every request of a Client.
type session struct {
	mu      sync.Mutex
	crumb   string
	cookies []*http.Cookie
	renew   singleflight.Group
}

func (s *session) get() (string, []*http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crumb, s.cookies
}

func (s *session) set(crumb string, cookies []*http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crumb, s.cookies = crumb, cookies
}

// invalidate drops crumb unless a concurrent renewal already replaced it.
func (s *session) invalidate(crumb string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.crumb == crumb {
		s.crumb, s.cookies = "", nil
	}
}

// credentials returns the cached crumb and cookies, running the handshake
// when there are none. Concurrent callers share one handshake.
func (c *Client) credentials(ctx context.Context) (string, []*http.Cookie, error) {
	if crumb, cookies := c.session.get(); crumb != "" {
		return crumb, cookies, nil
	}
	_, err, _ := c.session.renew.Do("crumb", func() (any, error) {
		if crumb, _ := c.session.get(); crumb != "" {
			return nil, nil
		}
		cookies, err := c.fetchCookies(ctx)
		if err != nil {
			return nil, err
		}
		crumb, err := c.fetchCrumb(ctx, cookies)
		if err != nil {
			return nil, err
		}
		c.session.set(crumb, cookies)
		return nil, nil
	})
	if err != nil {
		return "", nil, err
	}
	crumb, cookies := c.session.get()
	return crumb, cookies, nil
}

// fetchCookies loads the cookie page. It usually answers 404 but still sets
// the session cookie, so only the cookies matter.
func (c *Client) fetchCookies(ctx context.Context) ([]*http.Cookie, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cookieURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating cookie request: %w", err)
	}
	req.Header = c.header.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing cookie request: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))

	cookies := res.Cookies()
	if len(cookies) == 0 {
		return nil, fmt.Errorf("%w: %s set no cookie (status %d)", ErrCrumb, c.cookieURL, res.StatusCode)
	}
	return cookies, nil
}

func (c *Client) fetchCrumb(ctx context.Context, cookies []*http.Cookie) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/test/getcrumb", http.NoBody)
	if err != nil {
		return "", fmt.Errorf("creating crumb request: %w", err)
	}
	req.Header = c.header.Clone()
	req.Header.Set("Accept", "text/plain")
	for _, ck := range cookies {
		req.AddCookie(ck)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("performing crumb request: %w", err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(res.Body, 256))

	switch res.StatusCode {
	case http.StatusOK:
		break

	case http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: %w", ErrCrumb, provider.ErrRateLimited)

	default:
		return "", fmt.Errorf("%w: %w: status %d", ErrCrumb, provider.ErrBadStatus, res.StatusCode)
	}

	crumb := strings.TrimSpace(string(b))
	if crumb == "" || strings.ContainsAny(crumb, "<{ ") {
		return "", fmt.Errorf("%w: unexpected crumb body %q", ErrCrumb, crumb)
	}
	return crumb, nil
}
