/*
Package source implements the adapters that pull raw telemetry from the
external systems.

PURPOSE:
  One adapter per upstream kind:
    SalesClient:    backoffice sales API (JSON over HTTP, bearer token)
    CounterClient:  per-sensor line counts (CSV over HTTP, basic auth)
    HeatmapClient:  per-sensor dwell time (CSV over HTTP, basic auth)
    RegionalClient: per-sensor region occupancy (CSV over HTTP, basic auth)

ERROR CONTRACT:
  Transport failures and non-2xx statuses surface as *telemetry.SourceError
  (unwrapping to ErrSourceUnavailable) so the scheduler retries them. A body
  that arrives but cannot be parsed is logged and yields an empty batch: a
  corrupt payload is not a reason to stall the collection loop.

WINDOW CONTRACT:
  Every Fetch returns only records falling inside the requested half-open
  window. Upstreams are queried with inclusive bounds and over-fetch; the
  adapter filters.

SEE ALSO:
  - collector/scheduler.go: drives the adapters and owns the retry policy
  - store/sqlite/upsert.go: dedups whatever the adapters over-deliver
*/
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/grnl/retail-engine/telemetry"
)

// TokenSource yields the bearer token for the sales API. Implementations
// may cache and refresh; callers treat the token as opaque.
type TokenSource interface {
	Token(ctx context.Context) (string, error)

	// Invalidate drops any cached token after the API rejects it.
	Invalidate()
}

// StaticTokenSource returns a fixed token. Used in tests and for deployments
// that provision a long-lived token out of band.
type StaticTokenSource string

func (s StaticTokenSource) Token(ctx context.Context) (string, error) { return string(s), nil }
func (s StaticTokenSource) Invalidate()                               {}

// LoginTokenSource exchanges credentials for a bearer token on first use and
// caches it until invalidated.
type LoginTokenSource struct {
	BaseURL  string
	Username string
	Password string
	Client   *http.Client

	mu    sync.Mutex
	token string
}

func (l *LoginTokenSource) Token(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token != "" {
		return l.token, nil
	}

	token, err := l.login(ctx)
	if err != nil {
		return "", err
	}
	l.token = token
	return token, nil
}

func (l *LoginTokenSource) Invalidate() {
	l.mu.Lock()
	l.token = ""
	l.mu.Unlock()
}

func (l *LoginTokenSource) login(ctx context.Context) (string, error) {
	url := l.BaseURL + "/api/account/login"
	body := fmt.Sprintf(`{"Username":%q,"Password":%q}`, l.Username, l.Password)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, stringReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.Client.Do(req)
	if err != nil {
		return "", &telemetry.SourceError{URL: url, Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &telemetry.SourceError{URL: url, Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &telemetry.SourceError{URL: url, Cause: err}
	}
	token, err := extractToken(raw)
	if err != nil {
		return "", fmt.Errorf("%w: login response: %v", telemetry.ErrMalformedPayload, err)
	}
	return token, nil
}

// NewHTTPClient builds the shared HTTP client the adapters use.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
