// Package api is the authenticated HTTP client for the delivery backend. It
// retries transient failures with capped exponential backoff and treats
// 401/403 as terminal.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	// DefaultMaxRetries is the retry count used when neither Opts nor the call sets one.
	DefaultMaxRetries = 3
	// RetryCeiling is the largest retry count a call site may request.
	RetryCeiling = 5

	defaultBaseDelay = time.Second
	defaultMaxDelay  = 10 * time.Second
)

var (
	// ErrNoToken is returned when no credentials are stored. The login hook
	// has already been invoked; callers must not retry.
	ErrNoToken = errors.New("api: not logged in")
	// ErrUnauthorized is returned for 401/403. Credentials have been cleared
	// and the login hook invoked.
	ErrUnauthorized = errors.New("api: unauthorized")
)

// TokenStore is the credential surface the client needs.
type TokenStore interface {
	Token() string
	Clear() error
}

// RetryPolicy is a bounded exponential backoff.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Delay returns min(base * 2^attempt, max).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Client performs authenticated requests.
type Client struct {
	http      *http.Client
	creds     TokenStore
	onAuth    func()
	policy    RetryPolicy
	coldStart RetryPolicy
	logger    *zerolog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// Opts holds parameters for creating a Client.
type Opts struct {
	HTTPClient  *http.Client // defaults to a client with a 30s timeout
	Credentials TokenStore
	// OnAuthFailure runs when the token is missing or rejected. It plays the
	// role of the redirect to the login page.
	OnAuthFailure func()
	Retry         RetryPolicy
	ColdStart     RetryPolicy
	Logger        *zerolog.Logger
}

// NewClient creates a Client.
func NewClient(opts Opts) (*Client, error) {
	if opts.Credentials == nil {
		return nil, fmt.Errorf("api: credentials are required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = &log.Logger
	}
	onAuth := opts.OnAuthFailure
	if onAuth == nil {
		onAuth = func() {}
	}
	return &Client{
		http:      hc,
		creds:     opts.Credentials,
		onAuth:    onAuth,
		policy:    normalizePolicy(opts.Retry, RetryPolicy{DefaultMaxRetries, defaultBaseDelay, defaultMaxDelay}),
		coldStart: normalizePolicy(opts.ColdStart, RetryPolicy{RetryCeiling, 2 * time.Second, 15 * time.Second}),
		logger:    logger,
		sleep:     sleepCtx,
	}, nil
}

func normalizePolicy(p, def RetryPolicy) RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.MaxRetries > RetryCeiling {
		p.MaxRetries = RetryCeiling
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// callOpts collects per-call overrides.
type callOpts struct {
	policy  RetryPolicy
	headers http.Header
}

// Option adjusts a single call.
type Option func(*callOpts)

// WithMaxRetries overrides the retry count for one call, capped at RetryCeiling.
func WithMaxRetries(n int) Option {
	return func(o *callOpts) {
		if n < 0 {
			n = 0
		}
		if n > RetryCeiling {
			n = RetryCeiling
		}
		o.policy.MaxRetries = n
	}
}

// WithHeader sets a request header, replacing the defaults for that key.
func WithHeader(key, value string) Option {
	return func(o *callOpts) {
		o.headers.Set(key, value)
	}
}

// coldStart is applied before caller options by FetchAPI.
func (c *Client) coldStartOption() Option {
	return func(o *callOpts) { o.policy = c.coldStart }
}

// Do sends an authenticated request. body may be nil; it is replayed on
// every attempt. A 5xx response or transport error is retried; after the
// last attempt the final 5xx response is returned, or the last transport
// error. The returned response body must be closed by the caller.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, opts ...Option) (*http.Response, error) {
	token := c.creds.Token()
	if token == "" {
		c.logger.Warn().Str("url", url).Msg("api: no token stored, redirecting to login")
		c.onAuth()
		return nil, ErrNoToken
	}

	co := callOpts{policy: c.policy, headers: http.Header{}}
	for _, opt := range opts {
		opt(&co)
	}
	policy := co.policy

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		c.logger.Debug().Int("attempt", attempt+1).Int("max", policy.MaxRetries+1).
			Str("method", method).Str("url", url).Msg("api: attempt")

		req, err := c.newRequest(ctx, method, url, body, token, co.headers)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt < policy.MaxRetries {
				wait := policy.Delay(attempt)
				c.logger.Debug().Err(err).Dur("wait", wait).Msg("api: network error, retrying")
				if err := c.sleep(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
			c.logger.Error().Err(err).Str("url", url).Msg("api: all attempts failed")
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			c.logger.Warn().Int("status", resp.StatusCode).Msg("api: credentials rejected, logging out")
			if err := c.creds.Clear(); err != nil {
				c.logger.Error().Err(err).Msg("api: clear credentials")
			}
			c.onAuth()
			return nil, ErrUnauthorized
		case resp.StatusCode < 500:
			return resp, nil
		case attempt < policy.MaxRetries:
			drain(resp)
			wait := policy.Delay(attempt)
			c.logger.Debug().Int("status", resp.StatusCode).Dur("wait", wait).Msg("api: server unavailable, retrying")
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		default:
			return resp, nil
		}
	}
	// Only reachable when every attempt erred without a response.
	return nil, lastErr
}

func (c *Client) newRequest(ctx context.Context, method, url string, body []byte, token string, overrides http.Header) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	for k, vs := range overrides {
		req.Header[k] = vs
	}
	return req, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
