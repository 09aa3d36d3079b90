package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kibblewatch/crawler/internal/crawler"
	"github.com/kibblewatch/crawler/internal/metrics"
)

// Config controls fetch behavior.
type Config struct {
	// Timeout bounds each individual request attempt.
	Timeout time.Duration
	// MaxAttempts caps same-URL retries after proxy-layer failures.
	MaxAttempts int
	// MaxBodyBytes limits how much of a response body is read.
	MaxBodyBytes int64
	// PerHostRPS and PerHostBurst configure the politeness limiter.
	// Zero RPS disables limiting.
	PerHostRPS   float64
	PerHostBurst int
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 5 << 20
	}
	if c.PerHostBurst <= 0 {
		c.PerHostBurst = 1
	}
}

// Client fetches URLs with a fresh identity per attempt. A proxy-layer
// failure rotates to a new identity and retries the same URL; timeouts,
// bad statuses and other transport errors are terminal for the job.
type Client struct {
	identities *IdentitySource
	cfg        Config
	logger     *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New constructs a Client.
func New(identities *IdentitySource, cfg Config, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		identities: identities,
		cfg:        cfg,
		logger:     logger,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Fetch retrieves the URL. Errors that occur before any request was
// attempted wrap crawler.ErrNotAttempted.
func (c *Client) Fetch(ctx context.Context, rawURL string) (crawler.FetchResponse, error) {
	if err := c.waitHost(ctx, rawURL); err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("%w: %v", crawler.ErrNotAttempted, err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		session := c.identities.Next()
		resp, err := c.do(ctx, rawURL, session)
		if err == nil {
			return resp, nil
		}
		if isProxyError(err) {
			lastErr = err
			metrics.IncProxyRetry()
			c.logger.Warn("proxy failure, retrying with new identity",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return crawler.FetchResponse{}, fmt.Errorf("fetch %s: proxy retries exhausted: %w", rawURL, lastErr)
}

func (c *Client) do(ctx context.Context, rawURL string, session Session) (crawler.FetchResponse, error) {
	transport := &http.Transport{
		TLSHandshakeTimeout: c.cfg.Timeout,
	}
	if session.Proxy != nil {
		transport.Proxy = http.ProxyURL(session.Proxy)
	}
	client := &http.Client{
		Timeout:   c.cfg.Timeout,
		Transport: transport,
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("%w: build request: %v", crawler.ErrNotAttempted, err)
	}
	req.Header.Set("User-Agent", session.UserAgent)

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveFetch("error", duration)
		return crawler.FetchResponse{}, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ObserveFetch("bad_status", duration)
		return crawler.FetchResponse{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		metrics.ObserveFetch("error", duration)
		return crawler.FetchResponse{}, fmt.Errorf("read body: %w", err)
	}

	metrics.ObserveFetch("ok", duration)
	return crawler.FetchResponse{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Body:       body,
		Duration:   duration,
	}, nil
}

func (c *Client) waitHost(ctx context.Context, rawURL string) error {
	if c.cfg.PerHostRPS <= 0 {
		return nil
	}
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	c.mu.Lock()
	limiter, ok := c.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(c.cfg.PerHostRPS), c.cfg.PerHostBurst)
		c.limiters[host] = limiter
	}
	c.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// isProxyError reports whether the failure happened at the proxy layer.
// net/http prefixes proxy CONNECT/dial failures with "proxyconnect".
func isProxyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "proxyconnect")
}
