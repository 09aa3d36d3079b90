// Package gateway implements the outbound request boundary: rotating
// user-agent/proxy identities and fetches with bounded retry on proxy
// failure.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:15.0) Gecko/20100101 Firefox/15.0.1"

// IdentityConfig controls the identity source.
type IdentityConfig struct {
	// UserAgents are cycled across sessions. A default Firefox agent is
	// used when empty.
	UserAgents []string
	// ProxyAPIURL and ProxyAPIKey locate the proxy-pool API. Proxies are
	// fetched once at construction. Leave the URL empty to skip proxies.
	ProxyAPIURL string
	ProxyAPIKey string
	// AllowDirect permits running without any proxy. Without it, an empty
	// proxy pool is a fatal misconfiguration.
	AllowDirect bool
}

// Session is the identity for one request: a user agent plus an optional
// proxy.
type Session struct {
	UserAgent string
	Proxy     *url.URL
}

// IdentitySource hands out a fresh Session per request, cycling user agents
// and picking a random proxy from the pool.
type IdentitySource struct {
	mu      sync.Mutex
	agents  []string
	next    int
	proxies []*url.URL
}

// NewIdentitySource builds the source, fetching the proxy pool when
// configured. An empty pool with AllowDirect unset is an error: this is the
// one startup misconfiguration that aborts the process.
func NewIdentitySource(ctx context.Context, cfg IdentityConfig, logger *zap.Logger) (*IdentitySource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	agents := cfg.UserAgents
	if len(agents) == 0 {
		agents = []string{defaultUserAgent}
	}

	var proxies []*url.URL
	if cfg.ProxyAPIURL != "" {
		var err error
		proxies, err = fetchProxies(ctx, cfg.ProxyAPIURL, cfg.ProxyAPIKey)
		if err != nil {
			logger.Warn("proxy pool fetch failed", zap.Error(err))
		}
	}
	if len(proxies) == 0 {
		if !cfg.AllowDirect {
			return nil, errors.New("no proxies available and direct connections are not allowed")
		}
		logger.Warn("no proxies available, continuing with direct connections")
	}

	return &IdentitySource{
		agents:  agents,
		proxies: proxies,
	}, nil
}

// Next returns the identity for the next request.
func (s *IdentitySource) Next() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent := s.agents[s.next%len(s.agents)]
	s.next++
	var proxy *url.URL
	if len(s.proxies) > 0 {
		proxy = s.proxies[rand.Intn(len(s.proxies))]
	}
	return Session{UserAgent: agent, Proxy: proxy}
}

// HasProxies reports whether the pool is non-empty.
func (s *IdentitySource) HasProxies() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.proxies) > 0
}

// proxyAPIResponse mirrors the proxy provider's account payload.
type proxyAPIResponse struct {
	Data struct {
		Login          string `json:"login"`
		Password       string `json:"password"`
		ExpirationDate string `json:"expiration_date_human"`
		IPPacks        []struct {
			IP       string `json:"ip"`
			PortHTTP int    `json:"port_http"`
		} `json:"ippacks"`
	} `json:"data"`
}

func fetchProxies(ctx context.Context, apiURL, apiKey string) ([]*url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build proxy api request: %w", err)
	}
	req.Header.Set("Authorization", apiKey)

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request proxy api: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy api returned status %d", resp.StatusCode)
	}

	var payload proxyAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode proxy api response: %w", err)
	}
	if payload.Data.ExpirationDate == "Expired" {
		return nil, errors.New("proxy plan is expired")
	}

	proxies := make([]*url.URL, 0, len(payload.Data.IPPacks))
	for _, pack := range payload.Data.IPPacks {
		raw := fmt.Sprintf("http://%s:%s@%s:%d",
			payload.Data.Login, payload.Data.Password, pack.IP, pack.PortHTTP)
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		proxies = append(proxies, u)
	}
	return proxies, nil
}
