// Package rates maintains the market-price cache used to value deposited
// items. Prices are fetched from an external feed on a fixed interval; when
// a refresh fails, the last known prices are served stale rather than
// failing valuations.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/decred/slog"
)

const defaultRefreshInterval = 24 * time.Hour

// Config configures the price cache.
type Config struct {
	Log slog.Logger

	// URL of the price feed, returning a JSON object mapping market names
	// to prices in cents.
	URL string

	// RefreshInterval between feed fetches. Defaults to 24h.
	RefreshInterval time.Duration

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// Cache is an explicit price cache holding the fetched prices and their
// fetch time. It is injected into the ledger rather than held as ambient
// state.
type Cache struct {
	log      slog.Logger
	url      string
	interval time.Duration
	hc       *http.Client

	mu        sync.RWMutex
	prices    map[string]int64
	fetchedAt time.Time
}

func New(cfg Config) (*Cache, error) {
	if cfg.Log == nil {
		return nil, fmt.Errorf("rates cache requires a logger")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("rates cache requires a feed URL")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Cache{
		log:      cfg.Log,
		url:      cfg.URL,
		interval: cfg.RefreshInterval,
		hc:       hc,
		prices:   make(map[string]int64),
	}, nil
}

// Price returns the cached price in cents for a market name. A missing name
// reports ok == false; callers value such items at zero.
func (c *Cache) Price(name string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.prices[name]
	return v, ok
}

// FetchedAt returns when the current prices were fetched. Zero when no
// fetch has succeeded yet.
func (c *Cache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

// Refresh fetches the feed and swaps in the new prices. On failure the
// previous prices are kept and the error is returned.
func (c *Cache) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("fetch prices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("price feed returned status %d", resp.StatusCode)
	}

	var prices map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&prices); err != nil {
		return fmt.Errorf("decode price feed: %w", err)
	}

	c.mu.Lock()
	c.prices = prices
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	c.log.Infof("rates: refreshed %d prices", len(prices))
	return nil
}

// Run refreshes immediately and then on the configured interval until ctx
// is canceled. Refresh failures keep serving the stale cache.
func (c *Cache) Run(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.log.Errorf("rates: initial refresh failed: %v", err)
	}

	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.Refresh(ctx); err != nil {
				c.log.Warnf("rates: refresh failed, keeping prices fetched %s ago: %v",
					time.Since(c.FetchedAt()).Round(time.Second), err)
			}
		}
	}
}
