package rates

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshAndLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int64{
			"AK-47 | Redline": 500,
			"Glock | Fade":    300,
		})
	}))
	defer srv.Close()

	c, err := New(Config{Log: slog.Disabled, URL: srv.URL})
	require.NoError(t, err)

	// Empty until the first refresh.
	_, ok := c.Price("AK-47 | Redline")
	assert.False(t, ok)
	assert.True(t, c.FetchedAt().IsZero())

	require.NoError(t, c.Refresh(context.Background()))
	v, ok := c.Price("AK-47 | Redline")
	assert.True(t, ok)
	assert.Equal(t, int64(500), v)
	assert.False(t, c.FetchedAt().IsZero())

	_, ok = c.Price("unknown")
	assert.False(t, ok)
}

func TestRefreshFailureKeepsStalePrices(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]int64{"AK-47 | Redline": 500})
	}))
	defer srv.Close()

	c, err := New(Config{Log: slog.Disabled, URL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, c.Refresh(context.Background()))
	fetched := c.FetchedAt()

	fail.Store(true)
	require.Error(t, c.Refresh(context.Background()))

	// The stale prices and their fetch time survive.
	v, ok := c.Price("AK-47 | Redline")
	assert.True(t, ok)
	assert.Equal(t, int64(500), v)
	assert.Equal(t, fetched, c.FetchedAt())
}
