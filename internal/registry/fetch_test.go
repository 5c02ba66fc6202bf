package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdwit/spec2call/internal/netguard"
)

type guardFunc func(ctx context.Context, rawURL string) error

func (f guardFunc) Validate(ctx context.Context, rawURL string) error { return f(ctx, rawURL) }

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.yaml":
			_, _ = w.Write([]byte("openapi: 3.0.0\n"))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
		case "/boom":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), nil, 1024, nil)
	ctx := context.Background()

	data, err := f.Fetch(ctx, srv.URL+"/ok.yaml")
	require.NoError(t, err)
	assert.Equal(t, "openapi: 3.0.0\n", string(data))

	_, err = f.Fetch(ctx, srv.URL+"/boom")
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusBadGateway, fetchErr.StatusCode)
	assert.Contains(t, err.Error(), "HTTP 502")

	_, err = f.Fetch(ctx, srv.URL+"/big")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 1024 bytes")
}

func TestFetchGuard(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	blocked := guardFunc(func(ctx context.Context, rawURL string) error {
		return &netguard.BlockedError{URL: rawURL, Reason: "loopback"}
	})
	f := NewFetcher(srv.Client(), blocked, 0, nil)

	_, err := f.Fetch(context.Background(), srv.URL+"/openapi.json")
	assert.ErrorIs(t, err, netguard.ErrBlocked)
	_, _, err = f.Discover(context.Background(), srv.URL)
	assert.ErrorIs(t, err, netguard.ErrBlocked)
	assert.Zero(t, hits.Load(), "blocked URLs are never contacted")
}

func TestDiscover(t *testing.T) {
	var (
		mu     sync.Mutex
		probed []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		probed = append(probed, r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/openapi.json":
			// SPA отдаёт index.html на любой путь
			_, _ = w.Write([]byte("<html></html>"))
		case "/v3/api-docs":
			_, _ = w.Write([]byte(`{"openapi":"3.0.1","info":{"title":"x","version":"1"},"paths":{}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), nil, 0, nil)
	found, data, err := f.Discover(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/v3/api-docs", found)
	assert.Contains(t, string(data), `"openapi":"3.0.1"`)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/openapi.json", "/openapi.yaml", "/swagger.json", "/v3/api-docs"}, probed)
}

func TestDiscoverNothingFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := NewFetcher(srv.Client(), nil, 0, nil)
	_, _, err := f.Discover(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrNoSpecFound)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
}

func TestDiscoverCancelled(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewFetcher(srv.Client(), nil, 0, nil)
	_, _, err := f.Discover(ctx, srv.URL)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNoSpecFound)
}
