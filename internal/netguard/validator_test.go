package netguard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdwit/spec2call/internal/metrics"
)

type fakeResolver map[string][]string

func (f fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	ips, ok := f[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	out := make([]net.IPAddr, 0, len(ips))
	for _, ip := range ips {
		out = append(out, net.IPAddr{IP: net.ParseIP(ip)})
	}
	return out, nil
}

func newTestValidator(cfg Config) *Validator {
	return NewValidator(cfg, nil, nil).WithResolver(fakeResolver{
		"api.example.com":  {"93.184.216.34"},
		"rebind.example":   {"93.184.216.34", "10.0.0.5"},
		"ipv6.example.com": {"2606:2800:220:1:248:1893:25c8:1946"},
		"empty.example":    {},
	})
}

func TestValidate(t *testing.T) {
	v := newTestValidator(Config{})

	tests := []struct {
		name    string
		url     string
		blocked bool
	}{
		{"public host", "https://api.example.com/openapi.json", false},
		{"public ipv6 host", "http://ipv6.example.com", false},
		{"public ip literal", "http://93.184.216.34/spec", false},
		{"file scheme", "file:///etc/passwd", true},
		{"gopher scheme", "gopher://api.example.com", true},
		{"localhost", "http://localhost:8080", true},
		{"localhost suffix", "http://app.localhost", true},
		{"mdns", "http://printer.local", true},
		{"internal", "http://metadata.google.internal/computeMetadata/v1", true},
		{"trailing dot", "http://service.internal./x", true},
		{"loopback", "http://127.0.0.1", true},
		{"loopback v6", "http://[::1]:9000", true},
		{"private 10", "http://10.1.2.3", true},
		{"private 172", "http://172.20.0.1", true},
		{"private 192", "http://192.168.1.1", true},
		{"link local", "http://169.254.10.10", true},
		{"aws metadata", "http://169.254.169.254/latest/meta-data", true},
		{"alibaba metadata", "http://100.100.100.200", true},
		{"aws v6 metadata", "http://[fd00:ec2::254]", true},
		{"ula", "http://[fd12:3456::1]", true},
		{"mapped loopback", "http://[::ffff:127.0.0.1]", true},
		{"unspecified", "http://0.0.0.0", true},
		{"reserved", "http://240.0.0.1", true},
		{"broadcast", "http://255.255.255.255", true},
		{"multicast", "http://224.0.0.1", true},
		{"resolves to private", "https://rebind.example", true},
		{"resolves to nothing", "https://empty.example", true},
		{"missing host", "http:///path", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(context.Background(), tt.url)
			if tt.blocked {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrBlocked), "expected ErrBlocked, got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateResolveFailure(t *testing.T) {
	v := newTestValidator(Config{})
	err := v.Validate(context.Background(), "https://unknown.example.org")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrBlocked), "DNS failures propagate as network errors")
}

func TestValidateAllowPrivate(t *testing.T) {
	v := newTestValidator(Config{AllowPrivateNetworks: true})
	assert.NoError(t, v.Validate(context.Background(), "http://127.0.0.1:8080"))
	assert.NoError(t, v.CheckIP(netip.MustParseAddr("10.0.0.1")))
	assert.Error(t, v.Validate(context.Background(), "ftp://127.0.0.1"), "scheme is always checked")
}

func TestValidateRecordsMetric(t *testing.T) {
	collector := metrics.NewCollector("test", nil)
	v := NewValidator(Config{}, collector, nil)

	require.Error(t, v.Validate(context.Background(), "http://127.0.0.1"))
	require.Error(t, v.Validate(context.Background(), "ftp://example.com"))

	count, err := testutil.GatherAndCount(collector.Registry(), "test_blocked_urls_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "address and scheme reasons")
}

func TestClientBlocksLoopbackDial(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(NewValidator(Config{}, nil, nil), 5*time.Second)
	_, err := client.Get(server.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBlocked), "dial-time check must reject loopback, got %v", err)

	allowed := NewClient(NewValidator(Config{AllowPrivateNetworks: true}, nil, nil), 5*time.Second)
	resp, err := allowed.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClientValidatesRedirects(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, "http://169.254.169.254/latest/meta-data", http.StatusFound)
	}))
	defer server.Close()

	client := NewClient(NewValidator(Config{AllowPrivateNetworks: false}, nil, nil), 5*time.Second)
	// первый запрос проходит через транспорт с разрешённым loopback, редирект проверяется Validate
	client.Transport = http.DefaultTransport
	_, err := client.Get(server.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBlocked))
	assert.Equal(t, int32(1), hits.Load())
}
