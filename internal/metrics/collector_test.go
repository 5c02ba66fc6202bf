package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCollector_RecordInvocation(t *testing.T) {
	c := NewCollector("test", zap.NewNop())

	c.RecordInvocation("GET", 200, 10*time.Millisecond)
	c.RecordInvocation("GET", 204, 10*time.Millisecond)
	c.RecordInvocation("POST", 503, 10*time.Millisecond)
	c.RecordInvocation("POST", 0, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.invocationsTotal.WithLabelValues("GET", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.invocationsTotal.WithLabelValues("POST", "5xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.invocationsTotal.WithLabelValues("POST", "error")))
}

func TestCollector_RecordIngestionAndRefresh(t *testing.T) {
	c := NewCollector("test", nil)

	c.RecordIngestion("openapi3", time.Second, nil)
	c.RecordIngestion("", time.Second, errors.New("boom"))
	c.RecordTokenRefresh(nil)
	c.RecordBlockedURL("private address")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.ingestionsTotal.WithLabelValues("openapi3", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ingestionsTotal.WithLabelValues("unknown", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tokenRefreshesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.blockedURLsTotal.WithLabelValues("private address")))
}

func TestCollector_SeparateRegistries(t *testing.T) {
	// одинаковый namespace не вызывает паники при повторной регистрации
	a := NewCollector("same", nil)
	b := NewCollector("same", nil)
	a.RecordTokenRefresh(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.tokenRefreshesTotal.WithLabelValues("success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.tokenRefreshesTotal.WithLabelValues("success")))
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.RecordInvocation("GET", 200, time.Second)
	c.RecordIngestion("openapi3", time.Second, nil)
	c.RecordTokenRefresh(nil)
	c.RecordBlockedURL("x")
	assert.Nil(t, c.Registry())
	assert.NoError(t, c.WriteToTextfile("unused"))
}

func TestCollector_WriteToTextfile(t *testing.T) {
	c := NewCollector("spec2call", nil)
	c.RecordInvocation("GET", 200, time.Millisecond)

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, c.WriteToTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "spec2call_invocations_total"))
}
