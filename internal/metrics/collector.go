// Package metrics собирает метрики движка на собственном registry Prometheus.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector сборщик метрик. Все методы допускают nil-получатель.
type Collector struct {
	registry *prometheus.Registry

	ingestionsTotal     *prometheus.CounterVec
	ingestionDuration   *prometheus.HistogramVec
	invocationsTotal    *prometheus.CounterVec
	invocationDuration  *prometheus.HistogramVec
	tokenRefreshesTotal *prometheus.CounterVec
	blockedURLsTotal    *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector создаёт сборщик с namespace
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.ingestionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Total number of API description ingestions",
		},
		[]string{"format", "result"},
	)

	c.ingestionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingestion_duration_seconds",
			Help:      "Time spent fetching and parsing API descriptions",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"format"},
	)

	c.invocationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Total number of outbound API invocations",
		},
		[]string{"method", "status"}, // status: 2xx, 4xx, 5xx, error
	)

	c.invocationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Outbound API invocation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	c.tokenRefreshesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_token_refreshes_total",
			Help:      "Total number of OAuth2 token refresh network calls",
		},
		[]string{"result"},
	)

	c.blockedURLsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocked_urls_total",
			Help:      "Total number of URLs rejected by the network guard",
		},
		[]string{"reason"},
	)

	return c
}

// Registry registry, на котором зарегистрированы метрики
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordIngestion записывает результат разбора описания API
func (c *Collector) RecordIngestion(format string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	if format == "" {
		format = "unknown"
	}
	c.ingestionsTotal.WithLabelValues(format, result(err)).Inc()
	c.ingestionDuration.WithLabelValues(format).Observe(duration.Seconds())
}

// RecordInvocation записывает исходящий вызов; status 0 означает сетевую ошибку
func (c *Collector) RecordInvocation(method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.invocationsTotal.WithLabelValues(method, statusClass(status)).Inc()
	c.invocationDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordTokenRefresh записывает обращение к token endpoint
func (c *Collector) RecordTokenRefresh(err error) {
	if c == nil {
		return
	}
	c.tokenRefreshesTotal.WithLabelValues(result(err)).Inc()
}

// RecordBlockedURL записывает URL, отклонённый проверкой SSRF
func (c *Collector) RecordBlockedURL(reason string) {
	if c == nil {
		return
	}
	c.blockedURLsTotal.WithLabelValues(reason).Inc()
}

// WriteToTextfile выгружает метрики в формате text exposition
func (c *Collector) WriteToTextfile(path string) error {
	if c == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	c.logger.Debug("metrics written", zap.String("path", path))
	return nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
