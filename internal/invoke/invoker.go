package invoke

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mdwit/spec2call/internal/metrics"
)

// Authenticator применяет учётные данные к исходящему запросу
type Authenticator interface {
	Apply(ctx context.Context, req *http.Request) error
}

// URLValidator проверка URL перед отправкой (SSRF)
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) error
}

// Config настройки исполнителя вызовов
type Config struct {
	// RatePerHost запросов в секунду на хост; 0 отключает ограничение
	RatePerHost      float64
	Burst            int
	MaxResponseBytes int64
	UserAgent        string
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		RatePerHost:      0,
		Burst:            1,
		MaxResponseBytes: 10 << 20,
		UserAgent:        "spec2call",
	}
}

// Response ответ вызываемого API. Не-2xx статусы не считаются ошибкой.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Truncated  bool
	Duration   time.Duration
}

// Invoker выполняет синтезированные запросы
type Invoker struct {
	client  *http.Client
	guard   URLValidator
	config  Config
	metrics *metrics.Collector
	logger  *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewInvoker создаёт исполнитель; guard, collector и logger могут быть nil
func NewInvoker(client *http.Client, guard URLValidator, config Config, collector *metrics.Collector, logger *zap.Logger) *Invoker {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	return &Invoker{
		client:   client,
		guard:    guard,
		config:   config,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "invoker")),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Do отправляет запрос. Ошибка аутентификации прерывает вызов:
// запрос без учётных данных не отправляется.
func (i *Invoker) Do(ctx context.Context, req *Request, auth Authenticator) (*Response, error) {
	if i.guard != nil {
		if err := i.guard.Validate(ctx, req.URL.String()); err != nil {
			return nil, err
		}
	}

	if limiter := i.limiter(req.URL.Host); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	httpReq, err := req.NewHTTPRequest(ctx)
	if err != nil {
		return nil, err
	}
	if i.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", i.config.UserAgent)
	}
	if auth != nil {
		if err := auth.Apply(ctx, httpReq); err != nil {
			return nil, fmt.Errorf("failed to apply auth: %w", err)
		}
	}

	start := time.Now()
	resp, err := i.client.Do(httpReq)
	if err != nil {
		i.metrics.RecordInvocation(req.Method, 0, time.Since(start))
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	limit := i.config.MaxResponseBytes
	if limit <= 0 {
		limit = DefaultConfig().MaxResponseBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	duration := time.Since(start)
	i.metrics.RecordInvocation(req.Method, resp.StatusCode, duration)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Duration:   duration,
	}
	if int64(len(body)) > limit {
		out.Body = body[:limit]
		out.Truncated = true
	}

	i.logger.Debug("invocation finished",
		zap.String("method", req.Method),
		zap.String("host", req.URL.Host),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration),
	)
	return out, nil
}

func (i *Invoker) limiter(host string) *rate.Limiter {
	if i.config.RatePerHost <= 0 {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	l, ok := i.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(i.config.RatePerHost), i.config.Burst)
		i.limiters[host] = l
	}
	return l
}
