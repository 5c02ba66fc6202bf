package auth

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mdwit/spec2call/internal/metrics"
	"github.com/mdwit/spec2call/internal/model"
)

const (
	DefaultExpiryBuffer  = 60 * time.Second
	DefaultTokenLifetime = time.Hour
)

// CacheConfig параметры обновления токенов
type CacheConfig struct {
	// ExpiryBuffer токен обновляется, когда до истечения осталось меньше
	ExpiryBuffer time.Duration
	// DefaultLifetime срок жизни токена без expires_in
	DefaultLifetime time.Duration
}

// TokenCache OAuth2 стратегии по ключу token URL | отпечаток client id | тенант.
// Мьютекс карты держится только на время поиска и вставки.
type TokenCache struct {
	client  *http.Client
	guard   URLValidator
	config  CacheConfig
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*OAuth2Strategy
}

// NewTokenCache создаёт кэш. client используется для запросов к token endpoint.
func NewTokenCache(client *http.Client, guard URLValidator, config CacheConfig, collector *metrics.Collector, logger *zap.Logger) *TokenCache {
	if config.ExpiryBuffer <= 0 {
		config.ExpiryBuffer = DefaultExpiryBuffer
	}
	if config.DefaultLifetime <= 0 {
		config.DefaultLifetime = DefaultTokenLifetime
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenCache{
		client:  client,
		guard:   guard,
		config:  config,
		metrics: collector,
		logger:  logger.With(zap.String("component", "oauth2")),
		now:     time.Now,
		entries: make(map[string]*OAuth2Strategy),
	}
}

// WithClock подменяет часы (тесты)
func (c *TokenCache) WithClock(now func() time.Time) *TokenCache {
	c.now = now
	return c
}

// CacheKey ключ стратегии; секреты в ключ не попадают
func CacheKey(cfg model.OAuth2Auth, tenantID string) string {
	return cfg.TokenURL + "|" + cfg.ClientID.Fingerprint() + "|" + tenantID
}

// Get возвращает закэшированную стратегию или создаёт новую
func (c *TokenCache) Get(cfg model.OAuth2Auth, resolver SecretResolver, tenantID string) *OAuth2Strategy {
	key := CacheKey(cfg, tenantID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.entries[key]; ok {
		return s
	}
	s := &OAuth2Strategy{
		cfg:      cfg,
		tenantID: tenantID,
		resolver: resolver,
		client:   c.client,
		guard:    c.guard,
		buffer:   c.config.ExpiryBuffer,
		lifetime: c.config.DefaultLifetime,
		now:      c.now,
		metrics:  c.metrics,
		logger:   c.logger,
		refresh:  make(chan struct{}, 1),
	}
	c.entries[key] = s
	return s
}

// Invalidate удаляет стратегию конфигурации; вызывается при смене учётных данных
func (c *TokenCache) Invalidate(cfg model.OAuth2Auth, tenantID string) bool {
	key := CacheKey(cfg, tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// InvalidateTenant удаляет все стратегии тенанта, возвращает количество
func (c *TokenCache) InvalidateTenant(tenantID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, s := range c.entries {
		if s.tenantID == tenantID {
			delete(c.entries, key)
			n++
		}
	}
	if n > 0 {
		c.logger.Debug("tenant tokens invalidated", zap.String("tenant", tenantID), zap.Int("count", n))
	}
	return n
}

// Len количество закэшированных стратегий
func (c *TokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
