package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mdwit/spec2call/internal/metrics"
	"github.com/mdwit/spec2call/internal/model"
)

// OAuth2Strategy client credentials стратегия с собственным токеном.
// Токен обновляется только когда его нет или до истечения осталось меньше буфера.
type OAuth2Strategy struct {
	cfg      model.OAuth2Auth
	tenantID string
	resolver SecretResolver
	client   *http.Client
	guard    URLValidator
	buffer   time.Duration
	lifetime time.Duration
	now      func() time.Time
	metrics  *metrics.Collector
	logger   *zap.Logger

	mu     sync.RWMutex
	token  string
	expiry time.Time

	// refresh критическая секция обновления; канал, чтобы ожидание уважало ctx
	refresh chan struct{}
}

// Apply ставит Authorization: Bearer <access token>
func (s *OAuth2Strategy) Apply(ctx context.Context, req *http.Request) error {
	token, err := s.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Token возвращает действующий access token, при необходимости обновляя его
func (s *OAuth2Strategy) Token(ctx context.Context) (string, error) {
	if token, ok := s.current(); ok {
		return token, nil
	}

	select {
	case s.refresh <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-s.refresh }()

	// другой вызов мог обновить токен, пока мы ждали
	if token, ok := s.current(); ok {
		return token, nil
	}
	return s.fetch(ctx)
}

// Expiry момент истечения текущего токена
func (s *OAuth2Strategy) Expiry() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiry
}

func (s *OAuth2Strategy) current() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" || !s.now().Before(s.expiry.Add(-s.buffer)) {
		return "", false
	}
	return s.token, true
}

func (s *OAuth2Strategy) fetch(ctx context.Context) (string, error) {
	clientID, err := resolve(ctx, s.resolver, s.cfg.ClientID, "oauth2 client id")
	if err != nil {
		return "", err
	}
	clientSecret, err := resolve(ctx, s.resolver, s.cfg.ClientSecret, "oauth2 client secret")
	if err != nil {
		return "", err
	}
	if s.guard != nil {
		if err := s.guard.Validate(ctx, s.cfg.TokenURL); err != nil {
			return "", err
		}
	}

	conf := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     s.cfg.TokenURL,
		Scopes:       s.cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if s.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	}

	issued, wall := s.now(), time.Now()
	tok, err := conf.Token(ctx)
	s.metrics.RecordTokenRefresh(err)
	if err != nil {
		s.logger.Warn("token refresh failed",
			zap.String("token_url", s.cfg.TokenURL),
			zap.String("tenant", s.tenantID),
			zap.Error(err),
		)
		return "", fmt.Errorf("oauth2 token request: %w", err)
	}

	// x/oauth2 отсчитывает Expiry по настенным часам, срок жизни переносится на часы стратегии
	expiry := issued.Add(s.lifetime)
	if !tok.Expiry.IsZero() {
		expiry = issued.Add(tok.Expiry.Sub(wall))
	}

	s.mu.Lock()
	s.token = tok.AccessToken
	s.expiry = expiry
	s.mu.Unlock()

	s.logger.Debug("token refreshed",
		zap.String("token_url", s.cfg.TokenURL),
		zap.String("tenant", s.tenantID),
		zap.Time("expiry", expiry),
	)
	return tok.AccessToken, nil
}
