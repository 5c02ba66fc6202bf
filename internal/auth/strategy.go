// Package auth применяет сохранённую конфигурацию аутентификации к исходящим запросам.
//
// Стратегии API key, bearer и basic не хранят состояния и разрешают секреты
// перед каждым вызовом. OAuth2 стратегия держит токен и переиспользуется через TokenCache.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mdwit/spec2call/internal/model"
)

// ErrUnsupportedAuth конфигурацию нельзя применить; вызов не выполняется
var ErrUnsupportedAuth = errors.New("unsupported auth configuration")

// Strategy применяет учётные данные к запросу
type Strategy interface {
	Apply(ctx context.Context, req *http.Request) error
}

// SecretResolver раскрывает ссылку на секрет в контексте одного тенанта
type SecretResolver interface {
	Resolve(ctx context.Context, ref model.SecretRef) (string, error)
}

// URLValidator проверка адреса token endpoint
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) error
}

type noneStrategy struct{}

func (noneStrategy) Apply(context.Context, *http.Request) error { return nil }

type apiKeyStrategy struct {
	cfg      model.APIKeyAuth
	resolver SecretResolver
}

func (s *apiKeyStrategy) Apply(ctx context.Context, req *http.Request) error {
	key, err := resolve(ctx, s.resolver, s.cfg.Key, "api key")
	if err != nil {
		return err
	}
	switch s.cfg.In {
	case model.LocationHeader, "":
		req.Header.Set(s.cfg.Name, key)
	case model.LocationQuery:
		q := req.URL.Query()
		q.Set(s.cfg.Name, key)
		req.URL.RawQuery = q.Encode()
	case model.LocationCookie:
		req.AddCookie(&http.Cookie{Name: s.cfg.Name, Value: key})
	default:
		return fmt.Errorf("%w: api key location %q", ErrUnsupportedAuth, s.cfg.In)
	}
	return nil
}

type bearerStrategy struct {
	cfg      model.BearerAuth
	resolver SecretResolver
}

func (s *bearerStrategy) Apply(ctx context.Context, req *http.Request) error {
	token, err := resolve(ctx, s.resolver, s.cfg.Token, "bearer token")
	if err != nil {
		return err
	}
	prefix := s.cfg.Prefix
	if prefix == "" {
		prefix = "Bearer"
	}
	req.Header.Set("Authorization", prefix+" "+token)
	return nil
}

type basicStrategy struct {
	cfg      model.BasicAuth
	resolver SecretResolver
}

func (s *basicStrategy) Apply(ctx context.Context, req *http.Request) error {
	username, err := resolve(ctx, s.resolver, s.cfg.Username, "basic username")
	if err != nil {
		return err
	}
	password, err := resolve(ctx, s.resolver, s.cfg.Password, "basic password")
	if err != nil {
		return err
	}
	req.SetBasicAuth(username, password)
	return nil
}

// resolve пустая ссылка тоже ошибка: запрос без учётных данных не уходит
func resolve(ctx context.Context, resolver SecretResolver, ref model.SecretRef, what string) (string, error) {
	if ref.IsZero() {
		return "", fmt.Errorf("%w: %s is not configured", ErrUnsupportedAuth, what)
	}
	if resolver == nil {
		return "", fmt.Errorf("%w: no secret resolver for %s", ErrUnsupportedAuth, what)
	}
	value, err := resolver.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", what, err)
	}
	return value, nil
}
