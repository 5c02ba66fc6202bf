package auth

import (
	"fmt"

	"github.com/mdwit/spec2call/internal/model"
)

// Factory выбирает стратегию по варианту конфигурации
type Factory struct {
	tokens *TokenCache
}

// NewFactory создаёт фабрику; OAuth2 стратегии берутся из tokens
func NewFactory(tokens *TokenCache) *Factory {
	return &Factory{tokens: tokens}
}

// Strategy возвращает стратегию для конфигурации. resolver уже привязан к тенанту tenantID.
func (f *Factory) Strategy(cfg model.AuthConfig, resolver SecretResolver, tenantID string) (Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAuth, err)
	}

	switch v := cfg.Variant().(type) {
	case model.NoAuth:
		return noneStrategy{}, nil
	case model.APIKeyAuth:
		if v.Name == "" {
			return nil, fmt.Errorf("%w: api key parameter name is empty", ErrUnsupportedAuth)
		}
		return &apiKeyStrategy{cfg: v, resolver: resolver}, nil
	case model.BearerAuth:
		return &bearerStrategy{cfg: v, resolver: resolver}, nil
	case model.BasicAuth:
		return &basicStrategy{cfg: v, resolver: resolver}, nil
	case model.OAuth2Auth:
		if v.Flow != model.FlowClientCredentials && v.Flow != "" {
			return nil, fmt.Errorf("%w: oauth2 flow %q requires interactive login", ErrUnsupportedAuth, v.Flow)
		}
		if v.TokenURL == "" {
			return nil, fmt.Errorf("%w: oauth2 token URL is empty", ErrUnsupportedAuth)
		}
		if f.tokens == nil {
			return nil, fmt.Errorf("%w: oauth2 token cache is not configured", ErrUnsupportedAuth)
		}
		return f.tokens.Get(v, resolver, tenantID), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedAuth, cfg.Type())
}
