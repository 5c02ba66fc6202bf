package secrets

import (
	"fmt"

	"github.com/mdwit/spec2call/internal/model"
)

// AuthInput открытые учётные данные от пользователя.
// Живёт только до SealAuth и никогда не сохраняется.
type AuthInput struct {
	Type model.AuthType `json:"type"`

	// api_key
	In   model.Location `json:"in,omitempty"`
	Name string         `json:"name,omitempty"`
	Key  string         `json:"key,omitempty"`

	// bearer
	Prefix string `json:"prefix,omitempty"`
	Token  string `json:"token,omitempty"`

	// basic
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// oauth2
	Flow             string   `json:"flow,omitempty"`
	TokenURL         string   `json:"token_url,omitempty"`
	AuthorizationURL string   `json:"authorization_url,omitempty"`
	ClientID         string   `json:"client_id,omitempty"`
	ClientSecret     string   `json:"client_secret,omitempty"`
	Scopes           []string `json:"scopes,omitempty"`

	// VaultRefs значения секретов трактуются как имена во внешнем хранилище
	VaultRefs bool `json:"vault_refs,omitempty"`
}

// WithDefaults дополняет несекретные поля из текущей конфигурации.
// Так смена ключа не требует повторять место и имя параметра, найденные при разборе.
func (in AuthInput) WithDefaults(current model.AuthConfig) AuthInput {
	if in.Type == "" {
		in.Type = current.Type()
	}
	if in.Type != current.Type() {
		return in
	}
	switch v := current.Variant().(type) {
	case model.APIKeyAuth:
		in.In = first(in.In, v.In)
		in.Name = first(in.Name, v.Name)
	case model.BearerAuth:
		in.Prefix = first(in.Prefix, v.Prefix)
	case model.OAuth2Auth:
		in.Flow = first(in.Flow, v.Flow)
		in.TokenURL = first(in.TokenURL, v.TokenURL)
		in.AuthorizationURL = first(in.AuthorizationURL, v.AuthorizationURL)
		if len(in.Scopes) == 0 {
			in.Scopes = v.Scopes
		}
	}
	return in
}

func first[T ~string](a, b T) T {
	if a != "" {
		return a
	}
	return b
}

// SealAuth превращает открытые данные в AuthConfig, где каждый секрет зашифрован ключом тенанта
func (c *Cipher) SealAuth(t Tenant, in AuthInput) (model.AuthConfig, error) {
	seal := func(field, value string) (model.SecretRef, error) {
		if value == "" {
			return model.SecretRef{}, fmt.Errorf("%w: %s", ErrEmptySecret, field)
		}
		if in.VaultRefs {
			return model.SecretRef{VaultName: value}, nil
		}
		ref, err := c.EncryptString(t, value)
		if err != nil {
			return model.SecretRef{}, fmt.Errorf("failed to encrypt %s: %w", field, err)
		}
		return ref, nil
	}

	switch in.Type {
	case model.AuthNone, "":
		return model.NewAuthConfig(model.NoAuth{}), nil

	case model.AuthAPIKey:
		if in.Name == "" {
			return model.AuthConfig{}, fmt.Errorf("api key parameter name is required")
		}
		loc := in.In
		if loc == "" {
			loc = model.LocationHeader
		}
		switch loc {
		case model.LocationHeader, model.LocationQuery, model.LocationCookie:
		default:
			return model.AuthConfig{}, fmt.Errorf("api key location %q is not supported", loc)
		}
		key, err := seal("key", in.Key)
		if err != nil {
			return model.AuthConfig{}, err
		}
		return model.NewAuthConfig(model.APIKeyAuth{In: loc, Name: in.Name, Key: key}), nil

	case model.AuthBearer:
		token, err := seal("token", in.Token)
		if err != nil {
			return model.AuthConfig{}, err
		}
		return model.NewAuthConfig(model.BearerAuth{Prefix: in.Prefix, Token: token}), nil

	case model.AuthBasic:
		username, err := seal("username", in.Username)
		if err != nil {
			return model.AuthConfig{}, err
		}
		password, err := seal("password", in.Password)
		if err != nil {
			return model.AuthConfig{}, err
		}
		return model.NewAuthConfig(model.BasicAuth{Username: username, Password: password}), nil

	case model.AuthOAuth2:
		if in.TokenURL == "" {
			return model.AuthConfig{}, fmt.Errorf("oauth2 token URL is required")
		}
		flow := in.Flow
		if flow == "" {
			flow = model.FlowClientCredentials
		}
		clientID, err := seal("client_id", in.ClientID)
		if err != nil {
			return model.AuthConfig{}, err
		}
		clientSecret, err := seal("client_secret", in.ClientSecret)
		if err != nil {
			return model.AuthConfig{}, err
		}
		return model.NewAuthConfig(model.OAuth2Auth{
			Flow:             flow,
			TokenURL:         in.TokenURL,
			AuthorizationURL: in.AuthorizationURL,
			ClientID:         clientID,
			ClientSecret:     clientSecret,
			Scopes:           in.Scopes,
		}), nil
	}
	return model.AuthConfig{}, fmt.Errorf("unknown auth type %q", in.Type)
}
