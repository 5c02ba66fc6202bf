package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// AuthType дискриминатор варианта аутентификации на проводе
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthAPIKey AuthType = "api_key"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthOAuth2 AuthType = "oauth2"
)

// OAuth2 flows
const (
	FlowClientCredentials = "client_credentials"
	FlowAuthorizationCode = "authorization_code"
)

// AuthVariant закрытое множество вариантов конфигурации аутентификации.
// Реализуется только типами этого пакета.
type AuthVariant interface {
	AuthType() AuthType
	sealed()
}

// NoAuth запросы без аутентификации
type NoAuth struct{}

// APIKeyAuth ключ в заголовке, query или cookie
type APIKeyAuth struct {
	In   Location  `json:"in"`
	Name string    `json:"name"`
	Key  SecretRef `json:"key"`
}

// BearerAuth токен в заголовке Authorization
type BearerAuth struct {
	Prefix string    `json:"prefix,omitempty"`
	Token  SecretRef `json:"token"`
}

// BasicAuth HTTP Basic
type BasicAuth struct {
	Username SecretRef `json:"username"`
	Password SecretRef `json:"password"`
}

// OAuth2Auth client credentials / authorization code
type OAuth2Auth struct {
	Flow             string    `json:"flow"`
	TokenURL         string    `json:"token_url"`
	AuthorizationURL string    `json:"authorization_url,omitempty"`
	ClientID         SecretRef `json:"client_id"`
	ClientSecret     SecretRef `json:"client_secret"`
	Scopes           []string  `json:"scopes,omitempty"`
}

func (NoAuth) AuthType() AuthType     { return AuthNone }
func (APIKeyAuth) AuthType() AuthType { return AuthAPIKey }
func (BearerAuth) AuthType() AuthType { return AuthBearer }
func (BasicAuth) AuthType() AuthType  { return AuthBasic }
func (OAuth2Auth) AuthType() AuthType { return AuthOAuth2 }

func (NoAuth) sealed()     {}
func (APIKeyAuth) sealed() {}
func (BearerAuth) sealed() {}
func (BasicAuth) sealed()  {}
func (OAuth2Auth) sealed() {}

// AuthConfig ровно один активный вариант на регистрацию.
// Нулевое значение эквивалентно NoAuth.
type AuthConfig struct {
	variant AuthVariant
}

// NewAuthConfig оборачивает вариант
func NewAuthConfig(v AuthVariant) AuthConfig {
	return AuthConfig{variant: v}
}

// Variant возвращает активный вариант
func (c AuthConfig) Variant() AuthVariant {
	if c.variant == nil {
		return NoAuth{}
	}
	return c.variant
}

// Type тег активного варианта
func (c AuthConfig) Type() AuthType {
	return c.Variant().AuthType()
}

// Secrets перечисляет все ссылки на секреты варианта
func (c AuthConfig) Secrets() []SecretRef {
	switch v := c.Variant().(type) {
	case APIKeyAuth:
		return []SecretRef{v.Key}
	case BearerAuth:
		return []SecretRef{v.Token}
	case BasicAuth:
		return []SecretRef{v.Username, v.Password}
	case OAuth2Auth:
		return []SecretRef{v.ClientID, v.ClientSecret}
	}
	return nil
}

// Validate проверяет ссылки на секреты
func (c AuthConfig) Validate() error {
	var errs []error
	for _, ref := range c.Secrets() {
		if err := ref.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MarshalJSON пишет плоский объект с полем "type"
func (c AuthConfig) MarshalJSON() ([]byte, error) {
	v := c.Variant()
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(v.AuthType())
	fields["type"] = tag
	return json.Marshal(fields)
}

// UnmarshalJSON выбирает вариант по "type".
// Отсутствующий тег означает NoAuth (старые данные без дискриминатора).
func (c *AuthConfig) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		c.variant = NoAuth{}
		return nil
	}
	var probe struct {
		Type AuthType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("decode auth config: %w", err)
	}

	var err error
	switch probe.Type {
	case "", AuthNone:
		c.variant = NoAuth{}
	case AuthAPIKey:
		var v APIKeyAuth
		err = json.Unmarshal(data, &v)
		c.variant = v
	case AuthBearer:
		var v BearerAuth
		err = json.Unmarshal(data, &v)
		c.variant = v
	case AuthBasic:
		var v BasicAuth
		err = json.Unmarshal(data, &v)
		c.variant = v
	case AuthOAuth2:
		var v OAuth2Auth
		err = json.Unmarshal(data, &v)
		c.variant = v
	default:
		return fmt.Errorf("unknown auth type %q", probe.Type)
	}
	if err != nil {
		return fmt.Errorf("decode %s auth config: %w", probe.Type, err)
	}
	return nil
}

// EncryptedValue результат аутентифицированного шифрования
type EncryptedValue struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	Tag        []byte `json:"tag"`
}

// SecretRef либо зашифрованное значение, либо имя во внешнем хранилище.
// Никогда не содержит открытый текст.
type SecretRef struct {
	Encrypted *EncryptedValue `json:"encrypted,omitempty"`
	VaultName string          `json:"vault_name,omitempty"`
}

// IsZero секрет не задан
func (r SecretRef) IsZero() bool {
	return r.Encrypted == nil && r.VaultName == ""
}

// Validate обе ветки одновременно недопустимы
func (r SecretRef) Validate() error {
	if r.Encrypted != nil && r.VaultName != "" {
		return errors.New("secret reference holds both an encrypted value and a vault name")
	}
	return nil
}

// Fingerprint стабильный идентификатор секрета без раскрытия значения
func (r SecretRef) Fingerprint() string {
	switch {
	case r.Encrypted != nil:
		buf := make([]byte, 0, len(r.Encrypted.Ciphertext)+len(r.Encrypted.IV))
		buf = append(buf, r.Encrypted.Ciphertext...)
		buf = append(buf, r.Encrypted.IV...)
		return hashHex(buf, 16)
	case r.VaultName != "":
		return hashHex([]byte("vault:"+r.VaultName), 16)
	}
	return ""
}
