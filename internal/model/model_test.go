package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthConfigJSON(t *testing.T) {
	t.Run("writes the discriminator for every variant", func(t *testing.T) {
		cfg := NewAuthConfig(APIKeyAuth{
			In:   LocationHeader,
			Name: "X-API-Key",
			Key:  SecretRef{VaultName: "petstore-key"},
		})
		data, err := json.Marshal(cfg)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"type":"api_key"`)
		assert.Contains(t, string(data), `"vault_name":"petstore-key"`)

		var decoded AuthConfig
		require.NoError(t, json.Unmarshal(data, &decoded))
		v, ok := decoded.Variant().(APIKeyAuth)
		require.True(t, ok)
		assert.Equal(t, "X-API-Key", v.Name)
		assert.Equal(t, LocationHeader, v.In)
	})

	t.Run("zero value is none and still tagged", func(t *testing.T) {
		data, err := json.Marshal(AuthConfig{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"none"}`, string(data))
	})

	t.Run("legacy untagged data decodes to none", func(t *testing.T) {
		var cfg AuthConfig
		require.NoError(t, json.Unmarshal([]byte(`{"prefix":"Bearer"}`), &cfg))
		assert.Equal(t, AuthNone, cfg.Type())

		var reg Registration
		require.NoError(t, json.Unmarshal([]byte(`{"id":"x","endpoints":[]}`), &reg))
		assert.Equal(t, AuthNone, reg.Auth.Type())
	})

	t.Run("unknown discriminator fails", func(t *testing.T) {
		var cfg AuthConfig
		err := json.Unmarshal([]byte(`{"type":"kerberos"}`), &cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "kerberos")
	})

	t.Run("oauth2 round trip keeps scopes and flow", func(t *testing.T) {
		cfg := NewAuthConfig(OAuth2Auth{
			Flow:     FlowClientCredentials,
			TokenURL: "https://auth.example.com/token",
			ClientID: SecretRef{Encrypted: &EncryptedValue{Ciphertext: []byte{1, 2}, IV: []byte{3}, Tag: []byte{4}}},
			Scopes:   []string{"read", "write"},
		})
		data, err := json.Marshal(cfg)
		require.NoError(t, err)

		var decoded AuthConfig
		require.NoError(t, json.Unmarshal(data, &decoded))
		v := decoded.Variant().(OAuth2Auth)
		assert.Equal(t, []string{"read", "write"}, v.Scopes)
		assert.Equal(t, []byte{1, 2}, v.ClientID.Encrypted.Ciphertext)
	})
}

func TestSecretRefValidate(t *testing.T) {
	both := SecretRef{VaultName: "x", Encrypted: &EncryptedValue{}}
	assert.Error(t, both.Validate())
	assert.NoError(t, SecretRef{VaultName: "x"}.Validate())
	assert.True(t, SecretRef{}.IsZero())

	cfg := NewAuthConfig(BasicAuth{Username: both})
	assert.Error(t, cfg.Validate())
}

func TestSlug(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Pet Store", "pet-store"},
		{"Swagger Petstore - OpenAPI 3.0", "swagger-petstore-open-api-3-0"},
		{"  ", "api"},
		{"users_api", "users-api"},
	}

	for _, tt := range tests {
		result := Slug(tt.input)
		if result != tt.expected {
			t.Errorf("Slug(%q) = %q, expected %q", tt.input, result, tt.expected)
		}
	}
}

func TestDeriveID(t *testing.T) {
	a := DeriveID("Pet Store", "https://a.example.com")
	b := DeriveID("Pet Store", "https://b.example.com")

	assert.True(t, strings.HasPrefix(a, "pet-store-"))
	assert.Len(t, strings.TrimPrefix(a, "pet-store-"), 8)
	assert.NotEqual(t, a, b, "same title on different hosts must not collide")
	assert.Equal(t, a, DeriveID("Pet Store", "https://a.example.com"))
}

func TestEnsureUniqueOperationIDs(t *testing.T) {
	endpoints := []Endpoint{
		{Method: "GET", Path: "/users/{id}"},
		{Method: "GET", Path: "/users", OperationID: "listUsers"},
		{Method: "POST", Path: "/users", OperationID: "listUsers"},
	}
	EnsureUniqueOperationIDs(endpoints)

	assert.Equal(t, "get_users_id", endpoints[0].OperationID)
	assert.Equal(t, "listUsers", endpoints[1].OperationID)
	assert.Equal(t, "listUsers_2", endpoints[2].OperationID)
	assert.NotEqual(t, endpoints[1].ID, endpoints[2].ID)
	for _, ep := range endpoints {
		assert.NotEmpty(t, ep.ID)
	}
}

func TestCarryForward(t *testing.T) {
	prev := &Registration{
		ID:      "pets-1234abcd",
		OwnerID: "owner-1",
		Enabled: true,
		Auth:    NewAuthConfig(BearerAuth{Token: SecretRef{VaultName: "tok"}}),
		Endpoints: []Endpoint{
			{OperationID: "listPets", Enabled: false},
			{OperationID: "getPet", Enabled: true},
		},
	}
	next := &Registration{
		ID: "renamed-ffffffff",
		Endpoints: []Endpoint{
			{OperationID: "listPets", Enabled: true},
			{OperationID: "createPet", Enabled: true},
		},
	}

	CarryForward(prev, next)

	assert.Equal(t, "pets-1234abcd", next.ID)
	assert.Equal(t, "owner-1", next.OwnerID)
	assert.Equal(t, AuthBearer, next.Auth.Type())
	assert.False(t, next.Endpoints[0].Enabled, "disabled state carried by operation id")
	assert.True(t, next.Endpoints[1].Enabled)
}

func TestRequestBodyJSONContent(t *testing.T) {
	rb := &RequestBody{Content: map[string]MediaType{
		"text/plain":               {},
		"application/vnd.api+json": {Schema: ObjectSchema()},
	}}
	ct, mt, ok := rb.JSONContent()
	require.True(t, ok)
	assert.Equal(t, "application/vnd.api+json", ct)
	assert.NotNil(t, mt.Schema)

	var empty *RequestBody
	_, _, ok = empty.JSONContent()
	assert.False(t, ok)
}
