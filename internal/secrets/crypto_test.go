package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/mdwit/spec2call/internal/model"
)

var testMasterKey = bytes.Repeat([]byte{0x42}, MinMasterKeyLength)

func newTestCipher(t testing.TB) *Cipher {
	c, err := New(testMasterKey)
	require.NoError(t, err)
	return c
}

func TestEncryptDecryptIdentity(t *testing.T) {
	c := newTestCipher(t)
	rapid.Check(t, func(t *rapid.T) {
		tenant := Tenant{
			ID:   rapid.StringN(1, 40, -1).Draw(t, "id"),
			Salt: rapid.SliceOfN(rapid.Byte(), 1, 32).Draw(t, "salt"),
		}
		plaintext := rapid.SliceOfN(rapid.Byte(), 1, 512).Draw(t, "plaintext")

		enc, err := c.Encrypt(tenant, plaintext)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		if len(enc.IV) != 12 || len(enc.Tag) != 16 || len(enc.Ciphertext) != len(plaintext) {
			t.Fatalf("unexpected sizes: iv=%d tag=%d ct=%d", len(enc.IV), len(enc.Tag), len(enc.Ciphertext))
		}
		got, err := c.Decrypt(tenant, enc)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round trip mismatch")
		}
	})
}

func TestDecryptFailsClosed(t *testing.T) {
	c := newTestCipher(t)
	tenant := Tenant{ID: "tenant-1", Salt: []byte("salt-1")}
	enc, err := c.Encrypt(tenant, []byte("client-secret"))
	require.NoError(t, err)

	flip := func(b []byte) []byte {
		out := append([]byte(nil), b...)
		out[0] ^= 0x01
		return out
	}

	tests := []struct {
		name   string
		tenant Tenant
		value  *model.EncryptedValue
	}{
		{"other salt", Tenant{ID: "tenant-1", Salt: []byte("salt-2")}, enc},
		{"other tenant", Tenant{ID: "tenant-2", Salt: []byte("salt-1")}, enc},
		{"tampered ciphertext", tenant, &model.EncryptedValue{Ciphertext: flip(enc.Ciphertext), IV: enc.IV, Tag: enc.Tag}},
		{"tampered tag", tenant, &model.EncryptedValue{Ciphertext: enc.Ciphertext, IV: enc.IV, Tag: flip(enc.Tag)}},
		{"tampered nonce", tenant, &model.EncryptedValue{Ciphertext: enc.Ciphertext, IV: flip(enc.IV), Tag: enc.Tag}},
		{"short tag", tenant, &model.EncryptedValue{Ciphertext: enc.Ciphertext, IV: enc.IV, Tag: enc.Tag[:8]}},
		{"nil value", tenant, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decrypt(tt.tenant, tt.value)
			assert.ErrorIs(t, err, ErrDecrypt)
			assert.Nil(t, got, "no partial plaintext")
		})
	}

	other, err := New(bytes.Repeat([]byte{0x43}, MinMasterKeyLength))
	require.NoError(t, err)
	_, err = other.Decrypt(tenant, enc)
	assert.ErrorIs(t, err, ErrDecrypt, "other master key")
}

func TestEncryptionIsRandomized(t *testing.T) {
	c := newTestCipher(t)
	tenant := Tenant{ID: "t", Salt: []byte("s")}
	a, err := c.Encrypt(tenant, []byte("same"))
	require.NoError(t, err)
	b, err := c.Encrypt(tenant, []byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestCipherInputErrors(t *testing.T) {
	_, err := New(make([]byte, 16))
	assert.ErrorIs(t, err, ErrMasterKey)

	c := newTestCipher(t)
	_, err = c.Encrypt(Tenant{Salt: []byte("s")}, []byte("x"))
	assert.ErrorIs(t, err, ErrTenantRequired)
	_, err = c.Encrypt(Tenant{ID: "t"}, []byte("x"))
	assert.ErrorIs(t, err, ErrTenantRequired)
	_, err = c.Encrypt(Tenant{ID: "t", Salt: []byte("s")}, nil)
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestMasterKeyEncoding(t *testing.T) {
	encoded, err := GenerateMasterKey()
	require.NoError(t, err)
	key, err := ParseMasterKey(encoded + "\n")
	require.NoError(t, err)
	assert.Len(t, key, MinMasterKeyLength)

	_, err = ParseMasterKey("not base64!")
	assert.True(t, errors.Is(err, ErrMasterKey))
	_, err = ParseMasterKey(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.True(t, errors.Is(err, ErrMasterKey))

	salt, err := NewSalt()
	require.NoError(t, err)
	assert.Len(t, salt, SaltLength)
}
