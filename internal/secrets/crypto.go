// Package secrets шифрует учётные данные ключами, производными от мастер-ключа для каждого тенанта.
//
// Ключ тенанта = HKDF-SHA256(мастер-ключ, соль тенанта, "spec2call/tenant:" + id).
// Шифрование AES-256-GCM, nonce 96 бит, тег 128 бит, id тенанта идёт в additional data.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/mdwit/spec2call/internal/model"
)

const (
	// MinMasterKeyLength минимальная длина мастер-ключа в байтах
	MinMasterKeyLength = 32
	// SaltLength длина соли, которую выдаёт NewSalt
	SaltLength = 16

	keyLength = 32
	nonceSize = 12
	tagSize   = 16
	infoLabel = "spec2call/tenant:"
)

var (
	ErrDecrypt          = errors.New("failed to decrypt secret")
	ErrTenantRequired   = errors.New("tenant context is required for encrypted secrets")
	ErrVaultUnavailable = errors.New("secret vault is not configured")
	ErrEmptySecret      = errors.New("secret value is empty")
	ErrMasterKey        = errors.New("invalid master key")
)

// Tenant идентичность и соль, от которых зависит ключ
type Tenant struct {
	ID   string
	Salt []byte
}

func (t Tenant) validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: empty tenant id", ErrTenantRequired)
	}
	if len(t.Salt) == 0 {
		return fmt.Errorf("%w: empty salt for tenant %s", ErrTenantRequired, t.ID)
	}
	return nil
}

// NewSalt случайная соль для нового тенанта
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// GenerateMasterKey новый мастер-ключ в base64
func GenerateMasterKey() (string, error) {
	key := make([]byte, MinMasterKeyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate master key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// ParseMasterKey декодирует мастер-ключ из base64
func ParseMasterKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMasterKey, err)
	}
	if len(key) < MinMasterKeyLength {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMasterKey, len(key), MinMasterKeyLength)
	}
	return key, nil
}

// Cipher шифрует и расшифровывает секреты тенантов. Безопасен для конкурентного использования.
type Cipher struct {
	master []byte
}

// New создаёт Cipher; мастер-ключ не короче MinMasterKeyLength
func New(masterKey []byte) (*Cipher, error) {
	if len(masterKey) < MinMasterKeyLength {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMasterKey, len(masterKey), MinMasterKeyLength)
	}
	master := make([]byte, len(masterKey))
	copy(master, masterKey)
	return &Cipher{master: master}, nil
}

func (c *Cipher) aead(t Tenant) (cipher.AEAD, error) {
	key := make([]byte, keyLength)
	kdf := hkdf.New(sha256.New, c.master, t.Salt, []byte(infoLabel+t.ID))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive tenant key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt шифрует plaintext ключом тенанта со свежим nonce
func (c *Cipher) Encrypt(t Tenant, plaintext []byte) (*model.EncryptedValue, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	if len(plaintext) == 0 {
		return nil, ErrEmptySecret
	}
	gcm, err := c.aead(t)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, []byte(t.ID))
	split := len(sealed) - tagSize
	return &model.EncryptedValue{
		Ciphertext: sealed[:split],
		IV:         nonce,
		Tag:        sealed[split:],
	}, nil
}

// Decrypt расшифровывает значение. Любое несовпадение (тег, соль, тенант) даёт ErrDecrypt.
func (c *Cipher) Decrypt(t Tenant, v *model.EncryptedValue) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: no encrypted value", ErrDecrypt)
	}
	if len(v.IV) != nonceSize || len(v.Tag) != tagSize {
		return nil, fmt.Errorf("%w: malformed nonce or tag", ErrDecrypt)
	}
	gcm, err := c.aead(t)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(v.Ciphertext)+len(v.Tag))
	sealed = append(sealed, v.Ciphertext...)
	sealed = append(sealed, v.Tag...)
	plaintext, err := gcm.Open(nil, v.IV, sealed, []byte(t.ID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

// EncryptString удобная обёртка для строковых секретов
func (c *Cipher) EncryptString(t Tenant, plaintext string) (model.SecretRef, error) {
	v, err := c.Encrypt(t, []byte(plaintext))
	if err != nil {
		return model.SecretRef{}, err
	}
	return model.SecretRef{Encrypted: v}, nil
}
