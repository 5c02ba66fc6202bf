package secrets

import (
	"context"
	"fmt"

	"github.com/mdwit/spec2call/internal/model"
)

// Resolver раскрывает SecretRef в контексте одного тенанта.
// Зашифрованная ветка требует тенанта, именованная требует Vault.
type Resolver struct {
	cipher *Cipher
	vault  Vault
	tenant *Tenant
}

// NewResolver создаёт resolver; любой аргумент может быть nil, тогда соответствующая ветка недоступна
func NewResolver(cipher *Cipher, vault Vault, tenant *Tenant) *Resolver {
	return &Resolver{cipher: cipher, vault: vault, tenant: tenant}
}

// Resolve возвращает открытое значение секрета
func (r *Resolver) Resolve(ctx context.Context, ref model.SecretRef) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	switch {
	case ref.Encrypted != nil:
		if r.tenant == nil {
			return "", ErrTenantRequired
		}
		if r.cipher == nil {
			return "", fmt.Errorf("%w: no master key configured", ErrDecrypt)
		}
		plaintext, err := r.cipher.Decrypt(*r.tenant, ref.Encrypted)
		if err != nil {
			return "", err
		}
		return string(plaintext), nil
	case ref.VaultName != "":
		if r.vault == nil {
			return "", ErrVaultUnavailable
		}
		return r.vault.Get(ctx, ref.VaultName)
	}
	return "", ErrEmptySecret
}
