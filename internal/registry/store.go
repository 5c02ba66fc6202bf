package registry

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mdwit/spec2call/internal/model"
	"github.com/mdwit/spec2call/internal/secrets"
)

// Store граница хранения канонической модели.
// Save сравнивает expectedToken с сохранённым ConcurrencyToken и выдаёт новый токен.
type Store interface {
	Get(ctx context.Context, id string) (*model.Registration, error)
	List(ctx context.Context, ownerID string) ([]*model.Registration, error)
	Save(ctx context.Context, reg *model.Registration, expectedToken string) error
	Delete(ctx context.Context, id string) error
}

// TenantProvider соль тенанта для вывода ключа шифрования
type TenantProvider interface {
	Tenant(ctx context.Context, ownerID string) (secrets.Tenant, error)
}

var safeName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// FileStore JSON файл на регистрацию, запись через атомарный rename.
// Соли тенантов хранятся рядом, в tenants/<owner>.salt.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore создаёт каталог хранилища при необходимости
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "tenants"), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) (string, error) {
	if !safeName.MatchString(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("invalid registration id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *FileStore) Get(_ context.Context, id string) (*model.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

func (s *FileStore) load(id string) (*model.Registration, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registration %s: %w", id, err)
	}
	var reg model.Registration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to decode registration %s: %w", id, err)
	}
	return &reg, nil
}

// List регистрации владельца, пустой ownerID означает все
func (s *FileStore) List(_ context.Context, ownerID string) ([]*model.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	var out []*model.Registration
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		reg, err := s.load(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		if ownerID == "" || reg.OwnerID == ownerID {
			out = append(out, reg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FileStore) Save(_ context.Context, reg *model.Registration, expectedToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(reg.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		if expectedToken != "" {
			return err
		}
	case err != nil:
		return err
	case current.ConcurrencyToken != expectedToken:
		return fmt.Errorf("%w: %s", ErrConflict, reg.ID)
	}

	path, err := s.path(reg.ID)
	if err != nil {
		return err
	}
	previous := reg.ConcurrencyToken
	reg.ConcurrencyToken = uuid.NewString()
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		reg.ConcurrencyToken = previous
		return fmt.Errorf("failed to encode registration %s: %w", reg.ID, err)
	}
	if err := writeAtomic(s.dir, path, data); err != nil {
		reg.ConcurrencyToken = previous
		return fmt.Errorf("failed to write registration %s: %w", reg.ID, err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to delete registration %s: %w", id, err)
	}
	return nil
}

// Tenant возвращает соль владельца, создавая её при первом обращении
func (s *FileStore) Tenant(_ context.Context, ownerID string) (secrets.Tenant, error) {
	if !safeName.MatchString(ownerID) || strings.HasPrefix(ownerID, ".") {
		return secrets.Tenant{}, fmt.Errorf("%w: invalid owner id %q", secrets.ErrTenantRequired, ownerID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, "tenants", ownerID+".salt")
	data, err := os.ReadFile(path)
	if err == nil {
		salt, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return secrets.Tenant{}, fmt.Errorf("corrupt salt for tenant %s: %w", ownerID, err)
		}
		return secrets.Tenant{ID: ownerID, Salt: salt}, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return secrets.Tenant{}, fmt.Errorf("failed to read salt for tenant %s: %w", ownerID, err)
	}

	salt, err := secrets.NewSalt()
	if err != nil {
		return secrets.Tenant{}, err
	}
	if err := writeAtomic(filepath.Dir(path), path, []byte(hex.EncodeToString(salt))); err != nil {
		return secrets.Tenant{}, fmt.Errorf("failed to write salt for tenant %s: %w", ownerID, err)
	}
	return secrets.Tenant{ID: ownerID, Salt: salt}, nil
}

func writeAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
