package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSecretNotFound имени нет во внешнем хранилище
var ErrSecretNotFound = errors.New("secret not found in vault")

// Vault внешнее хранилище секретов по имени
type Vault interface {
	Get(ctx context.Context, name string) (string, error)
	Set(ctx context.Context, name, value string) error
	Delete(ctx context.Context, name string) error
}

// RedisConfig подключение к Redis
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisVault Vault поверх Redis
type RedisVault struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisVault подключается к Redis и проверяет соединение
func NewRedisVault(ctx context.Context, config RedisConfig) (*RedisVault, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "spec2call:"
	}
	return &RedisVault{client: client, keyPrefix: prefix + "secret:"}, nil
}

func (v *RedisVault) key(name string) string {
	return v.keyPrefix + name
}

func (v *RedisVault) Get(ctx context.Context, name string) (string, error) {
	value, err := v.client.Get(ctx, v.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read secret %s: %w", name, err)
	}
	return value, nil
}

func (v *RedisVault) Set(ctx context.Context, name, value string) error {
	if value == "" {
		return ErrEmptySecret
	}
	if err := v.client.Set(ctx, v.key(name), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write secret %s: %w", name, err)
	}
	return nil
}

func (v *RedisVault) Delete(ctx context.Context, name string) error {
	if err := v.client.Del(ctx, v.key(name)).Err(); err != nil {
		return fmt.Errorf("failed to delete secret %s: %w", name, err)
	}
	return nil
}

// Close закрывает соединение
func (v *RedisVault) Close() error {
	return v.client.Close()
}

// MemoryVault Vault в памяти процесса
type MemoryVault struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{values: make(map[string]string)}
}

func (v *MemoryVault) Get(_ context.Context, name string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	value, ok := v.values[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value, nil
}

func (v *MemoryVault) Set(_ context.Context, name, value string) error {
	if value == "" {
		return ErrEmptySecret
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values[name] = value
	return nil
}

func (v *MemoryVault) Delete(_ context.Context, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.values, name)
	return nil
}
