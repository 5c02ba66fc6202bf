// Package config загружает настройки spec2call: значения по умолчанию,
// затем файл (yaml или json), затем переменные окружения SPEC2CALL_*, затем флаги.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix префикс переменных окружения; "__" разделяет уровни:
// SPEC2CALL_OAUTH__EXPIRY_BUFFER -> oauth.expiry_buffer
const EnvPrefix = "SPEC2CALL_"

var (
	ErrStoreDirRequired = errors.New("store.dir is required")
	ErrOwnerRequired    = errors.New("owner is required")
	ErrInvalidLogLevel  = errors.New("invalid log.level")
	ErrInvalidLogFormat = errors.New("invalid log.format")
	ErrInvalidGroupBy   = errors.New("invalid catalog.group_by")
	ErrInvalidLimit     = errors.New("invalid limit")
	ErrUnsupportedFile  = errors.New("unsupported config file extension")
)

type Config struct {
	// Owner тенант по умолчанию для команд CLI
	Owner   string        `koanf:"owner"`
	Log     LogConfig     `koanf:"log"`
	HTTP    HTTPConfig    `koanf:"http"`
	Guard   GuardConfig   `koanf:"guard"`
	Parser  ParserConfig  `koanf:"parser"`
	OAuth   OAuthConfig   `koanf:"oauth"`
	Invoke  InvokeConfig  `koanf:"invoke"`
	Secrets SecretsConfig `koanf:"secrets"`
	Vault   VaultConfig   `koanf:"vault"`
	Store   StoreConfig   `koanf:"store"`
	Metrics MetricsConfig `koanf:"metrics"`
	Catalog CatalogConfig `koanf:"catalog"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, console
}

type HTTPConfig struct {
	Timeout         time.Duration `koanf:"timeout"`
	MaxDocumentSize int64         `koanf:"max_document_size"`
}

type GuardConfig struct {
	// AllowPrivateNetworks только для локальной разработки
	AllowPrivateNetworks bool `koanf:"allow_private_networks"`
}

type ParserConfig struct {
	SkipValidation     bool `koanf:"skip_validation"`
	MaxSchemaDepth     int  `koanf:"max_schema_depth"`
	RefreshConcurrency int  `koanf:"refresh_concurrency"`
}

type OAuthConfig struct {
	ExpiryBuffer    time.Duration `koanf:"expiry_buffer"`
	DefaultLifetime time.Duration `koanf:"default_lifetime"`
}

type InvokeConfig struct {
	RatePerHost      float64 `koanf:"rate_per_host"` // 0 без ограничения
	Burst            int     `koanf:"burst"`
	MaxResponseBytes int64   `koanf:"max_response_bytes"`
	UserAgent        string  `koanf:"user_agent"`
}

type SecretsConfig struct {
	// MasterKey base64, не меньше 32 байт; обычно приходит из SPEC2CALL_SECRETS__MASTER_KEY
	MasterKey string `koanf:"master_key"`
}

// VaultConfig пустой Addr отключает внешнее хранилище секретов
type VaultConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

type StoreConfig struct {
	Dir string `koanf:"dir"`
}

type MetricsConfig struct {
	Namespace string `koanf:"namespace"`
	// File путь для выгрузки метрик в textfile формате после команды
	File string `koanf:"file"`
}

// CatalogConfig настройки генерации llms.txt
type CatalogConfig struct {
	Output      string `koanf:"output"`
	DocsBaseURL string `koanf:"docs_base_url"` // базовый URL для ссылок на документацию (llms.txt)
	Title       string `koanf:"title"`
	GroupBy     string `koanf:"group_by"` // tag, path
}

func defaults() map[string]any {
	return map[string]any{
		"owner":                        "default",
		"log.level":                    "info",
		"log.format":                   "console",
		"http.timeout":                 "30s",
		"http.max_document_size":       32 << 20,
		"guard.allow_private_networks": false,
		"parser.skip_validation":       false,
		"parser.max_schema_depth":      0,
		"parser.refresh_concurrency":   4,
		"oauth.expiry_buffer":          "60s",
		"oauth.default_lifetime":       "1h",
		"invoke.rate_per_host":         0,
		"invoke.burst":                 1,
		"invoke.max_response_bytes":    10 << 20,
		"invoke.user_agent":            "spec2call",
		"vault.db":                     0,
		"store.dir":                    defaultStoreDir(),
		"metrics.namespace":            "spec2call",
		"catalog.output":               "./llms",
		"catalog.group_by":             "tag",
	}
}

func defaultStoreDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "spec2call")
	}
	return ".spec2call"
}

// DefaultConfig конфигурация без файла и окружения
func DefaultConfig() *Config {
	k := koanf.New(".")
	_ = k.Load(confmap.Provider(defaults(), "."), nil)
	var cfg Config
	_ = k.Unmarshal("", &cfg)
	return &cfg
}

// Load собирает конфигурацию. path может быть пустым.
// overrides применяются последними (флаги CLI), ключи в нотации "section.key".
func Load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to apply overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func (c *Config) Validate() error {
	var errs []error
	if c.Store.Dir == "" {
		errs = append(errs, ErrStoreDirRequired)
	}
	if c.Owner == "" {
		errs = append(errs, ErrOwnerRequired)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Log.Format))
	}
	switch c.Catalog.GroupBy {
	case "tag", "path":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidGroupBy, c.Catalog.GroupBy))
	}
	if c.Invoke.RatePerHost < 0 || c.Invoke.Burst < 0 {
		errs = append(errs, fmt.Errorf("%w: invoke rate and burst must not be negative", ErrInvalidLimit))
	}
	if c.HTTP.Timeout < 0 || c.OAuth.ExpiryBuffer < 0 || c.OAuth.DefaultLifetime < 0 {
		errs = append(errs, fmt.Errorf("%w: durations must not be negative", ErrInvalidLimit))
	}
	return errors.Join(errs...)
}
