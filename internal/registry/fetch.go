package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mdwit/spec2call/internal/model"
	"github.com/mdwit/spec2call/internal/parser"
)

// DefaultMaxDocumentSize предел размера загружаемого описания
const DefaultMaxDocumentSize = 32 << 20

// DiscoveryPaths пути, по которым обычно публикуют OpenAPI документ
var DiscoveryPaths = []string{
	"/openapi.json",
	"/openapi.yaml",
	"/swagger.json",
	"/v3/api-docs",
	"/swagger/v1/swagger.json",
	"/api-docs",
	"/.well-known/openapi.json",
}

// URLValidator SSRF-проверка адреса перед загрузкой
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) error
}

// Fetcher загружает описания API по адресам от пользователя
type Fetcher struct {
	client   *http.Client
	guard    URLValidator
	maxBytes int64
	logger   *zap.Logger
}

// NewFetcher создаёт загрузчик; guard nil отключает проверку
func NewFetcher(client *http.Client, guard URLValidator, maxBytes int64, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:   client,
		guard:    guard,
		maxBytes: maxBytes,
		logger:   logger.With(zap.String("component", "fetcher")),
	}
}

func (f *Fetcher) validate(ctx context.Context, rawURL string) error {
	if f.guard == nil {
		return nil
	}
	return f.guard.Validate(ctx, rawURL)
}

// Fetch GET документа; не-2xx возвращается как *FetchError, повторов нет
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.validate(ctx, rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("fetch %s: document exceeds %d bytes", rawURL, f.maxBytes)
	}
	f.logger.Debug("document fetched", zap.String("url", rawURL), zap.Int("bytes", len(data)))
	return data, nil
}

// Introspect выполняет introspection запрос к живому GraphQL endpoint
func (f *Fetcher) Introspect(ctx context.Context, endpointURL string, opts *parser.ParseOptions) (*model.Registration, error) {
	if err := f.validate(ctx, endpointURL); err != nil {
		return nil, err
	}
	return parser.Introspect(ctx, f.client, endpointURL, opts)
}

// Discover перебирает DiscoveryPaths и возвращает первый документ OpenAPI/Swagger
func (f *Fetcher) Discover(ctx context.Context, baseURL string) (string, []byte, error) {
	if err := f.validate(ctx, baseURL); err != nil {
		return "", nil, err
	}
	base := strings.TrimSuffix(baseURL, "/")

	var errs []error
	for _, path := range DiscoveryPaths {
		candidate := base + path
		data, err := f.Fetch(ctx, candidate)
		if err != nil {
			if ctx.Err() != nil {
				return "", nil, ctx.Err()
			}
			errs = append(errs, err)
			continue
		}
		if parser.IsOpenAPI(data) {
			f.logger.Info("api description discovered", zap.String("url", candidate))
			return candidate, data, nil
		}
		errs = append(errs, fmt.Errorf("%s: not an OpenAPI document", candidate))
	}
	return "", nil, fmt.Errorf("%w at %s: %w", ErrNoSpecFound, baseURL, errors.Join(errs...))
}
