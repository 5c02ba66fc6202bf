package parser

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mdwit/spec2call/internal/model"
)

// ParseOptions опции парсинга
type ParseOptions struct {
	// SourceURL откуда получен документ; нужен для относительных server URL
	SourceURL string
	// BaseURL переопределяет базовый URL из документа
	BaseURL string
	// Name переопределяет название API
	Name           string
	SkipValidation bool
	MaxSchemaDepth int
	Logger         *zap.Logger
}

func (o *ParseOptions) withDefaults() *ParseOptions {
	out := ParseOptions{}
	if o != nil {
		out = *o
	}
	if out.MaxSchemaDepth <= 0 {
		out.MaxSchemaDepth = DefaultMaxSchemaDepth
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return &out
}

// Parse определяет формат документа и вызывает соответствующий парсер.
// format можно не указывать (FormatUnknown), тогда формат определяется по содержимому.
func Parse(ctx context.Context, data []byte, format model.SpecFormat, opts *ParseOptions) (*model.Registration, error) {
	if format == model.FormatUnknown {
		format = Detect(data)
	}

	switch format {
	case model.FormatOpenAPI3, model.FormatSwagger2:
		return ParseOpenAPI(ctx, data, opts)
	case model.FormatGraphQL:
		return ParseIntrospection(data, opts)
	case model.FormatGraphQLSchema:
		return ParseGraphQLSchema(data, opts)
	case model.FormatCollection:
		return ParseCollection(data, opts)
	}
	return nil, parseErr(model.FormatUnknown, nil, "unrecognized document format")
}

// ParseFile парсит описание API из локального файла (JSON, YAML или GraphQL SDL)
func ParseFile(ctx context.Context, path string, opts *ParseOptions) (*model.Registration, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json", ".yaml", ".yml", ".graphql", ".graphqls", ".gql":
	default:
		return nil, fmt.Errorf("unsupported file format: %s (expected .json, .yaml, .yml or .graphql)", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	format := model.FormatUnknown
	if ext == ".graphql" || ext == ".graphqls" || ext == ".gql" {
		format = model.FormatGraphQLSchema
	}
	return Parse(ctx, data, format, opts)
}

func newRegistration(name, baseURL string, format model.SpecFormat, opts *ParseOptions) *model.Registration {
	if opts.Name != "" {
		name = opts.Name
	}
	if strings.TrimSpace(name) == "" {
		name = hostName(baseURL)
	}
	return &model.Registration{
		ID:        model.DeriveID(name, baseURL),
		Name:      name,
		BaseURL:   baseURL,
		SourceURL: opts.SourceURL,
		Format:    format,
		Auth:      model.NewAuthConfig(model.NoAuth{}),
		Enabled:   true,
	}
}

// finalize проставляет id эндпоинтов и сортирует их
func finalize(reg *model.Registration) *model.Registration {
	sort.SliceStable(reg.Endpoints, func(i, j int) bool {
		a, b := reg.Endpoints[i], reg.Endpoints[j]
		if a.Path == b.Path {
			return methodOrder(a.Method) < methodOrder(b.Method)
		}
		return a.Path < b.Path
	})
	model.EnsureUniqueOperationIDs(reg.Endpoints)
	return reg
}

func methodOrder(method string) int {
	order := map[string]int{"GET": 1, "POST": 2, "PUT": 3, "PATCH": 4, "DELETE": 5}
	if o, ok := order[method]; ok {
		return o
	}
	return 99
}

// originOf возвращает scheme://host для абсолютного http(s) URL
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func hostName(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return "api"
}

func isAbsoluteHTTP(raw string) bool {
	return originOf(raw) != ""
}
