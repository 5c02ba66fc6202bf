package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"go.uber.org/zap"
	yamlv3 "gopkg.in/yaml.v3"
	"sigs.k8s.io/yaml"

	"github.com/mdwit/spec2call/internal/model"
)

// templateSegment переменная шаблона пути; /users/{id} и /users/{name} совпадают после замены
var templateSegment = regexp.MustCompile(`\{[^/{}]*\}`)

// ParseOpenAPI парсит OpenAPI 3.x или Swagger 2.0 документ (JSON или YAML)
func ParseOpenAPI(ctx context.Context, data []byte, opts *ParseOptions) (*model.Registration, error) {
	opts = opts.withDefaults()

	format := model.FormatOpenAPI3
	if Detect(data) == model.FormatSwagger2 {
		format = model.FormatSwagger2
	}

	var doc *openapi3.T
	var err error
	if format == model.FormatSwagger2 {
		doc, err = loadSwagger2(data)
	} else {
		doc, err = loadOpenAPI3(ctx, data)
	}
	if err != nil {
		return nil, parseErr(format, err, "failed to load document")
	}

	if doc.Paths == nil || doc.Paths.Len() == 0 {
		return nil, parseErr(format, nil, "document has no paths")
	}

	if !opts.SkipValidation {
		if err := validateDocument(ctx, doc, opts.Logger); err != nil {
			return nil, parseErr(format, err, "invalid document")
		}
	}

	baseURL, err := resolveBaseURL(doc.Servers, opts)
	if err != nil {
		return nil, parseErr(format, err, "missing base URL")
	}

	auth, err := extractAuth(data, doc, format)
	if err != nil {
		return nil, err
	}

	info := doc.Info
	if info == nil {
		info = &openapi3.Info{}
	}
	reg := newRegistration(info.Title, baseURL, format, opts)
	reg.Description = info.Description
	reg.Version = info.Version
	reg.Auth = auth

	// Конвертируем эндпоинты
	for path, pathItem := range doc.Paths.Map() {
		if pathItem == nil {
			continue
		}
		for method, op := range pathItem.Operations() {
			if op == nil {
				continue
			}
			reg.Endpoints = append(reg.Endpoints, convertOperation(path, method, pathItem, op, opts.MaxSchemaDepth))
		}
	}

	return finalize(reg), nil
}

func loadOpenAPI3(ctx context.Context, data []byte) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	// внешние $ref не загружаются: такие запросы обошли бы проверку URL
	loader.IsExternalRefsAllowed = false
	return loader.LoadFromData(data)
}

func loadSwagger2(data []byte) (*openapi3.T, error) {
	js, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	var doc2 openapi2.T
	if err := json.Unmarshal(js, &doc2); err != nil {
		return nil, fmt.Errorf("failed to decode swagger document: %w", err)
	}
	doc, err := openapi2conv.ToV3(&doc2)
	if err != nil {
		return nil, fmt.Errorf("failed to convert swagger 2.0 to openapi 3: %w", err)
	}
	return doc, nil
}

// validateDocument проверяет документ целиком. Валидатор останавливается на первом
// конфликте путей, поэтому конфликтующие пути откладываются и проверяются по одному.
func validateDocument(ctx context.Context, doc *openapi3.T, logger *zap.Logger) error {
	opts := []openapi3.ValidationOption{openapi3.DisableExamplesValidation()}

	primary, conflicting := splitConflictingPaths(doc.Paths)
	if len(conflicting) == 0 {
		return doc.Validate(ctx, opts...)
	}

	names := make([]string, 0, len(conflicting))
	for path := range conflicting {
		names = append(names, path)
	}
	sort.Strings(names)
	logger.Warn("document has conflicting paths", zap.Strings("paths", names))

	checked := *doc
	checked.Paths = primary
	if err := checked.Validate(ctx, opts...); err != nil {
		return err
	}
	for _, path := range names {
		single := openapi3.NewPaths(openapi3.WithPath(path, conflicting[path]))
		if err := single.Validate(ctx, opts...); err != nil {
			return fmt.Errorf("invalid paths: %w", err)
		}
	}
	return nil
}

// splitConflictingPaths оставляет первый в порядке сортировки путь каждого шаблона,
// остальные пути того же шаблона возвращаются отдельно
func splitConflictingPaths(paths *openapi3.Paths) (*openapi3.Paths, map[string]*openapi3.PathItem) {
	all := paths.Map()
	keys := make([]string, 0, len(all))
	for path := range all {
		keys = append(keys, path)
	}
	sort.Strings(keys)

	primary := openapi3.NewPathsWithCapacity(len(all))
	primary.Extensions = paths.Extensions
	seen := make(map[string]struct{}, len(all))
	var conflicting map[string]*openapi3.PathItem
	for _, path := range keys {
		normalized := templateSegment.ReplaceAllString(path, "{}")
		if _, ok := seen[normalized]; ok {
			if conflicting == nil {
				conflicting = make(map[string]*openapi3.PathItem)
			}
			conflicting[path] = all[path]
			continue
		}
		seen[normalized] = struct{}{}
		primary.Set(path, all[path])
	}
	return primary, conflicting
}

// resolveBaseURL первый server с подставленными значениями переменных по умолчанию
func resolveBaseURL(servers openapi3.Servers, opts *ParseOptions) (string, error) {
	if opts.BaseURL != "" {
		return strings.TrimSuffix(opts.BaseURL, "/"), nil
	}

	raw := ""
	if len(servers) > 0 && servers[0] != nil {
		raw = expandServerURL(servers[0])
	}

	if isAbsoluteHTTP(raw) {
		return strings.TrimSuffix(raw, "/"), nil
	}

	source, err := url.Parse(opts.SourceURL)
	if opts.SourceURL == "" || err != nil || !isAbsoluteHTTP(opts.SourceURL) {
		if raw == "" {
			return "", fmt.Errorf("document declares no servers and no source URL is known")
		}
		return "", fmt.Errorf("relative server URL %q without a source URL", raw)
	}

	if raw == "" {
		return originOf(opts.SourceURL), nil
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", raw, err)
	}
	return strings.TrimSuffix(source.ResolveReference(ref).String(), "/"), nil
}

func expandServerURL(server *openapi3.Server) string {
	out := server.URL
	for name, v := range server.Variables {
		if v == nil {
			continue
		}
		out = strings.ReplaceAll(out, "{"+name+"}", v.Default)
	}
	return out
}

// extractAuth первая объявленная схема безопасности, отображённая на вариант AuthConfig
func extractAuth(data []byte, doc *openapi3.T, format model.SpecFormat) (model.AuthConfig, error) {
	none := model.NewAuthConfig(model.NoAuth{})
	if doc.Components == nil || len(doc.Components.SecuritySchemes) == 0 {
		return none, nil
	}
	schemes := doc.Components.SecuritySchemes

	section := []string{"components", "securitySchemes"}
	if format == model.FormatSwagger2 {
		section = []string{"securityDefinitions"}
	}
	var scheme *openapi3.SecurityScheme
	for _, name := range declaredKeys(data, section...) {
		if ref, ok := schemes[name]; ok && ref != nil && ref.Value != nil {
			scheme = ref.Value
			break
		}
	}
	if scheme == nil {
		// порядок не удалось прочитать, берём первое имя по алфавиту
		names := make([]string, 0, len(schemes))
		for name, ref := range schemes {
			if ref != nil && ref.Value != nil {
				names = append(names, name)
			}
		}
		if len(names) == 0 {
			return none, nil
		}
		sort.Strings(names)
		scheme = schemes[names[0]].Value
	}

	switch strings.ToLower(scheme.Type) {
	case "apikey":
		return model.NewAuthConfig(model.APIKeyAuth{In: model.Location(scheme.In), Name: scheme.Name}), nil
	case "http":
		switch strings.ToLower(scheme.Scheme) {
		case "bearer":
			return model.NewAuthConfig(model.BearerAuth{Prefix: "Bearer"}), nil
		case "basic":
			return model.NewAuthConfig(model.BasicAuth{}), nil
		}
	case "oauth2":
		return oauth2Auth(scheme.Flows, format)
	}
	return none, nil
}

func oauth2Auth(flows *openapi3.OAuthFlows, format model.SpecFormat) (model.AuthConfig, error) {
	if flows != nil && flows.ClientCredentials != nil {
		return model.NewAuthConfig(model.OAuth2Auth{
			Flow:     model.FlowClientCredentials,
			TokenURL: flows.ClientCredentials.TokenURL,
			Scopes:   scopeNames(flows.ClientCredentials.Scopes),
		}), nil
	}
	if flows != nil && flows.AuthorizationCode != nil {
		return model.NewAuthConfig(model.OAuth2Auth{
			Flow:             model.FlowAuthorizationCode,
			TokenURL:         flows.AuthorizationCode.TokenURL,
			AuthorizationURL: flows.AuthorizationCode.AuthorizationURL,
			Scopes:           scopeNames(flows.AuthorizationCode.Scopes),
		}), nil
	}
	return model.AuthConfig{}, parseErr(format, nil, "missing OAuth2 flow (clientCredentials or authorizationCode)")
}

func scopeNames(scopes map[string]string) []string {
	if len(scopes) == 0 {
		return nil
	}
	names := make([]string, 0, len(scopes))
	for name := range scopes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// declaredKeys ключи объекта по пути в порядке их объявления в документе
func declaredKeys(data []byte, path ...string) []string {
	var root yamlv3.Node
	if err := yamlv3.Unmarshal(data, &root); err != nil {
		return nil
	}
	node := &root
	if node.Kind == yamlv3.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	for _, key := range path {
		node = mappingValue(node, key)
		if node == nil {
			return nil
		}
	}
	if node.Kind != yamlv3.MappingNode {
		return nil
	}
	keys := make([]string, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keys = append(keys, node.Content[i].Value)
	}
	return keys
}

func mappingValue(node *yamlv3.Node, key string) *yamlv3.Node {
	if node == nil || node.Kind != yamlv3.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func convertOperation(path, method string, item *openapi3.PathItem, op *openapi3.Operation, maxDepth int) model.Endpoint {
	endpoint := model.Endpoint{
		OperationID: op.OperationID,
		Method:      strings.ToUpper(method),
		Path:        path,
		Summary:     op.Summary,
		Description: op.Description,
		Tags:        op.Tags,
		Deprecated:  op.Deprecated,
		Enabled:     true,
		Responses:   make(map[string]model.Response),
	}

	// Параметры пути и операции; параметр операции заменяет одноимённый параметр пути
	for _, p := range mergeParameters(item.Parameters, op.Parameters) {
		endpoint.Parameters = append(endpoint.Parameters, convertParameter(p, maxDepth))
	}

	// Конвертируем тело запроса
	if op.RequestBody != nil && op.RequestBody.Value != nil {
		rb := op.RequestBody.Value
		endpoint.RequestBody = &model.RequestBody{
			Description: rb.Description,
			Required:    rb.Required,
			Content:     convertContent(rb.Content, maxDepth),
		}
	}

	// Конвертируем ответы
	if op.Responses != nil {
		for code, responseRef := range op.Responses.Map() {
			if responseRef == nil || responseRef.Value == nil {
				continue
			}
			resp := model.Response{Content: convertContent(responseRef.Value.Content, maxDepth)}
			if responseRef.Value.Description != nil {
				resp.Description = *responseRef.Value.Description
			}
			endpoint.Responses[code] = resp
		}
	}

	return endpoint
}

func mergeParameters(pathParams, opParams openapi3.Parameters) []*openapi3.Parameter {
	var merged []*openapi3.Parameter
	index := make(map[string]int)
	add := func(params openapi3.Parameters) {
		for _, ref := range params {
			if ref == nil || ref.Value == nil {
				continue
			}
			key := ref.Value.In + "\x00" + ref.Value.Name
			if i, ok := index[key]; ok {
				merged[i] = ref.Value
				continue
			}
			index[key] = len(merged)
			merged = append(merged, ref.Value)
		}
	}
	add(pathParams)
	add(opParams)
	return merged
}

func convertParameter(p *openapi3.Parameter, maxDepth int) model.Parameter {
	param := model.Parameter{
		Name:        p.Name,
		In:          model.Location(p.In),
		Description: p.Description,
		Required:    p.Required || p.In == openapi3.ParameterInPath,
		Example:     p.Example,
	}

	schemaRef := p.Schema
	if schemaRef == nil {
		// параметр может описывать схему через content
		for _, mt := range p.Content {
			if mt != nil && mt.Schema != nil {
				schemaRef = mt.Schema
				break
			}
		}
	}
	if schemaRef != nil {
		param.Schema = NormalizeSchema(schemaRef, maxDepth)
		param.Default = param.Schema.Default
		if param.Example == nil {
			param.Example = param.Schema.Example
		}
	}
	return param
}

func convertContent(content openapi3.Content, maxDepth int) map[string]model.MediaType {
	if len(content) == 0 {
		return nil
	}
	out := make(map[string]model.MediaType, len(content))
	for contentType, mediaType := range content {
		if mediaType == nil {
			continue
		}
		mt := model.MediaType{Example: mediaType.Example}
		if mediaType.Schema != nil {
			mt.Schema = NormalizeSchema(mediaType.Schema, maxDepth)
		}
		out[contentType] = mt
	}
	return out
}
