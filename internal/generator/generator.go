// Package generator рендерит каталог регистрации для LLM агентов:
// llms.txt с обзором и endpoints/*.txt с описанием операций.
package generator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mdwit/spec2call/internal/config"
	"github.com/mdwit/spec2call/internal/model"
)

// Generator генерирует llms.txt файлы
type Generator struct {
	cfg config.CatalogConfig
	reg *model.Registration
}

// New создаёт новый генератор
func New(cfg config.CatalogConfig, reg *model.Registration) *Generator {
	return &Generator{cfg: cfg, reg: reg}
}

// Generate генерирует все файлы
func (g *Generator) Generate() error {
	endpointsDir := filepath.Join(g.cfg.Output, "endpoints")
	if err := os.MkdirAll(endpointsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	grouped := g.group()

	for _, key := range sortedKeys(grouped) {
		endpoints := grouped[key]
		path := filepath.Join(endpointsDir, g.filename(key, endpoints))
		content := g.generateEndpointFile(key, endpoints)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}

	indexPath := filepath.Join(g.cfg.Output, "llms.txt")
	if err := os.WriteFile(indexPath, []byte(g.generateIndex(grouped)), 0o644); err != nil {
		return fmt.Errorf("failed to write llms.txt: %w", err)
	}
	return nil
}

// group выключенные операции в каталог не попадают
func (g *Generator) group() map[string][]model.Endpoint {
	grouped := make(map[string][]model.Endpoint)

	for _, ep := range g.reg.Endpoints {
		if !ep.Enabled {
			continue
		}
		if g.cfg.GroupBy == "path" {
			key := getEndpointBasedFilename([]model.Endpoint{ep})
			grouped[key] = append(grouped[key], ep)
			continue
		}
		if len(ep.Tags) == 0 {
			grouped["other"] = append(grouped["other"], ep)
			continue
		}
		for _, tag := range ep.Tags {
			grouped[tag] = append(grouped[tag], ep)
		}
	}

	for key := range grouped {
		eps := grouped[key]
		sort.SliceStable(eps, func(i, j int) bool {
			if eps[i].Path == eps[j].Path {
				return methodOrder(eps[i].Method) < methodOrder(eps[j].Method)
			}
			return eps[i].Path < eps[j].Path
		})
	}
	return grouped
}

func (g *Generator) filename(key string, endpoints []model.Endpoint) string {
	if g.cfg.GroupBy == "path" {
		return getEndpointBasedFilename(endpoints) + ".txt"
	}
	return sanitizeFilename(key) + ".txt"
}

func (g *Generator) link(file string) string {
	if g.cfg.DocsBaseURL != "" {
		return strings.TrimSuffix(g.cfg.DocsBaseURL, "/") + "/endpoints/" + file
	}
	return "./endpoints/" + file
}

func sortedKeys(m map[string][]model.Endpoint) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func methodOrder(method string) int {
	order := map[string]int{"GET": 1, "POST": 2, "PUT": 3, "PATCH": 4, "DELETE": 5}
	if o, ok := order[method]; ok {
		return o
	}
	return 99
}

func (g *Generator) generateIndex(grouped map[string][]model.Endpoint) string {
	var sb strings.Builder

	title := g.cfg.Title
	if title == "" {
		title = g.reg.Name
	}
	sb.WriteString("# " + title + "\n\n")

	if g.reg.Description != "" {
		sb.WriteString("> " + g.reg.Description + "\n\n")
	}

	sb.WriteString("Registration: `" + g.reg.ID + "`\n\n")
	if g.reg.BaseURL != "" {
		sb.WriteString("Base URL: `" + g.reg.BaseURL + "`\n\n")
	}
	if g.reg.Version != "" {
		sb.WriteString("Version: " + g.reg.Version + "\n\n")
	}
	if g.reg.Format != model.FormatUnknown {
		sb.WriteString("Source format: " + string(g.reg.Format) + "\n\n")
	}
	if !g.reg.Enabled {
		sb.WriteString("**Registration is disabled: calls are rejected.**\n\n")
	}

	if g.reg.Auth.Type() != model.AuthNone {
		sb.WriteString("## Authentication\n\n")
		sb.WriteString(formatAuth(g.reg.Auth))
	}

	sb.WriteString("## Endpoints\n\n")
	for _, key := range sortedKeys(grouped) {
		endpoints := grouped[key]
		file := g.filename(key, endpoints)
		sb.WriteString(fmt.Sprintf("### [%s](%s)\n\n", key, g.link(file)))
		for _, ep := range endpoints {
			line := fmt.Sprintf("- `%s` %s %s", ep.OperationID, ep.Method, ep.Path)
			if ep.Summary != "" {
				line += ": " + ep.Summary
			}
			if ep.Deprecated {
				line += " (deprecated)"
			}
			sb.WriteString(line + "\n")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func (g *Generator) generateEndpointFile(key string, endpoints []model.Endpoint) string {
	var sb strings.Builder

	sb.WriteString("# " + key + "\n\n")

	for i, ep := range endpoints {
		if i > 0 {
			sb.WriteString("\n---\n\n")
		}
		sb.WriteString(g.generateEndpoint(ep))
	}

	return sb.String()
}

func (g *Generator) generateEndpoint(ep model.Endpoint) string {
	var sb strings.Builder

	header := fmt.Sprintf("## %s %s", ep.Method, ep.Path)
	if ep.Summary != "" {
		header += " - " + ep.Summary
	}
	if ep.Deprecated {
		header += " ⚠️ DEPRECATED"
	}
	sb.WriteString(header + "\n\n")
	sb.WriteString("Operation: `" + ep.OperationID + "`\n\n")

	if ep.Description != "" {
		sb.WriteString(ep.Description + "\n\n")
	}

	if len(ep.Parameters) > 0 {
		sb.WriteString("### Parameters\n\n")
		sb.WriteString("| Name | In | Type | Required | Description |\n")
		sb.WriteString("|------|-----|------|----------|-------------|\n")

		for _, p := range ep.Parameters {
			required := ""
			if p.Required {
				required = "✓"
			}
			desc := p.Description
			if p.Schema != nil && len(p.Schema.Enum) > 0 {
				desc += " Enum: `" + joinValues(p.Schema.Enum, "`, `") + "`"
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
				p.Name, p.In, paramType(p), required, strings.TrimSpace(desc)))
		}
		sb.WriteString("\n")
	}

	if ep.RequestBody != nil {
		sb.WriteString("### Request Body\n\n")
		if ep.RequestBody.Description != "" {
			sb.WriteString(ep.RequestBody.Description + "\n\n")
		}
		if ep.RequestBody.Required {
			sb.WriteString("Required.\n\n")
		}
		for _, contentType := range sortedContent(ep.RequestBody.Content) {
			media := ep.RequestBody.Content[contentType]
			sb.WriteString("Content-Type: `" + contentType + "`\n\n")
			if media.Schema != nil {
				sb.WriteString(g.generateSchemaDoc(media.Schema, 0))
			}
		}
	}

	if len(ep.Responses) > 0 {
		sb.WriteString("### Responses\n\n")

		codes := make([]string, 0, len(ep.Responses))
		for code := range ep.Responses {
			codes = append(codes, code)
		}
		sort.Strings(codes)

		for _, code := range codes {
			resp := ep.Responses[code]
			sb.WriteString(fmt.Sprintf("**%s** - %s\n\n", code, resp.Description))

			for _, contentType := range sortedContent(resp.Content) {
				media := resp.Content[contentType]
				sb.WriteString("Content-Type: `" + contentType + "`\n\n")
				if media.Schema != nil {
					sb.WriteString(g.generateSchemaDoc(media.Schema, 0))
				}
			}
		}
	}

	sb.WriteString("### Example\n\n")
	sb.WriteString(g.generateCurlExample(ep))
	sb.WriteString(g.generateCallExample(ep))

	return sb.String()
}

func sortedContent(content map[string]model.MediaType) []string {
	types := make([]string, 0, len(content))
	for ct := range content {
		types = append(types, ct)
	}
	sort.Strings(types)
	return types
}

func paramType(p model.Parameter) string {
	if p.Schema == nil || p.Schema.Type == "" {
		return model.TypeString
	}
	if p.Schema.Type == model.TypeArray && p.Schema.Items != nil {
		return "array[" + p.Schema.Items.Type + "]"
	}
	return p.Schema.Type
}

func (g *Generator) generateSchemaDoc(schema *model.Schema, depth int) string {
	if schema == nil || depth > 4 {
		return ""
	}

	var sb strings.Builder

	switch {
	case schema.Type == model.TypeObject && len(schema.Properties) > 0:
		sb.WriteString("```json\n")
		sb.WriteString(g.renderJSONSchema(schema, 0, depth+2))
		sb.WriteString("\n```\n\n")
		sb.WriteString(g.generateFieldsTable(schema, ""))
	case schema.Type == model.TypeArray && schema.Items != nil:
		itemType := schema.Items.Type
		if itemType == "" {
			itemType = model.TypeObject
		}
		sb.WriteString(fmt.Sprintf("Array of `%s`\n\n", itemType))
		if schema.Items.Type == model.TypeObject && len(schema.Items.Properties) > 0 {
			sb.WriteString(g.generateSchemaDoc(schema.Items, depth+1))
		}
	case schema.Description != "":
		// непрозрачная схема: описание объясняет, почему структура не раскрыта
		sb.WriteString(fmt.Sprintf("`%s`: %s\n\n", schema.Type, schema.Description))
	}

	return sb.String()
}

func (g *Generator) renderJSONSchema(schema *model.Schema, indent, maxDepth int) string {
	if schema == nil || indent > maxDepth*2 {
		return ""
	}

	var sb strings.Builder
	prefix := strings.Repeat("  ", indent)

	switch {
	case schema.Type == model.TypeObject && len(schema.Properties) > 0:
		sb.WriteString("{\n")

		props := sortedProps(schema)
		for i, name := range props {
			comma := ","
			if i == len(props)-1 {
				comma = ""
			}
			sb.WriteString(prefix + "  \"" + name + "\": ")
			sb.WriteString(g.renderPropertyValue(schema.Properties[name], indent+1, maxDepth))
			sb.WriteString(comma + "\n")
		}

		sb.WriteString(prefix + "}")
	case schema.Type == model.TypeArray:
		switch {
		case schema.Items != nil && schema.Items.Type == model.TypeObject && len(schema.Items.Properties) > 0:
			sb.WriteString("[\n" + prefix + "  ")
			sb.WriteString(g.renderJSONSchema(schema.Items, indent+1, maxDepth))
			sb.WriteString("\n" + prefix + "]")
		case schema.Items != nil:
			sb.WriteString("[" + typeExample(schema.Items) + "]")
		default:
			sb.WriteString("[]")
		}
	case schema.Type == model.TypeObject:
		sb.WriteString("{}")
	default:
		sb.WriteString(typeExample(schema))
	}

	return sb.String()
}

func sortedProps(schema *model.Schema) []string {
	props := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		props = append(props, name)
	}
	sort.Strings(props)
	return props
}

func (g *Generator) renderPropertyValue(prop *model.Schema, indent, maxDepth int) string {
	if prop == nil {
		return "null"
	}
	if prop.Example != nil {
		return formatExample(prop.Example)
	}

	if prop.Type == model.TypeObject && len(prop.Properties) > 0 && indent < maxDepth*2 {
		return g.renderJSONSchema(prop, indent, maxDepth)
	}

	if prop.Type == model.TypeArray {
		if prop.Items == nil {
			return "[{}]"
		}
		if prop.Items.Type == model.TypeObject && len(prop.Items.Properties) > 0 && indent < maxDepth*2 {
			return g.renderJSONSchema(prop, indent, maxDepth)
		}
		example := typeExample(prop.Items)
		if example == "null" {
			example = "{}"
		}
		return "[" + example + "]"
	}

	return typeExample(prop)
}

func typeExample(schema *model.Schema) string {
	if schema == nil {
		return "null"
	}
	if schema.Example != nil {
		return formatExample(schema.Example)
	}
	if schema.Default != nil {
		return formatExample(schema.Default)
	}
	if len(schema.Enum) > 0 {
		return formatExample(schema.Enum[0])
	}

	switch schema.Type {
	case model.TypeString:
		switch schema.Format {
		case "date-time":
			return "\"2024-01-15T10:00:00Z\""
		case "date":
			return "\"2024-01-15\""
		case "email":
			return "\"user@example.com\""
		case "uri", "url":
			return "\"https://example.com\""
		case "uuid":
			return "\"3fa85f64-5717-4562-b3fc-2c963f66afa6\""
		}
		return "\"string\""
	case model.TypeInteger:
		return "0"
	case model.TypeNumber:
		return "0.0"
	case model.TypeBoolean:
		return "true"
	case model.TypeArray:
		if schema.Items != nil {
			return "[" + typeExample(schema.Items) + "]"
		}
		return "[]"
	case model.TypeObject, "":
		return "{}"
	}
	return "null"
}

// formatExample JSON представление типизированного примера
func formatExample(example any) string {
	data, err := json.Marshal(example)
	if err != nil {
		return fmt.Sprintf("%q", fmt.Sprint(example))
	}
	return string(data)
}

func joinValues(values []any, sep string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, sep)
}

func (g *Generator) generateFieldsTable(schema *model.Schema, prefix string) string {
	if schema == nil || len(schema.Properties) == 0 {
		return ""
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	var sb strings.Builder
	sb.WriteString("| Field | Type | Required | Description |\n")
	sb.WriteString("|-------|------|----------|-------------|\n")

	for _, name := range sortedProps(schema) {
		prop := schema.Properties[name]
		fieldName := name
		if prefix != "" {
			fieldName = prefix + "." + name
		}

		typeStr := prop.Type
		if prop.Format != "" {
			typeStr += " (" + prop.Format + ")"
		}
		if prop.Type == model.TypeArray && prop.Items != nil {
			typeStr = "array[" + prop.Items.Type + "]"
		}
		if prop.Nullable {
			typeStr += ", nullable"
		}

		req := ""
		if required[name] {
			req = "✓"
		}

		desc := prop.Description
		if len(prop.Enum) > 0 {
			desc += " Values: `" + joinValues(prop.Enum, "`, `") + "`"
		}

		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n", fieldName, typeStr, req, strings.TrimSpace(desc)))
	}

	sb.WriteString("\n")
	return sb.String()
}

func sanitizeFilename(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "-")
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, "\\", "-")
	if name == "" || strings.Trim(name, ".") == "" {
		return "other"
	}
	return name
}

// getEndpointBasedFilename имя файла из первых двух статических сегментов пути
func getEndpointBasedFilename(endpoints []model.Endpoint) string {
	if len(endpoints) == 0 {
		return "other"
	}

	path := strings.TrimPrefix(endpoints[0].Path, "/")

	var cleanParts []string
	for _, part := range strings.Split(path, "/") {
		if part != "" && !strings.HasPrefix(part, "{") {
			cleanParts = append(cleanParts, part)
		}
	}
	if len(cleanParts) == 0 {
		return "root"
	}

	maxParts := min(2, len(cleanParts))
	return sanitizeFilename(strings.Join(cleanParts[:maxParts], "-"))
}

func (g *Generator) generateCurlExample(ep model.Endpoint) string {
	var sb strings.Builder

	baseURL := g.reg.BaseURL
	if baseURL == "" || strings.HasPrefix(baseURL, "/") {
		baseURL = "https://api.example.com" + baseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	path, _, _ := strings.Cut(ep.Path, "#")
	var queryParams []string
	for _, p := range ep.Parameters {
		switch p.In {
		case model.LocationPath:
			path = strings.ReplaceAll(path, "{"+p.Name+"}", strings.Trim(exampleValue(p), "\""))
		case model.LocationQuery:
			queryParams = append(queryParams, p.Name+"="+strings.Trim(exampleValue(p), "\""))
		}
	}

	auth := curlAuth(g.reg.Auth)
	queryParams = append(queryParams, auth.query...)

	url := baseURL + path
	if len(queryParams) > 0 {
		url += "?" + strings.Join(queryParams, "&")
	}

	sb.WriteString("```bash\n")
	sb.WriteString(fmt.Sprintf("curl -X %s \"%s\"", ep.Method, url))

	contentType, media, hasBody := ep.RequestBody.JSONContent()
	gqlBody := graphqlExample(ep)
	if gqlBody != "" {
		contentType, hasBody = "application/json", true
	}
	if hasBody {
		sb.WriteString(" \\\n  -H \"Content-Type: " + contentType + "\"")
	}
	for _, p := range ep.Parameters {
		if p.In == model.LocationHeader {
			sb.WriteString(fmt.Sprintf(" \\\n  -H \"%s: %s\"", p.Name, strings.Trim(exampleValue(p), "\"")))
		}
	}
	for _, flag := range auth.flags {
		sb.WriteString(" \\\n  " + flag)
	}

	if gqlBody != "" {
		sb.WriteString(" \\\n  -d '" + gqlBody + "'")
	} else if hasBody && media.Schema != nil {
		body := g.renderJSONSchema(media.Schema, 0, 2)
		if body != "" {
			sb.WriteString(" \\\n  -d '" + body + "'")
		}
	}

	sb.WriteString("\n```\n\n")
	return sb.String()
}

// graphqlExample тело GraphQL-запроса с обязательными аргументами
func graphqlExample(ep model.Endpoint) string {
	if ep.GraphQL == nil {
		return ""
	}
	var args []string
	vars := map[string]json.RawMessage{}
	for _, p := range ep.Parameters {
		if p.Required {
			args = append(args, p.Name)
			vars[p.Name] = json.RawMessage(exampleValue(p))
		}
	}
	payload := map[string]any{"query": ep.GraphQL.Document(args)}
	if len(vars) > 0 {
		payload["variables"] = vars
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(data)
}

// generateCallExample та же операция через spec2call: учётные данные подставит движок
func (g *Generator) generateCallExample(ep model.Endpoint) string {
	params := map[string]json.RawMessage{}
	for _, p := range ep.Parameters {
		if p.Required {
			params[p.Name] = json.RawMessage(exampleValue(p))
		}
	}
	if ep.RequestBody != nil && ep.RequestBody.Required {
		if _, media, ok := ep.RequestBody.JSONContent(); ok && media.Schema != nil {
			params["body"] = json.RawMessage(compact(g.renderJSONSchema(media.Schema, 0, 2)))
		}
	}
	data, err := json.Marshal(params)
	if err != nil {
		data = []byte("{}")
	}
	return fmt.Sprintf("```bash\nspec2call call %s %s '%s'\n```\n\n", g.reg.ID, ep.OperationID, data)
}

func compact(s string) string {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return "{}"
	}
	out, _ := json.Marshal(v)
	return string(out)
}

// exampleValue JSON значение для примера параметра
func exampleValue(p model.Parameter) string {
	if p.Example != nil {
		return formatExample(p.Example)
	}
	if p.Default != nil {
		return formatExample(p.Default)
	}
	if p.Schema == nil {
		return "\"value\""
	}
	switch p.Schema.Type {
	case model.TypeInteger, model.TypeNumber:
		if len(p.Schema.Enum) == 0 && p.Schema.Example == nil {
			return "1"
		}
	case model.TypeString:
		if len(p.Schema.Enum) == 0 && p.Schema.Example == nil && p.Schema.Format == "" {
			return "\"value\""
		}
	}
	return typeExample(p.Schema)
}

type curlAuthParts struct {
	flags []string
	query []string
}

func curlAuth(cfg model.AuthConfig) curlAuthParts {
	var out curlAuthParts
	switch v := cfg.Variant().(type) {
	case model.APIKeyAuth:
		switch v.In {
		case model.LocationQuery:
			out.query = append(out.query, v.Name+"=YOUR_API_KEY")
		case model.LocationCookie:
			out.flags = append(out.flags, fmt.Sprintf("-b \"%s=YOUR_API_KEY\"", v.Name))
		default:
			out.flags = append(out.flags, fmt.Sprintf("-H \"%s: YOUR_API_KEY\"", v.Name))
		}
	case model.BearerAuth:
		prefix := v.Prefix
		if prefix == "" {
			prefix = "Bearer"
		}
		out.flags = append(out.flags, fmt.Sprintf("-H \"Authorization: %s YOUR_TOKEN\"", prefix))
	case model.BasicAuth:
		out.flags = append(out.flags, "-u \"USERNAME:PASSWORD\"")
	case model.OAuth2Auth:
		out.flags = append(out.flags, "-H \"Authorization: Bearer YOUR_ACCESS_TOKEN\"")
	}
	return out
}

// formatAuth описание схемы без значений секретов
func formatAuth(cfg model.AuthConfig) string {
	var sb strings.Builder

	switch v := cfg.Variant().(type) {
	case model.APIKeyAuth:
		in := v.In
		if in == "" {
			in = model.LocationHeader
		}
		sb.WriteString("- **Type**: API Key\n")
		sb.WriteString(fmt.Sprintf("- **Parameter**: `%s`\n", v.Name))
		sb.WriteString(fmt.Sprintf("- **In**: %s\n", in))
	case model.BearerAuth:
		prefix := v.Prefix
		if prefix == "" {
			prefix = "Bearer"
		}
		sb.WriteString("- **Type**: HTTP bearer\n")
		sb.WriteString(fmt.Sprintf("- **Header**: `Authorization: %s <token>`\n", prefix))
	case model.BasicAuth:
		sb.WriteString("- **Type**: HTTP basic\n")
		sb.WriteString("- **Header**: `Authorization: Basic <credentials>`\n")
	case model.OAuth2Auth:
		flow := v.Flow
		if flow == "" {
			flow = model.FlowClientCredentials
		}
		sb.WriteString("- **Type**: OAuth 2.0\n")
		sb.WriteString(fmt.Sprintf("- **Flow**: %s\n", flow))
		if v.TokenURL != "" {
			sb.WriteString(fmt.Sprintf("- **Token URL**: `%s`\n", v.TokenURL))
		}
		if len(v.Scopes) > 0 {
			sb.WriteString(fmt.Sprintf("- **Scopes**: `%s`\n", strings.Join(v.Scopes, "`, `")))
		}
	}

	if credentialsConfigured(cfg) {
		sb.WriteString("- **Credentials**: configured\n")
	} else {
		sb.WriteString("- **Credentials**: not configured (`spec2call auth set`)\n")
	}

	sb.WriteString("\n")
	return sb.String()
}

func credentialsConfigured(cfg model.AuthConfig) bool {
	refs := cfg.Secrets()
	if len(refs) == 0 {
		return false
	}
	for _, ref := range refs {
		if ref.IsZero() {
			return false
		}
	}
	return true
}
