package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/stoewer/go-strcase"

	"github.com/mdwit/spec2call/internal/model"
)

// excludedHeaders служебные заголовки, которые не становятся параметрами
var excludedHeaders = map[string]struct{}{
	"content-type":  {},
	"accept":        {},
	"authorization": {},
	"user-agent":    {},
}

var (
	collectionVar = regexp.MustCompile(`^\{\{\s*([^{}]+?)\s*\}\}$`)
	anyVar        = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
	nameCleaner   = regexp.MustCompile(`[^A-Za-z0-9]+`)
)

type collection struct {
	Info struct {
		Name        string         `json:"name"`
		Description collectionText `json:"description"`
		PostmanID   string         `json:"_postman_id"`
		Schema      string         `json:"schema"`
	} `json:"info"`
	Item     []collectionItem     `json:"item"`
	Auth     *collectionAuth      `json:"auth"`
	Variable []collectionVariable `json:"variable"`
}

type collectionItem struct {
	Name        string             `json:"name"`
	Description collectionText     `json:"description"`
	Item        []collectionItem   `json:"item"`
	Request     *collectionRequest `json:"request"`
}

type collectionRequest struct {
	Method      string          `json:"method"`
	Header      []collectionKV  `json:"header"`
	Body        *collectionBody `json:"body"`
	URL         collectionURL   `json:"url"`
	Description collectionText  `json:"description"`
}

// UnmarshalJSON request может быть просто строкой URL
func (r *collectionRequest) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		*r = collectionRequest{Method: "GET", URL: parseRawURL(raw)}
		return nil
	}
	type plain collectionRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = collectionRequest(p)
	return nil
}

type collectionKV struct {
	Key         string         `json:"key"`
	Value       string         `json:"value"`
	Disabled    bool           `json:"disabled"`
	Description collectionText `json:"description"`
}

type collectionVariable struct {
	Key         string         `json:"key"`
	ID          string         `json:"id"`
	Value       any            `json:"value"`
	Description collectionText `json:"description"`
}

func (v collectionVariable) name() string {
	if v.Key != "" {
		return v.Key
	}
	return v.ID
}

type collectionBody struct {
	Mode       string         `json:"mode"`
	Raw        string         `json:"raw"`
	URLEncoded []collectionKV `json:"urlencoded"`
	FormData   []collectionKV `json:"formdata"`
	Disabled   bool           `json:"disabled"`
}

type collectionURL struct {
	Raw      string               `json:"raw"`
	Protocol string               `json:"protocol"`
	Host     stringList           `json:"host"`
	Path     stringList           `json:"path"`
	Query    []collectionKV       `json:"query"`
	Variable []collectionVariable `json:"variable"`
}

// UnmarshalJSON url может быть строкой или объектом
func (u *collectionURL) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		*u = parseRawURL(raw)
		return nil
	}
	type plain collectionURL
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*u = collectionURL(p)
	if len(u.Host) == 0 && len(u.Path) == 0 && u.Raw != "" {
		parsed := parseRawURL(u.Raw)
		u.Protocol, u.Host, u.Path = parsed.Protocol, parsed.Host, parsed.Path
		if len(u.Query) == 0 {
			u.Query = parsed.Query
		}
	}
	return nil
}

// stringList принимает "a.b" или ["a", "b"]
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = strings.FieldsFunc(single, func(r rune) bool { return r == '/' })
		return nil
	}
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			// сегмент пути в форме {"type": "string", "value": "users"}
			if s, ok := v["value"].(string); ok {
				out = append(out, s)
			}
		}
	}
	*l = out
	return nil
}

// collectionText описание: строка или {"content": "..."}
type collectionText string

func (t *collectionText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = collectionText(s)
		return nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	*t = collectionText(obj.Content)
	return nil
}

type collectionAuth struct {
	Type   string     `json:"type"`
	APIKey authParams `json:"apikey"`
	OAuth2 authParams `json:"oauth2"`
}

// authParams список {key, value} (v2.1) или объект (v2.0)
type authParams map[string]string

func (p *authParams) UnmarshalJSON(data []byte) error {
	out := authParams{}
	var list []struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}
	if err := json.Unmarshal(data, &list); err == nil {
		for _, kv := range list {
			out[kv.Key] = textOf(kv.Value)
		}
		*p = out
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	for k, v := range obj {
		out[k] = textOf(v)
	}
	*p = out
	return nil
}

// parseRawURL разбирает строку вида {{baseUrl}}/users/:id?limit=10
func parseRawURL(raw string) collectionURL {
	u := collectionURL{Raw: raw}
	rest := strings.TrimSpace(raw)
	if i := strings.Index(rest, "#"); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.Index(rest, "?"); i >= 0 {
		for _, pair := range strings.Split(rest[i+1:], "&") {
			if pair == "" {
				continue
			}
			key, value, _ := strings.Cut(pair, "=")
			u.Query = append(u.Query, collectionKV{Key: key, Value: value})
		}
		rest = rest[:i]
	}
	if i := strings.Index(rest, "://"); i >= 0 {
		u.Protocol = rest[:i]
		rest = rest[i+3:]
	}
	segments := strings.Split(rest, "/")
	if len(segments) > 0 && segments[0] != "" {
		u.Host = stringList{segments[0]}
	}
	for _, seg := range segments[1:] {
		if seg != "" {
			u.Path = append(u.Path, seg)
		}
	}
	return u
}

// ParseCollection разворачивает экспорт коллекции запросов (Postman v2.0/v2.1) в список эндпоинтов
func ParseCollection(data []byte, opts *ParseOptions) (*model.Registration, error) {
	opts = opts.withDefaults()

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, parseErr(model.FormatCollection, err, "undecodable collection")
	}
	if !isCollection(obj) {
		return nil, parseErr(model.FormatCollection, nil, "document is not a request collection")
	}

	var c collection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, parseErr(model.FormatCollection, err, "undecodable collection")
	}

	vars := make(map[string]string, len(c.Variable))
	for _, v := range c.Variable {
		vars[v.name()] = textOf(v.Value)
	}

	var requests []flatRequest
	flatten(c.Item, "", &requests)
	if len(requests) == 0 {
		return nil, parseErr(model.FormatCollection, nil, "collection has no requests")
	}

	baseURL := collectionBaseURL(opts, vars, requests)
	if baseURL == "" {
		return nil, parseErr(model.FormatCollection, nil, "missing base URL")
	}

	reg := newRegistration(c.Info.Name, baseURL, model.FormatCollection, opts)
	reg.Description = string(c.Info.Description)
	reg.Auth = collectionAuthConfig(c.Auth)

	for _, r := range requests {
		reg.Endpoints = append(reg.Endpoints, convertCollectionRequest(r, vars))
	}
	return finalize(reg), nil
}

type flatRequest struct {
	item   collectionItem
	folder string
}

// flatten обходит дерево папок, тегом становится имя папки верхнего уровня
func flatten(items []collectionItem, folder string, out *[]flatRequest) {
	for _, it := range items {
		if it.Request != nil {
			*out = append(*out, flatRequest{item: it, folder: folder})
		}
		if len(it.Item) > 0 {
			tag := folder
			if tag == "" {
				tag = it.Name
			}
			flatten(it.Item, tag, out)
		}
	}
}

func collectionBaseURL(opts *ParseOptions, vars map[string]string, requests []flatRequest) string {
	if opts.BaseURL != "" {
		return strings.TrimSuffix(opts.BaseURL, "/")
	}
	for _, key := range []string{"baseUrl", "base_url", "baseURL"} {
		if v := resolveVars(vars[key], vars); isAbsoluteHTTP(v) {
			return strings.TrimSuffix(v, "/")
		}
	}
	for _, r := range requests {
		u := r.item.Request.URL
		if len(u.Host) == 0 {
			continue
		}
		host := resolveVars(strings.Join(u.Host, "."), vars)
		if strings.Contains(host, "://") {
			if isAbsoluteHTTP(host) {
				return strings.TrimSuffix(host, "/")
			}
			continue
		}
		protocol := u.Protocol
		if protocol == "" {
			protocol = "https"
		}
		candidate := protocol + "://" + host
		if isAbsoluteHTTP(candidate) && !strings.Contains(candidate, "{{") {
			return candidate
		}
	}
	return ""
}

func resolveVars(s string, vars map[string]string) string {
	return anyVar.ReplaceAllStringFunc(s, func(m string) string {
		name := anyVar.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

func convertCollectionRequest(r flatRequest, vars map[string]string) model.Endpoint {
	req := r.item.Request
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = "GET"
	}

	endpoint := model.Endpoint{
		OperationID: operationIDFromName(r.item.Name),
		Method:      method,
		Summary:     r.item.Name,
		Description: string(req.Description),
		Enabled:     true,
	}
	if endpoint.Description == "" {
		endpoint.Description = string(r.item.Description)
	}
	if r.folder != "" {
		endpoint.Tags = []string{r.folder}
	}

	urlVars := make(map[string]collectionVariable, len(req.URL.Variable))
	for _, v := range req.URL.Variable {
		urlVars[v.name()] = v
	}

	// Путь: :name и {{name}} становятся {name}
	segments := make([]string, 0, len(req.URL.Path))
	for _, seg := range req.URL.Path {
		name := ""
		switch {
		case strings.HasPrefix(seg, ":") && len(seg) > 1:
			name = seg[1:]
		case collectionVar.MatchString(seg):
			name = collectionVar.FindStringSubmatch(seg)[1]
		}
		if name == "" {
			segments = append(segments, seg)
			continue
		}
		segments = append(segments, "{"+name+"}")
		param := model.Parameter{
			Name:     name,
			In:       model.LocationPath,
			Required: true,
			Schema:   &model.Schema{Type: model.TypeString},
		}
		if v, ok := urlVars[name]; ok {
			param.Description = string(v.Description)
			if def := textOf(v.Value); def != "" {
				param.Default = def
			}
		}
		if param.Default == nil {
			if def, ok := vars[name]; ok && def != "" {
				param.Default = def
			}
		}
		endpoint.Parameters = append(endpoint.Parameters, param)
	}
	endpoint.Path = "/" + strings.Join(segments, "/")

	for _, q := range req.URL.Query {
		if q.Disabled || q.Key == "" {
			continue
		}
		endpoint.Parameters = append(endpoint.Parameters, kvParameter(q, model.LocationQuery))
	}
	for _, h := range req.Header {
		if h.Disabled || h.Key == "" {
			continue
		}
		if _, skip := excludedHeaders[strings.ToLower(h.Key)]; skip {
			continue
		}
		endpoint.Parameters = append(endpoint.Parameters, kvParameter(h, model.LocationHeader))
	}

	endpoint.RequestBody = collectionRequestBody(req.Body)
	return endpoint
}

func kvParameter(kv collectionKV, in model.Location) model.Parameter {
	param := model.Parameter{
		Name:        kv.Key,
		In:          in,
		Description: string(kv.Description),
		Schema:      &model.Schema{Type: model.TypeString},
	}
	// значения-переменные {{token}} не являются примером
	if kv.Value != "" && !anyVar.MatchString(kv.Value) {
		param.Example = kv.Value
	}
	return param
}

func collectionRequestBody(body *collectionBody) *model.RequestBody {
	if body == nil || body.Disabled {
		return nil
	}
	switch body.Mode {
	case "raw":
		raw := strings.TrimSpace(body.Raw)
		if raw == "" {
			return nil
		}
		var example any
		if err := json.Unmarshal([]byte(raw), &example); err == nil {
			return &model.RequestBody{
				Content: map[string]model.MediaType{
					"application/json": {Schema: InferSchema(example), Example: example},
				},
			}
		}
		return &model.RequestBody{
			Content: map[string]model.MediaType{
				"text/plain": {Schema: &model.Schema{Type: model.TypeString}, Example: body.Raw},
			},
		}
	case "urlencoded":
		return formBody("application/x-www-form-urlencoded", body.URLEncoded)
	case "formdata":
		return formBody("multipart/form-data", body.FormData)
	}
	return nil
}

func formBody(contentType string, fields []collectionKV) *model.RequestBody {
	schema := model.ObjectSchema()
	for _, f := range fields {
		if f.Disabled || f.Key == "" {
			continue
		}
		if schema.Properties == nil {
			schema.Properties = make(map[string]*model.Schema)
		}
		schema.Properties[f.Key] = &model.Schema{Type: model.TypeString, Description: string(f.Description)}
	}
	if len(schema.Properties) == 0 {
		return nil
	}
	return &model.RequestBody{Content: map[string]model.MediaType{contentType: {Schema: schema}}}
}

// collectionAuthConfig переносит тип аутентификации коллекции без секретов
func collectionAuthConfig(a *collectionAuth) model.AuthConfig {
	if a == nil {
		return model.NewAuthConfig(model.NoAuth{})
	}
	switch strings.ToLower(a.Type) {
	case "apikey":
		in := model.LocationHeader
		if a.APIKey["in"] == "query" {
			in = model.LocationQuery
		}
		name := a.APIKey["key"]
		if name == "" {
			name = "X-API-Key"
		}
		return model.NewAuthConfig(model.APIKeyAuth{In: in, Name: name})
	case "bearer":
		return model.NewAuthConfig(model.BearerAuth{Prefix: "Bearer"})
	case "basic":
		return model.NewAuthConfig(model.BasicAuth{})
	case "oauth2":
		cfg := model.OAuth2Auth{
			Flow:             model.FlowAuthorizationCode,
			TokenURL:         a.OAuth2["accessTokenUrl"],
			AuthorizationURL: a.OAuth2["authUrl"],
			Scopes:           strings.Fields(a.OAuth2["scope"]),
		}
		if a.OAuth2["grant_type"] == "client_credentials" {
			cfg.Flow = model.FlowClientCredentials
			cfg.AuthorizationURL = ""
		}
		return model.NewAuthConfig(cfg)
	}
	return model.NewAuthConfig(model.NoAuth{})
}

func operationIDFromName(name string) string {
	cleaned := strings.TrimSpace(nameCleaner.ReplaceAllString(name, " "))
	if cleaned == "" {
		return ""
	}
	return strcase.SnakeCase(cleaned)
}

func textOf(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64, bool:
		return fmt.Sprint(val)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
