package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/mdwit/spec2call/internal/model"
)

// BodyKey ключ параметров, содержащий тело запроса целиком
const BodyKey = "body"

var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

// ValidationError перечисляет все недостающие параметры вызова
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "missing required parameters: " + strings.Join(e.Missing, ", ")
}

// Request синтезированный HTTP запрос
type Request struct {
	Method      string
	URL         *url.URL
	Header      http.Header
	Cookies     []*http.Cookie
	Body        []byte
	ContentType string
}

// NewHTTPRequest создаёт *http.Request, привязанный к ctx
func (r *Request) NewHTTPRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for name, values := range r.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	for _, c := range r.Cookies {
		req.AddCookie(c)
	}
	if r.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", r.ContentType)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil
}

// Synthesize строит запрос для эндпоинта из параметров вызова.
// Сначала проверяются все обязательные параметры; ошибка перечисляет каждый недостающий.
func Synthesize(baseURL string, ep *model.Endpoint, params Params) (*Request, error) {
	if ep == nil {
		return nil, fmt.Errorf("endpoint is nil")
	}
	if params == nil {
		params = Params{}
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}

	// путь GraphQL-эндпоинтов несёт операцию во фрагменте
	pathTemplate, _, _ := strings.Cut(ep.Path, "#")

	if err := validate(ep, pathTemplate, params); err != nil {
		return nil, err
	}

	assigned := make(map[string]struct{}, len(ep.Parameters))
	query := base.Query()
	header := http.Header{}
	var cookies []*http.Cookie
	for _, p := range ep.Parameters {
		switch p.In {
		case model.LocationPath, model.LocationQuery, model.LocationHeader, model.LocationCookie:
			assigned[p.Name] = struct{}{}
		default:
			continue
		}
		if !params.Present(p.Name) {
			continue
		}
		v := params[p.Name]
		switch p.In {
		case model.LocationQuery:
			if v.Kind() == KindList {
				for _, item := range v.Items() {
					query.Add(p.Name, item.Text())
				}
			} else {
				query.Add(p.Name, v.Text())
			}
		case model.LocationHeader:
			header.Set(p.Name, v.Text())
		case model.LocationCookie:
			cookies = append(cookies, &http.Cookie{Name: p.Name, Value: v.Text()})
		}
	}

	escapedPath := placeholder.ReplaceAllStringFunc(pathTemplate, func(m string) string {
		name := m[1 : len(m)-1]
		assigned[name] = struct{}{}
		return url.PathEscape(params[name].Text())
	})

	u := *base
	u.Fragment = ""
	u.RawFragment = ""
	rawPath := strings.TrimSuffix(base.EscapedPath(), "/") + escapedPath
	unescaped, err := url.PathUnescape(rawPath)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", rawPath, err)
	}
	u.Path = unescaped
	u.RawPath = rawPath
	u.RawQuery = query.Encode()

	req := &Request{
		Method:  strings.ToUpper(ep.Method),
		URL:     &u,
		Header:  header,
		Cookies: cookies,
	}

	var (
		body []byte
		raw  bool
	)
	if ep.GraphQL != nil && !params.Present(BodyKey) {
		body, err = graphqlBody(ep.GraphQL, params)
	} else {
		body, raw, err = buildBody(req.Method, params, assigned)
	}
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Body = body
		req.ContentType = bodyContentType(ep.RequestBody, raw)
	}
	return req, nil
}

// bodyContentType: закодированное в JSON тело получает объявленный JSON media type или application/json.
// Строка из "body" уходит как есть, с объявленным типом.
func bodyContentType(rb *model.RequestBody, raw bool) string {
	ct, _, ok := rb.JSONContent()
	if !ok || (!raw && !strings.Contains(ct, "json")) {
		return "application/json"
	}
	return ct
}

func validate(ep *model.Endpoint, pathTemplate string, params Params) error {
	var missing []string
	seen := make(map[string]struct{})
	add := func(item string) {
		if _, ok := seen[item]; ok {
			return
		}
		seen[item] = struct{}{}
		missing = append(missing, item)
	}

	assigned := make(map[string]struct{}, len(ep.Parameters))
	for _, p := range ep.Parameters {
		if p.In != model.LocationBody {
			assigned[p.Name] = struct{}{}
		}
		if p.Required && !params.Present(p.Name) {
			add(fmt.Sprintf("%s parameter %q", p.In, p.Name))
		}
	}

	for _, m := range placeholder.FindAllStringSubmatch(pathTemplate, -1) {
		assigned[m[1]] = struct{}{}
		if !params.Present(m[1]) {
			add(fmt.Sprintf("%s parameter %q", model.LocationPath, m[1]))
		}
	}

	if ep.RequestBody != nil && ep.RequestBody.Required && !params.Present(BodyKey) && len(extraKeys(params, assigned)) == 0 {
		add(`request body (pass "body" or body fields)`)
	}

	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// extraKeys ключи, не привязанные к path/query/header/cookie и не равные body
func extraKeys(params Params, assigned map[string]struct{}) []string {
	var keys []string
	for k, v := range params {
		if k == BodyKey || v.IsNull() {
			continue
		}
		if _, ok := assigned[k]; ok {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

func carriesBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// buildBody возвращает тело и признак raw: строка из "body" передаётся без кодирования
func buildBody(method string, params Params, assigned map[string]struct{}) ([]byte, bool, error) {
	if params.Present(BodyKey) {
		v := params[BodyKey]
		if v.Kind() == KindString {
			return []byte(v.Text()), true, nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false, fmt.Errorf("failed to encode body: %w", err)
		}
		return data, false, nil
	}

	if !carriesBody(method) {
		return nil, false, nil
	}
	keys := extraKeys(params, assigned)
	if len(keys) == 0 {
		return nil, false, nil
	}
	fields := make(map[string]Value, len(keys))
	for _, k := range keys {
		fields[k] = params[k]
	}
	data, err := json.Marshal(Map(fields))
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode body: %w", err)
	}
	return data, false, nil
}

// graphqlBody запрос {"query", "variables"}: переданные аргументы поля становятся переменными
func graphqlBody(op *model.GraphQLOperation, params Params) ([]byte, error) {
	var args []string
	vars := make(map[string]Value)
	for _, a := range op.Arguments {
		if params.Present(a.Name) {
			args = append(args, a.Name)
			vars[a.Name] = params[a.Name]
		}
	}
	data, err := json.Marshal(struct {
		Query     string           `json:"query"`
		Variables map[string]Value `json:"variables,omitempty"`
	}{op.Document(args), vars})
	if err != nil {
		return nil, fmt.Errorf("failed to encode graphql request: %w", err)
	}
	return data, nil
}
