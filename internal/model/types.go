package model

import (
	"strings"
	"time"
)

// SpecFormat тег формата исходного описания API
type SpecFormat string

const (
	FormatOpenAPI3      SpecFormat = "openapi3"
	FormatSwagger2      SpecFormat = "swagger2"
	FormatGraphQL       SpecFormat = "graphql"
	FormatGraphQLSchema SpecFormat = "graphql_sdl"
	FormatCollection    SpecFormat = "collection"
	FormatUnknown       SpecFormat = ""
)

// Location место передачи параметра
type Location string

const (
	LocationPath   Location = "path"
	LocationQuery  Location = "query"
	LocationHeader Location = "header"
	LocationCookie Location = "cookie"
	LocationBody   Location = "body"
)

// Registration представляет зарегистрированное API в каноническом виде
type Registration struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"owner_id,omitempty"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	Version          string     `json:"version,omitempty"`
	BaseURL          string     `json:"base_url"`
	SourceURL        string     `json:"source_url,omitempty"`
	Format           SpecFormat `json:"format"`
	Auth             AuthConfig `json:"auth"`
	Endpoints        []Endpoint `json:"endpoints"`
	Enabled          bool       `json:"enabled"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ConcurrencyToken string     `json:"concurrency_token,omitempty"`

	// Явно заданные при регистрации имя и базовый URL; обновление применяет их снова
	NameOverride    string `json:"name_override,omitempty"`
	BaseURLOverride string `json:"base_url_override,omitempty"`
}

// Endpoint представляет одну вызываемую операцию API
type Endpoint struct {
	ID          string              `json:"id"`
	OperationID string              `json:"operation_id"`
	Method      string              `json:"method"` // GET, POST, PUT, DELETE, PATCH
	Path        string              `json:"path"`
	Summary     string              `json:"summary,omitempty"`
	Description string              `json:"description,omitempty"`
	Tags        []string            `json:"tags,omitempty"`
	Parameters  []Parameter         `json:"parameters,omitempty"`
	RequestBody *RequestBody        `json:"request_body,omitempty"`
	Responses   map[string]Response `json:"responses,omitempty"`
	Enabled     bool                `json:"enabled"`
	Deprecated  bool                `json:"deprecated,omitempty"`

	// GraphQL задан у эндпоинтов, построенных из схемы GraphQL
	GraphQL *GraphQLOperation `json:"graphql,omitempty"`
}

// GraphQLOperation корневое поле GraphQL, вызываемое эндпоинтом
type GraphQLOperation struct {
	Operation string            `json:"operation"` // query | mutation
	Field     string            `json:"field"`
	Arguments []GraphQLArgument `json:"arguments,omitempty"`
	Selection string            `json:"selection,omitempty"` // "{ id name }", пусто для скалярного результата
}

// GraphQLArgument аргумент поля и его тип в нотации SDL (ID!, [String])
type GraphQLArgument struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Document текст запроса, передающий аргументы с именами из args через переменные.
// Аргументы, отсутствующие в args, в запрос не попадают и получают значения по умолчанию сервера.
func (op *GraphQLOperation) Document(args []string) string {
	pass := make(map[string]struct{}, len(args))
	for _, a := range args {
		pass[a] = struct{}{}
	}

	var vars, call []string
	for _, a := range op.Arguments {
		if _, ok := pass[a.Name]; !ok {
			continue
		}
		vars = append(vars, "$"+a.Name+": "+a.Type)
		call = append(call, a.Name+": $"+a.Name)
	}

	var sb strings.Builder
	sb.WriteString(op.Operation)
	if len(vars) > 0 {
		sb.WriteString("(" + strings.Join(vars, ", ") + ")")
	}
	sb.WriteString(" { " + op.Field)
	if len(call) > 0 {
		sb.WriteString("(" + strings.Join(call, ", ") + ")")
	}
	if op.Selection != "" {
		sb.WriteString(" " + op.Selection)
	}
	sb.WriteString(" }")
	return sb.String()
}

// Parameter представляет параметр запроса
type Parameter struct {
	Name        string   `json:"name"`
	In          Location `json:"in"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required"`
	Schema      *Schema  `json:"schema,omitempty"`
	Example     any      `json:"example,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// RequestBody представляет тело запроса
type RequestBody struct {
	Description string               `json:"description,omitempty"`
	Required    bool                 `json:"required"`
	Content     map[string]MediaType `json:"content,omitempty"` // application/json, etc.
}

// MediaType представляет тип контента
type MediaType struct {
	Schema  *Schema `json:"schema,omitempty"`
	Example any     `json:"example,omitempty"`
}

// Response представляет ответ API
type Response struct {
	Description string               `json:"description,omitempty"`
	Content     map[string]MediaType `json:"content,omitempty"`
}

// Schema упрощённая JSON Schema.
// Default и Example хранят исходное типизированное значение.
type Schema struct {
	Type        string             `json:"type"`
	Title       string             `json:"title,omitempty"`
	Format      string             `json:"format,omitempty"`
	Pattern     string             `json:"pattern,omitempty"`
	Description string             `json:"description,omitempty"`
	MinLength   *uint64            `json:"min_length,omitempty"`
	MaxLength   *uint64            `json:"max_length,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
	Enum        []any              `json:"enum,omitempty"`
	Default     any                `json:"default,omitempty"`
	Example     any                `json:"example,omitempty"`
	Nullable    bool               `json:"nullable,omitempty"`
	Items       *Schema            `json:"items,omitempty"` // для массивов
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// Типы упрощённой схемы
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// ObjectSchema возвращает пустую схему объекта
func ObjectSchema() *Schema {
	return &Schema{Type: TypeObject}
}

// OpaqueSchema непрозрачный объект с диагностическим описанием
func OpaqueSchema(reason string) *Schema {
	return &Schema{Type: TypeObject, Description: reason}
}

// Endpoint ищет эндпоинт по operation id или id
func (r *Registration) Endpoint(name string) (*Endpoint, bool) {
	for i := range r.Endpoints {
		if r.Endpoints[i].OperationID == name || r.Endpoints[i].ID == name {
			return &r.Endpoints[i], true
		}
	}
	return nil, false
}

// JSONContent возвращает media type, предпочитая JSON
func (rb *RequestBody) JSONContent() (string, MediaType, bool) {
	if rb == nil || len(rb.Content) == 0 {
		return "", MediaType{}, false
	}
	if mt, ok := rb.Content["application/json"]; ok {
		return "application/json", mt, true
	}
	// Детерминированный выбор: сначала *json, затем лексикографически
	best := ""
	for ct := range rb.Content {
		switch {
		case best == "":
			best = ct
		case strings.Contains(ct, "json") != strings.Contains(best, "json"):
			if strings.Contains(ct, "json") {
				best = ct
			}
		case ct < best:
			best = ct
		}
	}
	return best, rb.Content[best], true
}
