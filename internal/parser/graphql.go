package parser

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	gqlparser "github.com/vektah/gqlparser/v2/parser"

	"github.com/mdwit/spec2call/internal/model"
)

// Виды типов GraphQL, используемые при разворачивании обёрток
const (
	kindNonNull   = "NON_NULL"
	kindList      = "LIST"
	kindObject    = "OBJECT"
	kindInterface = "INTERFACE"
	kindUnion     = "UNION"
	kindEnum      = "ENUM"
)

// maxSelectionDepth глубина вложенных объектов в наборе полей результата
const maxSelectionDepth = 3

// gqlTypeRef ссылка на тип в форме introspection (обёртки NON_NULL/LIST вокруг именованного типа)
type gqlTypeRef struct {
	Kind   string      `json:"kind"`
	Name   string      `json:"name"`
	OfType *gqlTypeRef `json:"ofType"`
}

type gqlInputValue struct {
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Type         *gqlTypeRef `json:"type"`
	DefaultValue *string     `json:"defaultValue"`
}

type gqlField struct {
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Args              []gqlInputValue `json:"args"`
	Type              *gqlTypeRef     `json:"type"`
	IsDeprecated      bool            `json:"isDeprecated"`
	DeprecationReason *string         `json:"deprecationReason"`
}

// ParseGraphQLSchema строит регистрацию из текста схемы GraphQL (SDL).
// Базовый URL берётся из opts.BaseURL или opts.SourceURL.
func ParseGraphQLSchema(sdl []byte, opts *ParseOptions) (*model.Registration, error) {
	opts = opts.withDefaults()

	doc, err := gqlparser.ParseSchema(&ast.Source{Name: "schema.graphql", Input: string(sdl)})
	if err != nil {
		return nil, parseErr(model.FormatGraphQLSchema, err, "invalid schema definition")
	}

	roots := map[ast.Operation]string{
		ast.Query:    "Query",
		ast.Mutation: "Mutation",
	}
	for _, list := range []ast.SchemaDefinitionList{doc.Schema, doc.SchemaExtension} {
		for _, def := range list {
			for _, op := range def.OperationTypes {
				roots[op.Operation] = op.Type
			}
		}
	}

	// именованные типы вместе с extend type
	types := gqlTypes{}
	for _, list := range []ast.DefinitionList{doc.Definitions, doc.Extensions} {
		for _, def := range list {
			t := types[def.Name]
			if t.Kind == "" {
				t.Kind = string(def.Kind)
			}
			if def.Kind == ast.Object || def.Kind == ast.Interface {
				for _, f := range def.Fields {
					t.Fields = append(t.Fields, sdlField(f))
				}
			}
			types[def.Name] = t
		}
	}

	queryFields := types[roots[ast.Query]].Fields
	mutationFields := types[roots[ast.Mutation]].Fields
	if len(queryFields) == 0 && len(mutationFields) == 0 {
		return nil, parseErr(model.FormatGraphQLSchema, nil, "schema has no query or mutation fields")
	}

	base, path, err := graphqlEndpoint("", opts)
	if err != nil {
		return nil, parseErr(model.FormatGraphQLSchema, err, "missing base URL")
	}

	reg := newRegistration(hostName(base)+" GraphQL", base, model.FormatGraphQLSchema, opts)
	reg.Endpoints = append(reg.Endpoints, types.endpoints("query", path, queryFields)...)
	reg.Endpoints = append(reg.Endpoints, types.endpoints("mutation", path, mutationFields)...)
	return finalize(reg), nil
}

func sdlField(f *ast.FieldDefinition) gqlField {
	field := gqlField{
		Name:        f.Name,
		Description: f.Description,
		Type:        sdlTypeRef(f.Type),
	}
	if d := f.Directives.ForName("deprecated"); d != nil {
		field.IsDeprecated = true
	}
	for _, arg := range f.Arguments {
		in := gqlInputValue{
			Name:        arg.Name,
			Description: arg.Description,
			Type:        sdlTypeRef(arg.Type),
		}
		if arg.DefaultValue != nil {
			literal := arg.DefaultValue.String()
			in.DefaultValue = &literal
		}
		field.Args = append(field.Args, in)
	}
	return field
}

func sdlTypeRef(t *ast.Type) *gqlTypeRef {
	if t == nil {
		return nil
	}
	var ref *gqlTypeRef
	if t.Elem != nil {
		ref = &gqlTypeRef{Kind: kindList, OfType: sdlTypeRef(t.Elem)}
	} else {
		ref = &gqlTypeRef{Name: t.NamedType}
	}
	if t.NonNull {
		return &gqlTypeRef{Kind: kindNonNull, OfType: ref}
	}
	return ref
}

var scalarTypes = map[string]string{
	"ID":      model.TypeString,
	"String":  model.TypeString,
	"Int":     model.TypeInteger,
	"Float":   model.TypeNumber,
	"Boolean": model.TypeBoolean,
}

// gqlType именованный тип схемы; поля есть только у OBJECT и INTERFACE
type gqlType struct {
	Kind   string
	Fields []gqlField
}

// gqlTypes именованные типы схемы по имени
type gqlTypes map[string]gqlType

// endpoints по одному POST эндпоинту на поле корневого типа
func (ts gqlTypes) endpoints(opType, path string, fields []gqlField) []model.Endpoint {
	var endpoints []model.Endpoint
	for _, f := range fields {
		if strings.HasPrefix(f.Name, "__") {
			continue
		}
		op := &model.GraphQLOperation{
			Operation: opType,
			Field:     f.Name,
			Selection: ts.selection(f.Type, 0, map[string]bool{}),
		}
		ep := model.Endpoint{
			OperationID: opType + "_" + f.Name,
			Method:      "POST",
			Path:        path + "#" + opType + "." + f.Name,
			Summary:     firstLine(f.Description),
			Description: f.Description,
			Tags:        []string{opType},
			Enabled:     true,
			Deprecated:  f.IsDeprecated,
			GraphQL:     op,
		}
		for _, arg := range f.Args {
			op.Arguments = append(op.Arguments, model.GraphQLArgument{Name: arg.Name, Type: typeNotation(arg.Type)})
			ep.Parameters = append(ep.Parameters, model.Parameter{
				Name:        arg.Name,
				In:          model.LocationBody,
				Description: arg.Description,
				Required:    arg.Type != nil && arg.Type.Kind == kindNonNull,
				Schema:      ts.schema(arg.Type, 0),
				Default:     graphqlLiteral(arg.DefaultValue),
			})
		}
		if f.Type != nil {
			ep.Responses = map[string]model.Response{
				"200": {
					Description: "GraphQL response",
					Content: map[string]model.MediaType{
						"application/json": {Schema: ts.schema(f.Type, 0)},
					},
				},
			}
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints
}

// schema разворачивает NON_NULL/LIST до именованного типа
func (ts gqlTypes) schema(t *gqlTypeRef, depth int) *model.Schema {
	if t == nil || depth > DefaultMaxSchemaDepth {
		return model.ObjectSchema()
	}
	switch t.Kind {
	case kindNonNull:
		return ts.schema(t.OfType, depth+1)
	case kindList:
		return &model.Schema{Type: model.TypeArray, Items: ts.schema(t.OfType, depth+1)}
	}
	if typ, ok := scalarTypes[t.Name]; ok {
		return &model.Schema{Type: typ}
	}
	if ts[t.Name].Kind == kindEnum {
		return &model.Schema{Type: model.TypeString, Title: t.Name}
	}
	return &model.Schema{Type: model.TypeObject, Title: t.Name}
}

// selection набор полей результата: скалярные поля и вложенные объекты до maxSelectionDepth.
// Поля с обязательными аргументами пропускаются. Для скаляров и enum пустая строка.
func (ts gqlTypes) selection(t *gqlTypeRef, depth int, visiting map[string]bool) string {
	name := namedType(t)
	def := ts[name]
	switch def.Kind {
	case kindUnion:
		return "{ __typename }"
	case kindObject, kindInterface:
	default:
		return ""
	}
	visiting[name] = true
	defer delete(visiting, name)

	var parts []string
	for _, f := range def.Fields {
		if strings.HasPrefix(f.Name, "__") || hasRequiredArg(f) {
			continue
		}
		fieldType := namedType(f.Type)
		if !ts.composite(fieldType) {
			parts = append(parts, f.Name)
			continue
		}
		if depth+1 >= maxSelectionDepth || visiting[fieldType] {
			continue
		}
		if sub := ts.selection(f.Type, depth+1, visiting); sub != "" {
			parts = append(parts, f.Name+" "+sub)
		}
	}
	if len(parts) == 0 {
		return "{ __typename }"
	}
	return "{ " + strings.Join(parts, " ") + " }"
}

func (ts gqlTypes) composite(name string) bool {
	switch ts[name].Kind {
	case kindObject, kindInterface, kindUnion:
		return true
	}
	return false
}

func hasRequiredArg(f gqlField) bool {
	for _, a := range f.Args {
		if a.Type != nil && a.Type.Kind == kindNonNull && a.DefaultValue == nil {
			return true
		}
	}
	return false
}

// namedType имя типа под обёртками NON_NULL/LIST
func namedType(t *gqlTypeRef) string {
	for t != nil && t.Name == "" {
		t = t.OfType
	}
	if t == nil {
		return ""
	}
	return t.Name
}

// typeNotation тип в нотации SDL: [Int!]!
func typeNotation(t *gqlTypeRef) string {
	if t == nil {
		return "String"
	}
	switch t.Kind {
	case kindNonNull:
		return typeNotation(t.OfType) + "!"
	case kindList:
		return "[" + typeNotation(t.OfType) + "]"
	}
	return t.Name
}

// graphqlLiteral значение по умолчанию: JSON-совместимые литералы типизируются, остальное остаётся строкой
func graphqlLiteral(literal *string) any {
	if literal == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(*literal), &v); err == nil {
		return v
	}
	return *literal
}

// graphqlEndpoint база (scheme://host) и путь GraphQL endpoint.
// endpointURL: адрес, по которому выполнялась introspection, если она была.
func graphqlEndpoint(endpointURL string, opts *ParseOptions) (string, string, error) {
	for _, candidate := range []string{opts.BaseURL, endpointURL, opts.SourceURL} {
		if !isAbsoluteHTTP(candidate) {
			continue
		}
		u, err := url.Parse(candidate)
		if err != nil {
			continue
		}
		path := strings.TrimSuffix(u.Path, "/")
		// SourceURL без introspection указывает на файл схемы, а не на endpoint
		if path == "" || (candidate == opts.SourceURL && candidate != endpointURL && candidate != opts.BaseURL) {
			path = "/graphql"
		}
		return originOf(candidate), path, nil
	}
	return "", "", errors.New("no GraphQL endpoint URL is known")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

