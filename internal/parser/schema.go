package parser

import (
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/mdwit/spec2call/internal/model"
)

// DefaultMaxSchemaDepth предел глубины рекурсии нормализатора
const DefaultMaxSchemaDepth = 10

// NormalizeSchema конвертирует схему OpenAPI (возможно циклическую) в упрощённую.
// Состояние обхода создаётся на каждый вызов, функция безопасна для конкурентного использования.
func NormalizeSchema(ref *openapi3.SchemaRef, maxDepth int) *model.Schema {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxSchemaDepth
	}
	n := &normalizer{maxDepth: maxDepth, active: make(map[string]struct{})}
	return n.ref(ref, 0)
}

type normalizer struct {
	maxDepth int
	// ссылки, раскрываемые на текущем пути от корня
	active map[string]struct{}
}

func (n *normalizer) ref(ref *openapi3.SchemaRef, depth int) *model.Schema {
	if ref == nil || ref.Value == nil {
		return model.ObjectSchema()
	}
	if depth > n.maxDepth {
		return model.OpaqueSchema(fmt.Sprintf("maximum schema depth %d exceeded", n.maxDepth))
	}

	key := ref.Ref
	if key == "" {
		key = fmt.Sprintf("%p", ref.Value)
	}
	if _, ok := n.active[key]; ok {
		return model.OpaqueSchema(fmt.Sprintf("circular reference to %s", refName(ref)))
	}
	n.active[key] = struct{}{}
	defer delete(n.active, key)

	return n.schema(ref.Value, depth)
}

func (n *normalizer) schema(s *openapi3.Schema, depth int) *model.Schema {
	schema := &model.Schema{
		Type:        primaryType(s),
		Title:       s.Title,
		Format:      s.Format,
		Pattern:     s.Pattern,
		Description: s.Description,
		Minimum:     s.Min,
		Maximum:     s.Max,
		MaxLength:   s.MaxLength,
		Default:     s.Default,
		Example:     s.Example,
		Nullable:    s.Nullable,
	}
	if s.MinLength > 0 {
		minLength := s.MinLength
		schema.MinLength = &minLength
	}
	if len(s.Enum) > 0 {
		schema.Enum = append([]any(nil), s.Enum...)
	}
	if len(s.Required) > 0 {
		schema.Required = append([]string(nil), s.Required...)
	}

	// Конвертируем properties для объектов
	if len(s.Properties) > 0 {
		schema.Properties = make(map[string]*model.Schema, len(s.Properties))
		for name, propRef := range s.Properties {
			schema.Properties[name] = n.ref(propRef, depth+1)
		}
	}

	// allOf: собираем все properties из всех схем
	for _, sub := range s.AllOf {
		merged := n.ref(sub, depth+1)
		if schema.Type == "" {
			schema.Type = merged.Type
		}
		if len(merged.Properties) > 0 {
			if schema.Properties == nil {
				schema.Properties = make(map[string]*model.Schema)
			}
			for name, prop := range merged.Properties {
				schema.Properties[name] = prop
			}
		}
		schema.Required = appendUnique(schema.Required, merged.Required...)
		if schema.Items == nil {
			schema.Items = merged.Items
		}
		if schema.Description == "" {
			schema.Description = merged.Description
		}
	}

	// oneOf/anyOf: берём первую схему как пример
	for _, alternatives := range []openapi3.SchemaRefs{s.OneOf, s.AnyOf} {
		if len(alternatives) == 0 || len(schema.Properties) > 0 {
			continue
		}
		first := n.ref(alternatives[0], depth+1)
		if s.Type == nil || len(s.Type.Slice()) == 0 {
			schema.Type = first.Type
		}
		schema.Properties = first.Properties
		schema.Required = first.Required
		schema.Items = first.Items
		if schema.Format == "" {
			schema.Format = first.Format
		}
	}

	if s.Items != nil {
		schema.Items = n.ref(s.Items, depth+1)
	}

	if schema.Type == "" {
		switch {
		case len(schema.Properties) > 0:
			schema.Type = model.TypeObject
		case schema.Items != nil:
			schema.Type = model.TypeArray
		default:
			schema.Type = model.TypeObject
		}
	}
	return schema
}

// primaryType первый не-null тип (OpenAPI 3.1 допускает массив типов)
func primaryType(s *openapi3.Schema) string {
	for _, t := range s.Type.Slice() {
		switch t {
		case model.TypeString, model.TypeNumber, model.TypeInteger, model.TypeBoolean, model.TypeArray, model.TypeObject:
			return t
		}
	}
	return ""
}

func refName(ref *openapi3.SchemaRef) string {
	if ref.Ref != "" {
		return ref.Ref
	}
	if ref.Value != nil && ref.Value.Title != "" {
		return ref.Value.Title
	}
	return "inline schema"
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}
