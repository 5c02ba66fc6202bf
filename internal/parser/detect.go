package parser

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/mdwit/spec2call/internal/model"
)

var sdlDeclaration = regexp.MustCompile(`(?m)^\s*(?:extend\s+)?(?:schema|type|interface|input|enum|union|scalar|directive)\b`)

// Detect определяет формат документа по содержимому
func Detect(data []byte) model.SpecFormat {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return model.FormatUnknown
	}

	if obj, ok := decodeObject(trimmed); ok {
		if format := detectObject(obj); format != model.FormatUnknown {
			return format
		}
	}
	if sdlDeclaration.Match(trimmed) {
		return model.FormatGraphQLSchema
	}
	return model.FormatUnknown
}

// IsOpenAPI документ является OpenAPI 3.x или Swagger 2.0
func IsOpenAPI(data []byte) bool {
	f := Detect(data)
	return f == model.FormatOpenAPI3 || f == model.FormatSwagger2
}

func detectObject(obj map[string]json.RawMessage) model.SpecFormat {
	switch {
	case has(obj, "openapi"):
		return model.FormatOpenAPI3
	case has(obj, "swagger"):
		return model.FormatSwagger2
	case isIntrospectionResult(obj):
		return model.FormatGraphQL
	case isCollection(obj):
		return model.FormatCollection
	}
	return model.FormatUnknown
}

// decodeObject принимает JSON или YAML и возвращает объект верхнего уровня
func decodeObject(data []byte) (map[string]json.RawMessage, bool) {
	js := data
	if data[0] != '{' {
		converted, err := yaml.YAMLToJSON(data)
		if err != nil {
			return nil, false
		}
		js = converted
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(js, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func has(obj map[string]json.RawMessage, key string) bool {
	raw, ok := obj[key]
	return ok && len(raw) > 0 && string(raw) != "null"
}

func isIntrospectionResult(obj map[string]json.RawMessage) bool {
	if has(obj, "__schema") {
		return true
	}
	var data map[string]json.RawMessage
	if !has(obj, "data") || json.Unmarshal(obj["data"], &data) != nil {
		return false
	}
	return has(data, "__schema")
}

// isCollection отпечаток схемы коллекции или хотя бы один вложенный request
func isCollection(obj map[string]json.RawMessage) bool {
	var info struct {
		PostmanID string `json:"_postman_id"`
		Schema    string `json:"schema"`
	}
	if has(obj, "info") && json.Unmarshal(obj["info"], &info) == nil {
		if info.PostmanID != "" || strings.Contains(info.Schema, "getpostman.com") {
			return true
		}
	}
	if !has(obj, "item") {
		return false
	}
	var items []collectionItem
	if err := json.Unmarshal(obj["item"], &items); err != nil {
		return false
	}
	return hasRequest(items)
}

func hasRequest(items []collectionItem) bool {
	for _, it := range items {
		if it.Request != nil || hasRequest(it.Item) {
			return true
		}
	}
	return false
}
