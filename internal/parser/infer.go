package parser

import (
	"fmt"
	"math"

	"github.com/mdwit/spec2call/internal/model"
)

// InferSchema выводит упрощённую схему из примера JSON-значения
func InferSchema(example any) *model.Schema {
	return inferSchema(example, 0)
}

func inferSchema(v any, depth int) *model.Schema {
	if depth > DefaultMaxSchemaDepth {
		return model.OpaqueSchema(fmt.Sprintf("maximum schema depth %d exceeded", DefaultMaxSchemaDepth))
	}

	switch val := v.(type) {
	case map[string]any:
		schema := model.ObjectSchema()
		if len(val) > 0 {
			schema.Properties = make(map[string]*model.Schema, len(val))
			for name, prop := range val {
				schema.Properties[name] = inferSchema(prop, depth+1)
			}
		}
		return schema
	case []any:
		items := model.ObjectSchema()
		if len(val) > 0 {
			items = inferSchema(val[0], depth+1)
		}
		return &model.Schema{Type: model.TypeArray, Items: items}
	case float64:
		if !math.IsInf(val, 0) && val == math.Trunc(val) {
			return &model.Schema{Type: model.TypeInteger}
		}
		return &model.Schema{Type: model.TypeNumber}
	case bool:
		return &model.Schema{Type: model.TypeBoolean}
	}
	return &model.Schema{Type: model.TypeString}
}
