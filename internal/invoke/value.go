package invoke

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// Kind вид значения параметра
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return "null"
}

// Value значение параметра вызова: null, строка, число, bool, список или словарь.
// Числа хранятся как точная десятичная запись.
type Value struct {
	kind Kind
	str  string
	b    bool
	list []Value
	m    map[string]Value
}

// Params параметры вызова по имени
type Params map[string]Value

func Null() Value              { return Value{} }
func String(s string) Value    { return Value{kind: KindString, str: s} }
func Bool(b bool) Value        { return Value{kind: KindBool, b: b} }
func Int(n int64) Value        { return Value{kind: KindNumber, str: strconv.FormatInt(n, 10)} }
func List(items ...Value) Value { return Value{kind: KindList, list: items} }

func Float(f float64) Value {
	return Value{kind: KindNumber, str: strconv.FormatFloat(f, 'f', -1, 64)}
}

// finite отвергает NaN и бесконечности: у них нет записи в JSON
func finite(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("non-finite number %v", f)
	}
	return Float(f), nil
}

// Number число из десятичной записи; запись проверяется как JSON-число
func Number(text string) (Value, error) {
	var n json.Number
	if err := json.Unmarshal([]byte(text), &n); err != nil || n.String() == "" {
		return Value{}, fmt.Errorf("invalid number %q", text)
	}
	return Value{kind: KindNumber, str: n.String()}, nil
}

func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

// FromAny преобразует значение Go (в т.ч. результат json.Unmarshal) в Value
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case json.Number:
		return Number(val.String())
	case float64:
		return finite(val)
	case float32:
		return finite(float64(val))
	case int:
		return Int(int64(val)), nil
	case int32:
		return Int(int64(val)), nil
	case int64:
		return Int(val), nil
	case uint:
		return Value{kind: KindNumber, str: strconv.FormatUint(uint64(val), 10)}, nil
	case uint64:
		return Value{kind: KindNumber, str: strconv.FormatUint(val, 10)}, nil
	case []any:
		items := make([]Value, 0, len(val))
		for i, it := range val {
			item, err := FromAny(it)
			if err != nil {
				return Value{}, fmt.Errorf("item %d: %w", i, err)
			}
			items = append(items, item)
		}
		return List(items...), nil
	case []string:
		items := make([]Value, 0, len(val))
		for _, it := range val {
			items = append(items, String(it))
		}
		return List(items...), nil
	case map[string]any:
		m := make(map[string]Value, len(val))
		for k, it := range val {
			item, err := FromAny(it)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = item
		}
		return Map(m), nil
	}
	return Value{}, fmt.Errorf("unsupported value type %s", reflect.TypeOf(v))
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Items элементы списка; для не-списка nil
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// Text текстовое представление для пути, query и заголовков.
// Списки и словари кодируются в JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindString, KindNumber:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList, KindMap:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
	return ""
}

// Interface значение Go; числа возвращаются как json.Number
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return json.Number(v.str)
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, it := range v.list {
			out[i] = it.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, it := range v.m {
			out[k] = it.Interface()
		}
		return out
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindNumber:
		return []byte(v.str), nil
	case KindList:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, it := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			data, err := it.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			data, err := v.m[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseParams разбирает JSON-объект параметров, сохраняя точную запись чисел
func ParseParams(data []byte) (Params, error) {
	params := Params{}
	if len(bytes.TrimSpace(data)) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	return params, nil
}

// Present параметр передан и не равен null
func (p Params) Present(name string) bool {
	v, ok := p[name]
	return ok && !v.IsNull()
}
