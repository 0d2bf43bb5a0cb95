package openapitools

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Helpers for working with JSON-schema nodes and argument values held as
// map[string]interface{} trees.

// schemaType returns the schema's "type" keyword, or "" when it has none.
// OpenAPI 3.1 style type lists report their first non-null entry.
func schemaType(schema map[string]interface{}) string {
	switch t := schema["type"].(type) {
	case string:
		return t
	case []interface{}:
		for _, item := range t {
			if s, ok := item.(string); ok && s != "null" {
				return s
			}
		}
	case []string:
		for _, s := range t {
			if s != "null" {
				return s
			}
		}
	}
	return ""
}

// isObjectSchema reports whether schema declares type "object".
func isObjectSchema(schema map[string]interface{}) bool {
	return schemaType(schema) == "object"
}

// cloneSchema deep-copies a schema node. A nil schema clones to an empty map.
func cloneSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{}
	}
	return cloneValue(schema).(map[string]interface{})
}

func cloneValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			out[k] = cloneValue(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			out[i] = cloneValue(child)
		}
		return out
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	default:
		return v
	}
}

// stringify renders an argument value the way it appears in a path segment,
// query string, header or form field. Whole numbers print without a fraction.
// Composite values are JSON-encoded.
func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		switch reflect.ValueOf(v).Kind() {
		case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
			if data, err := json.Marshal(v); err == nil {
				return string(data)
			}
		}
		return fmt.Sprint(v)
	}
}

// jsonCompatible converts value into the plain JSON shapes produced by
// encoding/json: map[string]interface{}, []interface{}, float64, string, bool, nil.
func jsonCompatible(value interface{}) (interface{}, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
