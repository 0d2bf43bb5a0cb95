package openapitools

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// BuildInputSchema normalizes an operation into one flat object schema.
//
// Parameters are added first in declaration order, then the JSON request body.
// An object body has its properties spliced into the top level; any other body
// becomes a single "body" property. On a name collision the later write wins,
// so a body property replaces a parameter of the same name. Other media types
// contribute nothing.
//
// The result has the shape
//
//	{
//	  "type": "object",
//	  "properties": { ... },
//	  "required": [ ... ]
//	}
//
// where required never contains duplicates.
func BuildInputSchema(op Operation) map[string]interface{} {
	properties, required := buildParametersSchema(op.Parameters)

	if op.RequestBody != nil {
		if body, ok := op.RequestBody.Content[MediaTypeJSON]; ok {
			if isObjectSchema(body) {
				for name, prop := range extractProperties(body) {
					properties[name] = cloneValue(prop)
				}
				for _, name := range extractRequired(body) {
					required = appendUnique(required, name)
				}
			} else {
				properties["body"] = cloneSchema(body)
				if op.RequestBody.Required {
					required = appendUnique(required, "body")
				}
			}
		}
	}

	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func buildParametersSchema(params []Parameter) (map[string]interface{}, []string) {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, param := range params {
		schema := cloneSchema(param.Schema)
		if _, ok := schema["description"]; !ok && param.Description != "" {
			schema["description"] = param.Description
		}

		properties[param.Name] = schema
		if param.Required {
			required = appendUnique(required, param.Name)
		}
	}

	return properties, required
}

func appendUnique(list []string, value string) []string {
	if containsString(list, value) {
		return list
	}
	return append(list, value)
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

// ValidateToolParameters checks params against a schema built by
// BuildInputSchema. Every required field must be present and non-null, and
// every supplied declared field must match its schema's JSON type when one is
// given. Undeclared fields are ignored. Failures wrap ErrInvalidArguments.
func ValidateToolParameters(schema map[string]interface{}, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	properties := extractProperties(schema)
	if err := validateRequiredParams(extractRequired(schema), params); err != nil {
		return err
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := params[name]
		if value == nil {
			continue
		}
		prop, ok := properties[name].(map[string]interface{})
		if !ok {
			continue
		}
		if err := checkType(name, value, prop); err != nil {
			return err
		}
	}
	return nil
}

func extractProperties(schema map[string]interface{}) map[string]interface{} {
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return nil
	}
	return props
}

func extractRequired(schema map[string]interface{}) []string {
	requiredRaw, ok := schema["required"]
	if !ok {
		return nil
	}

	switch v := requiredRaw.(type) {
	case []string:
		return v
	case []interface{}:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				result = append(result, str)
			}
		}
		return result
	default:
		return nil
	}
}

func validateRequiredParams(required []string, params map[string]interface{}) error {
	for _, name := range required {
		value, exists := params[name]
		if !exists || value == nil {
			return fmt.Errorf("%w: required field '%s' is missing", ErrInvalidArguments, name)
		}
	}
	return nil
}

func checkType(name string, value interface{}, prop map[string]interface{}) error {
	paramType := schemaType(prop)
	if paramType == "" {
		return nil
	}

	ok := true
	switch paramType {
	case "string":
		_, ok = value.(string)
	case "boolean":
		_, ok = value.(bool)
	case "integer":
		ok = isInteger(value)
	case "number":
		ok = isNumber(value)
	case "array":
		kind := reflect.ValueOf(value).Kind()
		ok = kind == reflect.Slice || kind == reflect.Array
	case "object":
		ok = reflect.ValueOf(value).Kind() == reflect.Map
	}

	if !ok {
		return fmt.Errorf("%w: field '%s' must be of type %s, got %T", ErrInvalidArguments, name, paramType, value)
	}
	return nil
}

func isNumber(value interface{}) bool {
	switch v := value.(type) {
	case json.Number:
		_, err := v.Float64()
		return err == nil
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

func isInteger(value interface{}) bool {
	switch v := value.(type) {
	case json.Number:
		_, err := v.Int64()
		return err == nil
	case float64:
		return v == math.Trunc(v) && !math.IsInf(v, 0)
	case float32:
		return float64(v) == math.Trunc(float64(v))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}
