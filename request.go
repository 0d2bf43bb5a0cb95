package openapitools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// buildRequest maps args onto op and returns the HTTP request to send.
// Only arguments whose names match a declared parameter or body property
// are used; cookie parameters are dropped.
func buildRequest(ctx context.Context, baseURL string, op Operation, args map[string]interface{}, logger hclog.Logger) (*http.Request, error) {
	path := op.Path
	query := url.Values{}
	header := http.Header{}

	for _, param := range op.Parameters {
		value, ok := args[param.Name]
		if !ok || value == nil {
			continue
		}

		switch param.In {
		case InPath:
			path = strings.ReplaceAll(path, "{"+param.Name+"}", url.PathEscape(stringify(value)))
		case InQuery:
			addValues(query, param.Name, value)
		case InHeader:
			header.Set(param.Name, stringify(value))
		case InCookie:
			logger.Debug("cookie parameter dropped", "operation", op.ToolName(), "parameter", param.Name)
		}
	}

	body, contentType, err := encodeBody(op, args)
	if err != nil {
		return nil, err
	}

	target, err := url.Parse(baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("%w: bad request url %q: %v", ErrInvalidArguments, baseURL+path, err)
	}
	if len(query) > 0 {
		merged := target.Query()
		for key, values := range query {
			for _, v := range values {
				merged.Add(key, v)
			}
		}
		target.RawQuery = merged.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(op.Method), target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	for key, values := range header {
		req.Header[key] = values
	}
	req.Header.Set("Accept", MediaTypeJSON)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// encodeBody builds the request body. A JSON body wins over a form body when
// both are declared. A nil reader means no body is sent.
func encodeBody(op Operation, args map[string]interface{}) (io.Reader, string, error) {
	if op.RequestBody == nil {
		return nil, "", nil
	}

	if schema, ok := op.RequestBody.Content[MediaTypeJSON]; ok {
		var payload interface{}
		if isObjectSchema(schema) {
			payload = pickProperties(schema, args)
		} else {
			value := args["body"]
			if value == nil {
				return nil, "", nil
			}
			payload = value
		}

		data, err := json.Marshal(payload)
		if err != nil {
			return nil, "", fmt.Errorf("%w: encode json body: %v", ErrInvalidArguments, err)
		}
		return bytes.NewReader(data), MediaTypeJSON, nil
	}

	if schema, ok := op.RequestBody.Content[MediaTypeForm]; ok {
		form := url.Values{}
		if isObjectSchema(schema) {
			fields := pickProperties(schema, args)
			names := make([]string, 0, len(fields))
			for name := range fields {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				addValues(form, name, fields[name])
			}
		}
		return strings.NewReader(form.Encode()), MediaTypeForm, nil
	}

	return nil, "", nil
}

// pickProperties copies the declared properties of schema present in args.
func pickProperties(schema map[string]interface{}, args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for name := range extractProperties(schema) {
		if value, ok := args[name]; ok && value != nil {
			out[name] = value
		}
	}
	return out
}

// addValues adds value under key, repeating the key for each list element.
func addValues(values url.Values, key string, value interface{}) {
	if value == nil {
		return
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if _, isBytes := value.([]byte); !isBytes {
			for i := 0; i < rv.Len(); i++ {
				values.Add(key, stringify(rv.Index(i).Interface()))
			}
			return
		}
	}
	values.Add(key, stringify(value))
}
