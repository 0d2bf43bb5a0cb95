package openapitools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Media types the request builder understands.
const (
	MediaTypeJSON = "application/json"
	MediaTypeForm = "application/x-www-form-urlencoded"
)

// Parameter locations.
const (
	InPath   = "path"
	InQuery  = "query"
	InHeader = "header"
	InCookie = "cookie"
)

// supportedMethods lists the operation keys turned into tools, in index order.
var supportedMethods = []string{"get", "put", "post", "delete", "patch"}

// Parameter is one resolved OpenAPI parameter.
type Parameter struct {
	Name        string
	In          string
	Required    bool
	Description string
	Schema      map[string]interface{}
}

// RequestBody is a resolved requestBody. Content maps each media type the
// request builder understands to its resolved schema; other media types are
// left out.
type RequestBody struct {
	Required bool
	Content  map[string]map[string]interface{}
}

// Operation is one method under one path, with every schema already resolved.
// It is immutable once its Document is built: Document hands out deep copies.
type Operation struct {
	Path        string
	Method      string
	OperationID string
	Summary     string
	Description string
	Parameters  []Parameter
	RequestBody *RequestBody
}

// Clone returns a deep copy of op; no parameter or schema is shared.
func (op Operation) Clone() Operation {
	out := op
	if op.Parameters != nil {
		out.Parameters = make([]Parameter, len(op.Parameters))
		for i, p := range op.Parameters {
			p.Schema = cloneSchema(p.Schema)
			out.Parameters[i] = p
		}
	}
	if op.RequestBody != nil {
		body := &RequestBody{Required: op.RequestBody.Required, Content: make(map[string]map[string]interface{}, len(op.RequestBody.Content))}
		for mediaType, schema := range op.RequestBody.Content {
			body.Content[mediaType] = cloneSchema(schema)
		}
		out.RequestBody = body
	}
	return out
}

// ToolName derives the tool name for the operation.
func (op Operation) ToolName() string {
	return DeriveToolName(op.Method, op.Path, op.OperationID)
}

// ToolDescription is the description, else the summary, else "".
func (op Operation) ToolDescription() string {
	if op.Description != "" {
		return op.Description
	}
	return op.Summary
}

// DeriveToolName returns operationID when set, otherwise "<method>_<path>"
// with every "/" replaced by "_" and outer underscores trimmed.
func DeriveToolName(method, path, operationID string) string {
	if operationID != "" {
		return operationID
	}
	name := strings.ToLower(method) + "_" + strings.Trim(strings.ReplaceAll(path, "/", "_"), "_")
	return strings.Trim(name, "_")
}

// Document is a parsed OpenAPI document plus its operation index.
type Document struct {
	tree       map[string]interface{}
	baseURL    string
	operations []Operation
	byName     map[string]int
}

// NewDocument resolves every operation of tree and indexes them by tool name.
// Only parameter and request body schemas are resolved; responses and other
// operation fields never reach the resolver. When two operations derive the
// same name the first in index order wins for name lookups; both are still
// listed by Operations.
func NewDocument(tree map[string]interface{}, logger hclog.Logger, policy CyclePolicy) (*Document, error) {
	if tree == nil {
		return nil, invalidSpec("document is empty")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	r := newResolver(tree, logger.Named("resolver"), policy)
	doc := &Document{
		tree:    tree,
		baseURL: serverURL(tree),
		byName:  make(map[string]int),
	}

	paths, _ := tree["paths"].(map[string]interface{})
	for _, path := range sortedKeys(paths) {
		item, err := r.deref(paths[path], nil)
		if err != nil {
			return nil, fmt.Errorf("path %s: %w", path, err)
		}

		shared, err := buildParameters(r, item["parameters"])
		if err != nil {
			return nil, fmt.Errorf("path %s: %w", path, err)
		}

		for _, method := range supportedMethods {
			raw, ok := item[method].(map[string]interface{})
			if !ok {
				continue
			}
			op, err := buildOperation(r, path, method, raw, shared)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", strings.ToUpper(method), path, err)
			}

			name := op.ToolName()
			if _, dup := doc.byName[name]; dup {
				logger.Warn("duplicate tool name in document", "tool", name, "path", path, "method", method)
			} else {
				doc.byName[name] = len(doc.operations)
			}
			doc.operations = append(doc.operations, op)
		}
	}

	logger.Debug("document indexed", "base_url", doc.baseURL, "operations", len(doc.operations))
	return doc, nil
}

// BaseURL is servers[0].url, or "" when the document declares no servers.
func (d *Document) BaseURL() string { return d.baseURL }

// Operations returns every operation in index order.
func (d *Document) Operations() []Operation {
	out := make([]Operation, len(d.operations))
	for i, op := range d.operations {
		out[i] = op.Clone()
	}
	return out
}

// Operation finds the operation whose derived tool name is name.
func (d *Document) Operation(name string) (Operation, bool) {
	op, ok := d.lookup(name)
	if !ok {
		return Operation{}, false
	}
	return op.Clone(), true
}

// lookup is Operation without the copy, for callers that only read.
func (d *Document) lookup(name string) (Operation, bool) {
	i, ok := d.byName[name]
	if !ok {
		return Operation{}, false
	}
	return d.operations[i], true
}

// Version is the document's openapi field.
func (d *Document) Version() string {
	v, _ := d.tree["openapi"].(string)
	return v
}

// Title is info.title.
func (d *Document) Title() string {
	info, _ := d.tree["info"].(map[string]interface{})
	title, _ := info["title"].(string)
	return title
}

func serverURL(tree map[string]interface{}) string {
	servers, _ := tree["servers"].([]interface{})
	if len(servers) == 0 {
		return ""
	}
	first, _ := servers[0].(map[string]interface{})
	u, _ := first["url"].(string)
	return u
}

func buildOperation(r *resolver, path, method string, raw map[string]interface{}, shared []Parameter) (Operation, error) {
	op := Operation{
		Path:   path,
		Method: method,
	}
	op.OperationID, _ = raw["operationId"].(string)
	op.Summary, _ = raw["summary"].(string)
	op.Description, _ = raw["description"].(string)

	own, err := buildParameters(r, raw["parameters"])
	if err != nil {
		return Operation{}, err
	}
	op.Parameters = mergeParameters(shared, own)

	if rawBody, ok := raw["requestBody"]; ok && rawBody != nil {
		body, err := buildRequestBody(r, rawBody)
		if err != nil {
			return Operation{}, err
		}
		op.RequestBody = body
	}

	return op, nil
}

func buildParameters(r *resolver, raw interface{}) ([]Parameter, error) {
	list, _ := raw.([]interface{})
	params := make([]Parameter, 0, len(list))
	for i, item := range list {
		m, err := r.deref(item, nil)
		if err != nil {
			return nil, err
		}

		name, _ := m["name"].(string)
		in, _ := m["in"].(string)
		if name == "" || in == "" {
			return nil, invalidSpec("parameter %d: name and in are required", i)
		}

		p := Parameter{Name: name, In: in}
		p.Required, _ = m["required"].(bool)
		p.Description, _ = m["description"].(string)
		if p.Schema, err = r.resolveMap(m["schema"]); err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		params = append(params, p)
	}
	return params, nil
}

// mergeParameters puts path-level parameters first. A shared parameter is
// dropped when the operation declares one with the same name and location.
func mergeParameters(shared, own []Parameter) []Parameter {
	if len(shared) == 0 {
		return own
	}

	merged := make([]Parameter, 0, len(shared)+len(own))
	overridden := make(map[string]bool, len(own))
	for _, p := range own {
		overridden[p.In+"\x00"+p.Name] = true
	}
	for _, p := range shared {
		if !overridden[p.In+"\x00"+p.Name] {
			merged = append(merged, p)
		}
	}
	return append(merged, own...)
}

func buildRequestBody(r *resolver, raw interface{}) (*RequestBody, error) {
	m, err := r.deref(raw, nil)
	if err != nil {
		return nil, err
	}

	body := &RequestBody{Content: make(map[string]map[string]interface{})}
	body.Required, _ = m["required"].(bool)

	content, _ := m["content"].(map[string]interface{})
	for _, mediaType := range []string{MediaTypeJSON, MediaTypeForm} {
		rawMedia, ok := content[mediaType]
		if !ok {
			continue
		}
		media, err := r.deref(rawMedia, nil)
		if err != nil {
			return nil, err
		}
		schema, err := r.resolveMap(media["schema"])
		if err != nil {
			return nil, fmt.Errorf("%s body: %w", mediaType, err)
		}
		body.Content[mediaType] = schema
	}
	return body, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
