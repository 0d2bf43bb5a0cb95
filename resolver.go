package openapitools

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-openapi/jsonpointer"
	"github.com/hashicorp/go-hclog"
)

// CyclePolicy decides what happens when a $ref chain refers back to itself.
type CyclePolicy int

const (
	// CycleFail rejects the document with ErrInvalidSpec wrapping ErrCircularRef.
	CycleFail CyclePolicy = iota
	// CycleEmpty replaces the cyclic node with an empty object and logs a warning.
	CycleEmpty
)

func (p CyclePolicy) String() string {
	if p == CycleEmpty {
		return "empty"
	}
	return "fail"
}

// maxRefDepth bounds the length of a single $ref chain.
const maxRefDepth = 64

// resolver inlines internal $ref pointers against one document tree. It is
// created per document and passed explicitly to whatever needs resolution.
type resolver struct {
	doc    map[string]interface{}
	logger hclog.Logger
	policy CyclePolicy
}

func newResolver(doc map[string]interface{}, logger hclog.Logger, policy CyclePolicy) *resolver {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &resolver{doc: doc, logger: logger, policy: policy}
}

// resolve returns a copy of node with every $ref inlined. The result never
// shares maps or slices with the document tree.
func (r *resolver) resolve(node interface{}) (interface{}, error) {
	return r.walk(node, nil)
}

// resolveMap is resolve for nodes that must be mappings. Anything else
// resolves to an empty map.
func (r *resolver) resolveMap(node interface{}) (map[string]interface{}, error) {
	resolved, err := r.resolve(node)
	if err != nil {
		return nil, err
	}
	m, ok := resolved.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}, nil
	}
	return m, nil
}

func (r *resolver) walk(node interface{}, chain []string) (interface{}, error) {
	switch v := node.(type) {
	case map[string]interface{}:
		if ref, ok := v["$ref"].(string); ok {
			return r.follow(ref, v, chain)
		}
		out := make(map[string]interface{}, len(v))
		for key, child := range v {
			resolved, err := r.walk(child, chain)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil

	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			resolved, err := r.walk(child, chain)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	default:
		return v, nil
	}
}

// follow resolves one $ref node. Sibling keys override keys of the target.
func (r *resolver) follow(ref string, node map[string]interface{}, chain []string) (interface{}, error) {
	if containsString(chain, ref) || len(chain) >= maxRefDepth {
		return r.cycle(ref, chain)
	}

	resolved := map[string]interface{}{}
	target, ok := r.lookup(ref)
	if !ok {
		r.logger.Warn("unresolvable $ref replaced with empty object", "ref", ref)
	} else {
		next := append(chain[:len(chain):len(chain)], ref)
		out, err := r.walk(target, next)
		if err != nil {
			return nil, err
		}
		m, isMap := out.(map[string]interface{})
		if !isMap {
			if len(node) == 1 {
				return out, nil
			}
			r.logger.Warn("$ref with sibling keys points at a non-object", "ref", ref)
		} else {
			resolved = m
		}
	}

	for key, child := range node {
		if key == "$ref" {
			continue
		}
		out, err := r.walk(child, chain)
		if err != nil {
			return nil, err
		}
		resolved[key] = out
	}
	return resolved, nil
}

// deref follows a $ref on node itself without resolving anything below it.
// Sibling keys override keys of the target. The result is a shallow copy and
// still shares its children with the document tree.
func (r *resolver) deref(node interface{}, chain []string) (map[string]interface{}, error) {
	m, ok := node.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}, nil
	}

	out := map[string]interface{}{}
	if ref, isRef := m["$ref"].(string); isRef {
		if containsString(chain, ref) || len(chain) >= maxRefDepth {
			if _, err := r.cycle(ref, chain); err != nil {
				return nil, err
			}
		} else if target, found := r.lookup(ref); found {
			resolved, err := r.deref(target, append(chain[:len(chain):len(chain)], ref))
			if err != nil {
				return nil, err
			}
			out = resolved
		} else {
			r.logger.Warn("unresolvable $ref replaced with empty object", "ref", ref)
		}
	}

	for key, child := range m {
		if key != "$ref" {
			out[key] = child
		}
	}
	return out, nil
}

func (r *resolver) cycle(ref string, chain []string) (interface{}, error) {
	path := strings.Join(append(chain[:len(chain):len(chain)], ref), " -> ")
	if r.policy == CycleEmpty {
		r.logger.Warn("circular $ref replaced with empty object", "ref", ref, "chain", path)
		return map[string]interface{}{}, nil
	}
	return nil, fmt.Errorf("%w: %w: %s", ErrInvalidSpec, ErrCircularRef, path)
}

// lookup walks a local "#/a/b" pointer. External references are not followed.
func (r *resolver) lookup(ref string) (interface{}, bool) {
	fragment, ok := strings.CutPrefix(ref, "#")
	if !ok {
		return nil, false
	}
	if unescaped, err := url.PathUnescape(fragment); err == nil {
		fragment = unescaped
	}

	ptr, err := jsonpointer.New(fragment)
	if err != nil {
		return nil, false
	}
	target, _, err := ptr.Get(r.doc)
	if err != nil {
		return nil, false
	}
	return target, true
}
