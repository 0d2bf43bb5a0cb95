package openapitools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

// SourceType tells the loader how to interpret a document source.
type SourceType string

const (
	SourceURL    SourceType = "URL"
	SourceBase64 SourceType = "BASE64"
)

// maxDocumentBytes bounds how much of a fetched document is read.
const maxDocumentBytes = 32 << 20

var supportedOpenAPIVersions, _ = semver.NewConstraint(">= 3.0.0-0, < 4.0.0-0")

// ParseSourceType accepts "URL" or "BASE64" in any letter case.
func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(strings.ToUpper(strings.TrimSpace(s))) {
	case SourceURL:
		return SourceURL, nil
	case SourceBase64:
		return SourceBase64, nil
	default:
		return "", invalidSpec("unsupported source type %q (must be URL or BASE64)", s)
	}
}

// Loader turns a document source into a Document.
type Loader struct {
	client *http.Client
	logger hclog.Logger
	strict bool
	cycles CyclePolicy
}

// NewLoader returns a loader. It honours WithHTTPClient, WithLogger,
// WithStrictValidation and WithCyclePolicy.
func NewLoader(opts ...Option) *Loader {
	o := newOptions(opts)
	return &Loader{
		client: o.client,
		logger: o.logger.Named("loader"),
		strict: o.strict,
		cycles: o.cyclePolicy,
	}
}

// Load fetches or decodes source, parses it and builds the operation index.
// Every failure is reported as ErrInvalidSpec.
func (l *Loader) Load(ctx context.Context, source string, typ SourceType) (*Document, error) {
	raw, err := l.Fetch(ctx, source, typ)
	if err != nil {
		return nil, err
	}
	return l.Parse(ctx, raw)
}

// Fetch returns the raw document bytes for source without parsing them.
func (l *Loader) Fetch(ctx context.Context, source string, typ SourceType) ([]byte, error) {
	t, err := ParseSourceType(string(typ))
	if err != nil {
		return nil, err
	}

	switch t {
	case SourceURL:
		return l.fetchURL(ctx, source)
	default:
		return decodeBase64(source)
	}
}

func (l *Loader) fetchURL(ctx context.Context, source string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, invalidSpec("bad source url %q: %v", source, err)
	}
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9, */*;q=0.5")

	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, invalidSpec("fetch %s: %v", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, invalidSpec("fetch %s: unexpected status %d", source, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, invalidSpec("read %s: %v", source, err)
	}
	l.logger.Debug("fetched document", "url", source, "bytes", len(raw), "elapsed", time.Since(start))
	return raw, nil
}

func decodeBase64(source string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, source)

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if raw, err := enc.DecodeString(cleaned); err == nil {
			return raw, nil
		}
	}
	return nil, invalidSpec("source is not valid base64")
}

// Parse decodes raw YAML or JSON and builds a Document from it.
func (l *Loader) Parse(ctx context.Context, raw []byte) (*Document, error) {
	tree, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}

	l.checkVersion(tree)

	if l.strict {
		if err := validateStrict(ctx, raw); err != nil {
			return nil, err
		}
	}

	return NewDocument(tree, l.logger, l.cycles)
}

// decodeDocument parses permissively: payloads that look like JSON are tried
// as JSON first, everything else (and failed JSON) goes through YAML.
func decodeDocument(raw []byte) (map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, invalidSpec("document is empty")
	}

	var parsed interface{}
	decoded := false
	if trimmed[0] == '{' || trimmed[0] == '[' {
		decoded = json.Unmarshal(trimmed, &parsed) == nil
	}
	if !decoded {
		if err := yaml.Unmarshal(trimmed, &parsed); err != nil {
			return nil, invalidSpec("document is neither JSON nor YAML: %v", err)
		}
	}

	tree, ok := normalizeYAML(parsed).(map[string]interface{})
	if !ok {
		return nil, invalidSpec("document root must be a mapping, got %T", parsed)
	}
	return tree, nil
}

// normalizeYAML converts the map[interface{}]interface{} nodes yaml.v3 produces
// for non-string keys (such as "200:" response codes) into string-keyed maps.
func normalizeYAML(node interface{}) interface{} {
	switch v := node.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			out[k] = normalizeYAML(child)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			out[fmt.Sprint(k)] = normalizeYAML(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			out[i] = normalizeYAML(child)
		}
		return out
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return v
	}
}

func (l *Loader) checkVersion(tree map[string]interface{}) {
	raw, ok := tree["openapi"]
	if !ok {
		if _, swagger := tree["swagger"]; swagger {
			l.logger.Warn("swagger 2.0 documents are processed as-is", "swagger", tree["swagger"])
		} else {
			l.logger.Warn("document has no openapi version field")
		}
		return
	}

	version, err := semver.NewVersion(fmt.Sprint(raw))
	if err != nil {
		l.logger.Warn("unparseable openapi version", "openapi", raw, "error", err)
		return
	}
	if !supportedOpenAPIVersions.Check(version) {
		l.logger.Warn("unsupported openapi version, processing anyway", "openapi", version.String())
	}
}

func validateStrict(ctx context.Context, raw []byte) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	loader.Context = ctx

	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return invalidSpec("strict load: %v", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return invalidSpec("strict validation: %v", err)
	}
	return nil
}
