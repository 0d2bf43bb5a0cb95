package openapitools

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"text/template"
)

//go:embed templates/*.tmpl
var builtinTemplates embed.FS

// CatalogTemplate is the built-in markdown catalog template.
const CatalogTemplate = "templates/catalog.md.tmpl"

// CatalogRenderer renders tool catalogs from text templates. Parsed
// templates are cached per file system and name.
type CatalogRenderer struct {
	cache map[string]*template.Template
	mu    sync.RWMutex
}

// NewCatalogRenderer creates a new renderer instance.
func NewCatalogRenderer() *CatalogRenderer {
	return &CatalogRenderer{
		cache: make(map[string]*template.Template),
	}
}

// CatalogEntry is one tool as seen by catalog templates.
type CatalogEntry struct {
	Name        string
	Description string
	Parameters  []CatalogParameter
}

// CatalogParameter is one input schema property as seen by catalog templates.
type CatalogParameter struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// NewCatalogEntries flattens tools for templates. Parameters are sorted with
// required ones first.
func NewCatalogEntries(tools []Tool) []CatalogEntry {
	entries := make([]CatalogEntry, 0, len(tools))
	for _, tool := range tools {
		required := extractRequired(tool.InputSchema)
		entry := CatalogEntry{Name: tool.Name, Description: strings.TrimSpace(tool.Description)}

		for name, raw := range extractProperties(tool.InputSchema) {
			prop, _ := raw.(map[string]interface{})
			desc, _ := prop["description"].(string)
			typ := schemaType(prop)
			if typ == "" {
				typ = "any"
			}
			entry.Parameters = append(entry.Parameters, CatalogParameter{
				Name:        name,
				Type:        typ,
				Required:    containsString(required, name),
				Description: strings.Join(strings.Fields(desc), " "),
			})
		}
		sort.Slice(entry.Parameters, func(i, j int) bool {
			a, b := entry.Parameters[i], entry.Parameters[j]
			if a.Required != b.Required {
				return a.Required
			}
			return a.Name < b.Name
		})
		entries = append(entries, entry)
	}
	return entries
}

// Render renders templateName from templateFS with data.
func (r *CatalogRenderer) Render(templateFS fs.FS, templateName string, data interface{}) (string, error) {
	tmpl, err := r.getOrParseTemplate(templateFS, templateName)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %q: %w", templateName, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %q: %w", templateName, err)
	}

	return buf.String(), nil
}

// RenderCatalog renders tools with the built-in markdown template.
func (r *CatalogRenderer) RenderCatalog(tools []Tool) (string, error) {
	return r.Render(builtinTemplates, CatalogTemplate, NewCatalogEntries(tools))
}

// ClearCache clears the template cache.
func (r *CatalogRenderer) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*template.Template)
}

// getOrParseTemplate retrieves a template from cache or parses it if not cached.
func (r *CatalogRenderer) getOrParseTemplate(templateFS fs.FS, templateName string) (*template.Template, error) {
	key := fmt.Sprintf("%p:%s", templateFS, templateName)
	if _, builtin := templateFS.(embed.FS); builtin {
		key = "builtin:" + templateName
	}

	r.mu.RLock()
	if tmpl, exists := r.cache[key]; exists {
		r.mu.RUnlock()
		return tmpl, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check in case another goroutine parsed it while we were waiting
	if tmpl, exists := r.cache[key]; exists {
		return tmpl, nil
	}

	content, err := fs.ReadFile(templateFS, templateName)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	tmpl, err := template.New(templateName).Funcs(template.FuncMap{
		"code": func(s string) string { return "`" + s + "`" },
	}).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	r.cache[key] = tmpl
	return tmpl, nil
}

// DefaultRenderer is the renderer used by RenderCatalog.
var DefaultRenderer = NewCatalogRenderer()

// RenderCatalog renders tools as markdown using DefaultRenderer.
func RenderCatalog(tools []Tool) (string, error) {
	return DefaultRenderer.RenderCatalog(tools)
}
