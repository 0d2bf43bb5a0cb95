package openapitools

import (
	"context"

	"github.com/hashicorp/go-hclog"
)

// Conversion is the result of converting one OpenAPI document.
type Conversion struct {
	BaseURL  string
	Document *Document
	Tools    []BoundTool
}

// Converter loads documents and synthesizes one tool per operation.
type Converter struct {
	loader   *Loader
	executor *Executor
	logger   hclog.Logger
}

// NewConverter returns a converter whose tools execute through exec. Options
// are passed to the underlying Loader.
func NewConverter(exec *Executor, opts ...Option) *Converter {
	o := newOptions(opts)
	if exec == nil {
		exec = NewExecutor(opts...)
	}
	return &Converter{
		loader:   NewLoader(opts...),
		executor: exec,
		logger:   o.logger.Named("converter"),
	}
}

// Executor returns the executor the converter's tools use.
func (c *Converter) Executor() *Executor { return c.executor }

// Convert loads source and returns its tools. The document is cached in the
// executor under its base URL before any tool is returned.
func (c *Converter) Convert(ctx context.Context, source string, typ SourceType) (*Conversion, error) {
	doc, err := c.loader.Load(ctx, source, typ)
	if err != nil {
		return nil, err
	}
	return c.ConvertDocument(doc), nil
}

// ConvertDocument synthesizes tools for an already loaded document.
func (c *Converter) ConvertDocument(doc *Document) *Conversion {
	baseURL := doc.BaseURL()
	c.executor.Initialize(baseURL, doc)

	ops := doc.Operations()
	conv := &Conversion{
		BaseURL:  baseURL,
		Document: doc,
		Tools:    make([]BoundTool, 0, len(ops)),
	}
	for _, op := range ops {
		tool := Synthesize(c.executor, baseURL, op)
		c.logger.Debug("tool synthesized", "tool", tool.Name, "method", op.Method, "path", op.Path)
		conv.Tools = append(conv.Tools, tool)
	}

	c.logger.Info("document converted", "title", doc.Title(), "base_url", baseURL, "tools", len(conv.Tools))
	return conv
}
