package openapitools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// maxResponseBytes bounds how much of a downstream response body is read.
const maxResponseBytes = 16 << 20

var errResponseNotJSON = errors.New("response not JSON")

// Executor performs the HTTP calls behind tools. It caches one Document per
// base URL; a later Initialize for the same base URL replaces the entry.
type Executor struct {
	client  *http.Client
	logger  hclog.Logger
	metrics *Metrics

	mu    sync.RWMutex
	specs map[string]*Document
}

// NewExecutor returns an executor. It honours WithHTTPClient, WithLogger and
// WithMetrics.
func NewExecutor(opts ...Option) *Executor {
	o := newOptions(opts)
	return &Executor{
		client:  o.client,
		logger:  o.logger.Named("executor"),
		metrics: o.metrics,
		specs:   make(map[string]*Document),
	}
}

// Initialize caches doc under baseURL, replacing any earlier document.
func (e *Executor) Initialize(baseURL string, doc *Document) {
	e.mu.Lock()
	_, replaced := e.specs[baseURL]
	e.specs[baseURL] = doc
	e.mu.Unlock()

	e.logger.Debug("document cached", "base_url", baseURL, "replaced", replaced)
}

// Forget drops the cached document for baseURL.
func (e *Executor) Forget(baseURL string) {
	e.mu.Lock()
	delete(e.specs, baseURL)
	e.mu.Unlock()
}

// Document returns the cached document for baseURL.
func (e *Executor) Document(baseURL string) (*Document, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	doc, ok := e.specs[baseURL]
	return doc, ok
}

// Execute looks up toolName in the document cached for baseURL and performs
// the call. It returns ErrSpecNotInitialized, ErrOperationNotFound, or an
// *ExternalAPIError for downstream failures.
func (e *Executor) Execute(ctx context.Context, baseURL, toolName string, args map[string]interface{}) (interface{}, error) {
	doc, ok := e.Document(baseURL)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSpecNotInitialized, baseURL)
	}

	op, ok := doc.lookup(toolName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, toolName)
	}

	return e.Do(ctx, baseURL, op, args)
}

// Do performs exactly one HTTP request for op. A 2xx or 3xx response is
// decoded as JSON; an empty success body yields nil.
func (e *Executor) Do(ctx context.Context, baseURL string, op Operation, args map[string]interface{}) (interface{}, error) {
	tool := op.ToolName()
	start := time.Now()

	result, outcome, err := e.do(ctx, baseURL, op, args)
	e.metrics.observe(tool, outcome, time.Since(start))

	if err != nil {
		e.logger.Debug("tool call failed", "tool", tool, "outcome", outcome, "error", err)
		return nil, err
	}
	e.logger.Trace("tool call succeeded", "tool", tool, "elapsed", time.Since(start))
	return result, nil
}

func (e *Executor) do(ctx context.Context, baseURL string, op Operation, args map[string]interface{}) (interface{}, string, error) {
	if args == nil {
		args = map[string]interface{}{}
	}

	req, err := buildRequest(ctx, baseURL, op, args, e.logger)
	if err != nil {
		return nil, OutcomeInvalidArguments, err
	}
	method, target := req.Method, req.URL.String()

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, OutcomeTransportError, &ExternalAPIError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, OutcomeTransportError, &ExternalAPIError{Method: method, URL: target, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 399 {
		return nil, OutcomeHTTPError, &ExternalAPIError{Method: method, URL: target, StatusCode: resp.StatusCode, Body: string(body)}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, OutcomeSuccess, nil
	}

	var result interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, OutcomeDecodeError, &ExternalAPIError{
			Method:     method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        errResponseNotJSON,
		}
	}
	return result, OutcomeSuccess, nil
}
