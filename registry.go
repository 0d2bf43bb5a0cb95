package openapitools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
)

// loadConcurrency bounds how many configured sources are fetched at once.
const loadConcurrency = 4

// RegistrationRequest asks the registry to convert and register one document.
type RegistrationRequest struct {
	// Name identifies the source for persistence. Optional.
	Name        string
	Source      string
	Type        SourceType
	Description string

	Strict      bool
	AllowCycles bool

	RateLimit float64
	Burst     int
	Timeout   time.Duration

	// Descriptions overrides tool descriptions by tool name.
	Descriptions map[string]string
}

func (r RegistrationRequest) options() []Option {
	var opts []Option
	if r.Strict {
		opts = append(opts, WithStrictValidation())
	}
	if r.AllowCycles {
		opts = append(opts, WithCyclePolicy(CycleEmpty))
	}
	return opts
}

type registryEntry struct {
	tool    BoundTool
	source  string
	baseURL string
}

// Registry owns the set of registered tools and is the authority on tool name
// uniqueness. It is safe for concurrent use.
type Registry struct {
	executor *Executor
	opts     []Option
	store    *Store
	logger   hclog.Logger

	mu    sync.RWMutex
	tools map[string]*registryEntry
}

// NewRegistry returns an empty registry whose tools execute through exec.
// Options are passed on to every conversion; WithStore enables persistence.
func NewRegistry(exec *Executor, opts ...Option) *Registry {
	o := newOptions(opts)
	if exec == nil {
		exec = NewExecutor(opts...)
	}
	return &Registry{
		executor: exec,
		opts:     opts,
		store:    o.store,
		logger:   o.logger.Named("registry"),
		tools:    make(map[string]*registryEntry),
	}
}

// Register converts the document and registers all of its tools, or none of
// them. A name collision fails with ErrToolRegistration wrapping ErrToolExists.
// Load failures keep their ErrInvalidSpec identity. On success the request is
// persisted when the registry has a store and the request is named.
func (r *Registry) Register(ctx context.Context, req RegistrationRequest) ([]string, error) {
	conv, err := r.convert(ctx, req)
	if err != nil {
		return nil, err
	}

	names, err := r.add(req, conv)
	if err != nil {
		return nil, err
	}

	if r.store != nil && req.Name != "" {
		if _, err := r.store.Put(registrationFor(req)); err != nil {
			r.remove(names)
			return nil, fmt.Errorf("%w: persist %s: %v", ErrToolRegistration, req.Name, err)
		}
	}

	r.logger.Info("tools registered", "source", req.Name, "tools", len(names))
	return names, nil
}

func (r *Registry) convert(ctx context.Context, req RegistrationRequest) (*Conversion, error) {
	if req.Source == "" {
		return nil, fmt.Errorf("%w: source is required", ErrInvalidSpec)
	}
	typ := req.Type
	if typ == "" {
		typ = SourceURL
	}

	opts := append(append([]Option{}, r.opts...), req.options()...)
	conv, err := NewConverter(r.executor, opts...).Convert(ctx, req.Source, typ)
	if err != nil {
		if errors.Is(err, ErrInvalidSpec) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrToolRegistration, err)
	}
	return conv, nil
}

// add registers every tool of conv under one lock, failing without side
// effects on any collision. On failure the executor forgets conv's base URL
// unless a registered tool still uses it.
func (r *Registry) add(req RegistrationRequest, conv *Conversion) ([]string, error) {
	limiter := NewLimiter(req.RateLimit, req.Burst)

	r.mu.Lock()
	defer r.mu.Unlock()

	if req.Name != "" {
		for _, entry := range r.tools {
			if entry.source == req.Name {
				r.forgetUnusedLocked(conv.BaseURL)
				return nil, fmt.Errorf("%w: %w: source %q", ErrToolRegistration, ErrToolExists, req.Name)
			}
		}
	}

	seen := make(map[string]bool, len(conv.Tools))
	for _, tool := range conv.Tools {
		if _, exists := r.tools[tool.Name]; exists || seen[tool.Name] {
			r.forgetUnusedLocked(conv.BaseURL)
			return nil, fmt.Errorf("%w: %w: %q", ErrToolRegistration, ErrToolExists, tool.Name)
		}
		seen[tool.Name] = true
	}

	names := make([]string, 0, len(conv.Tools))
	for _, tool := range conv.Tools {
		if desc, ok := req.Descriptions[tool.Name]; ok {
			tool.Description = desc
		}
		if r.store != nil {
			if desc, ok := r.store.Description(tool.Name); ok {
				tool.Description = desc
			}
		}
		tool.Invoke = TimeLimited(RateLimited(tool.Invoke, limiter), req.Timeout)

		r.tools[tool.Name] = &registryEntry{tool: tool, source: req.Name, baseURL: conv.BaseURL}
		names = append(names, tool.Name)
	}
	return names, nil
}

func (r *Registry) remove(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		r.deleteLocked(name)
	}
}

// deleteLocked removes a tool and forgets its base URL once no tool uses it.
// Caller must hold the write lock.
func (r *Registry) deleteLocked(name string) {
	entry, ok := r.tools[name]
	if !ok {
		return
	}
	delete(r.tools, name)
	r.forgetUnusedLocked(entry.baseURL)
}

// forgetUnusedLocked drops baseURL from the executor cache when no registered
// tool uses it. Caller must hold the write lock.
func (r *Registry) forgetUnusedLocked(baseURL string) {
	for _, entry := range r.tools {
		if entry.baseURL == baseURL {
			return
		}
	}
	r.executor.Forget(baseURL)
}

// LoadConfig registers every configured source. Documents are fetched
// concurrently and registered in configuration order. A source that fails
// to load, or whose tools collide with registered ones, is skipped with a
// warning. Only context cancellation is returned as an error.
func (r *Registry) LoadConfig(ctx context.Context, cfg *Config) ([]string, error) {
	if cfg == nil {
		return nil, nil
	}

	conversions := make([]*Conversion, len(cfg.Sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, src := range cfg.Sources {
		i, src := i, src
		g.Go(func() error {
			conv, err := r.convert(gctx, src.Request())
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				r.logger.Warn("skipping source", "source", src.Name, "error", err)
				return nil
			}
			conversions[i] = conv
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var registered []string
	for i, src := range cfg.Sources {
		if conversions[i] == nil {
			continue
		}
		names, err := r.add(src.Request(), conversions[i])
		if err != nil {
			r.logger.Warn("skipping source", "source", src.Name, "error", err)
			continue
		}
		r.logger.Info("tools registered", "source", src.Name, "tools", len(names))
		registered = append(registered, names...)
	}
	return registered, nil
}

// Restore re-registers every registration persisted in the store. Failures
// are logged and skipped.
func (r *Registry) Restore(ctx context.Context) ([]string, error) {
	if r.store == nil {
		return nil, nil
	}

	var restored []string
	for _, reg := range r.store.All() {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		conv, err := r.convert(ctx, requestFor(reg))
		if err != nil {
			r.logger.Warn("skipping stored registration", "source", reg.Name, "error", err)
			continue
		}
		names, err := r.add(requestFor(reg), conv)
		if err != nil {
			r.logger.Warn("skipping stored registration", "source", reg.Name, "error", err)
			continue
		}
		restored = append(restored, names...)
	}
	return restored, nil
}

// List returns every registered tool ordered by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, entry := range r.tools {
		tools = append(tools, entry.tool.Tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Get returns the tool named name.
func (r *Registry) Get(name string) (BoundTool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.tools[name]
	if !ok {
		return BoundTool{}, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return entry.tool, nil
}

// Delete unregisters the tool named name. The stored registration of its
// source is dropped once the source has no tools left.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	entry, ok := r.tools[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	r.deleteLocked(name)
	sourceEmpty := entry.source != ""
	for _, other := range r.tools {
		if other.source == entry.source {
			sourceEmpty = false
			break
		}
	}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.ClearDescription(name); err != nil {
			return fmt.Errorf("%w: %v", ErrToolRegistration, err)
		}
		if sourceEmpty {
			if err := r.store.Delete(entry.source); err != nil {
				return fmt.Errorf("%w: %v", ErrToolRegistration, err)
			}
		}
	}

	r.logger.Info("tool deleted", "tool", name)
	return nil
}

// UpdateDescription replaces a tool's description and persists the override.
func (r *Registry) UpdateDescription(name, description string) (Tool, error) {
	r.mu.Lock()
	entry, ok := r.tools[name]
	if !ok {
		r.mu.Unlock()
		return Tool{}, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	previous := entry.tool.Description
	entry.tool.Description = description
	tool := entry.tool.Tool
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SetDescription(name, description); err != nil {
			r.mu.Lock()
			entry.tool.Description = previous
			r.mu.Unlock()
			return Tool{}, fmt.Errorf("%w: persist description: %v", ErrToolRegistration, err)
		}
	}
	return tool, nil
}

// Call invokes the tool named name with args.
func (r *Registry) Call(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tool, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return tool.Invoke(ctx, args)
}

func registrationFor(req RegistrationRequest) Registration {
	return Registration{
		Name:        req.Name,
		Source:      req.Source,
		Type:        req.Type,
		Description: req.Description,
		Strict:      req.Strict,
		AllowCycles: req.AllowCycles,
		RateLimit:   req.RateLimit,
		Burst:       req.Burst,
		Timeout:     Duration(req.Timeout),
	}
}

func requestFor(reg Registration) RegistrationRequest {
	return RegistrationRequest{
		Name:        reg.Name,
		Source:      reg.Source,
		Type:        reg.Type,
		Description: reg.Description,
		Strict:      reg.Strict,
		AllowCycles: reg.AllowCycles,
		RateLimit:   reg.RateLimit,
		Burst:       reg.Burst,
		Timeout:     time.Duration(reg.Timeout),
	}
}
