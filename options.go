package openapitools

import (
	"net/http"

	"github.com/hashicorp/go-hclog"
)

// Option configures a Loader, Executor, Converter or Registry. Each
// constructor reads only the settings it needs.
type Option func(*options)

type options struct {
	logger      hclog.Logger
	client      *http.Client
	strict      bool
	cyclePolicy CyclePolicy
	metrics     *Metrics
	store       *Store
}

func newOptions(opts []Option) options {
	o := options{
		logger: hclog.NewNullLogger(),
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger sets the structured logger. Components log under named sub-loggers.
func WithLogger(logger hclog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHTTPClient sets the client used to fetch documents and call APIs.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.client = client
		}
	}
}

// WithStrictValidation makes the loader validate every document with kin-openapi.
func WithStrictValidation() Option {
	return func(o *options) { o.strict = true }
}

// WithCyclePolicy chooses how the reference resolver treats circular $ref chains.
func WithCyclePolicy(policy CyclePolicy) Option {
	return func(o *options) { o.cyclePolicy = policy }
}

// WithMetrics records invocation counts and latencies.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithStore persists registrations and description overrides.
func WithStore(s *Store) Option {
	return func(o *options) { o.store = s }
}
