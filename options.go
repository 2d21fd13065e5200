package marquee

import (
	"fmt"
	"net/http"
	"time"
)

// WithTransport sets the transport every call is issued on.
func WithTransport(t Transport) Option {
	return func(p *Pipeline) {
		p.transport = t
	}
}

// WithHTTPClient issues calls through client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Pipeline) {
		p.transport = NewHTTPTransport(client)
	}
}

// WithTimeout sets the per-call timeout of the HTTP transport. It has no
// effect on custom transports.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if t, ok := p.transport.(*HTTPTransport); ok {
			t.client.Timeout = d
		}
	}
}

// WithRetryPolicy replaces the whole retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(p *Pipeline) {
		p.pending = policy.Clone()
	}
}

// WithRule sets the rule for a single trigger status.
func WithRule(status int, rule Rule) Option {
	return func(p *Pipeline) {
		if p.pending.Rules == nil {
			p.pending.Rules = make(map[int]Rule)
		}
		p.pending.Rules[status] = rule
	}
}

// WithMaxCalls caps the transport calls a single chain may issue.
func WithMaxCalls(n int) Option {
	return func(p *Pipeline) {
		p.pending.MaxCalls = n
	}
}

// WithBackoff waits between chain steps using b.
func WithBackoff(b Backoff) Option {
	return func(p *Pipeline) {
		if b.Jitter < 0 {
			b.Jitter = 0
		}
		if b.Jitter > 1 {
			b.Jitter = 1
		}
		p.pending.Backoff = b
	}
}

// WithReauthenticator sets the hook run after a successful re-authentication call.
func WithReauthenticator(r Reauthenticator) Option {
	return func(p *Pipeline) {
		p.reauth = r
	}
}

// WithMiddleware adds middleware around every transport call. The first
// middleware is the outermost.
func WithMiddleware(middleware ...Middleware) Option {
	return func(p *Pipeline) {
		p.middleware = append(p.middleware, middleware...)
	}
}

// WithMetrics enables Prometheus metrics on a private registry.
func WithMetrics() Option {
	return func(p *Pipeline) {
		p.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(p *Pipeline) {
		p.metrics = collector
	}
}

// WithDebug enables debug logging with default configuration
func WithDebug() Option {
	return func(p *Pipeline) {
		if p.debug == nil {
			p.debug = DefaultDebugConfig()
		}
		p.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration
func WithDebugConfig(config *DebugConfig) Option {
	return func(p *Pipeline) {
		p.debug = config
	}
}

// WithLogger sets the logger used for debug output and policy updates.
func WithLogger(logger Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a console logger.
func WithSimpleLogger() Option {
	return func(p *Pipeline) {
		if p.debug == nil {
			p.debug = DefaultDebugConfig()
		}
		p.debug.Enabled = true
		p.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator sets the function generating chain identifiers.
func WithRequestIDGenerator(gen func() string) Option {
	return func(p *Pipeline) {
		if p.debug == nil {
			p.debug = DefaultDebugConfig()
		}
		p.debug.RequestIDGen = gen
	}
}

// IsValid reports whether configuration validation passed at construction.
func (p *Pipeline) IsValid() bool {
	return p.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (p *Pipeline) ValidationError() error {
	return p.validationError
}

// ValidateConfiguration validates the pipeline configuration and returns an error if invalid
func (p *Pipeline) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, p.validateTransportConfig()...)
	errors = append(errors, p.policy.Load().problems()...)
	errors = append(errors, p.validateDebugConfig()...)
	errors = append(errors, p.validateMiddlewareConfig()...)

	if len(errors) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errors),
		}
	}

	return nil
}

func (p *Pipeline) validateTransportConfig() []string {
	var errors []string

	switch t := p.transport.(type) {
	case nil:
		errors = append(errors, "transport cannot be nil")
	case *HTTPTransport:
		if t.client == nil {
			errors = append(errors, "HTTP client cannot be nil")
		} else if t.client.Timeout < 0 {
			errors = append(errors, "timeout must be non-negative")
		} else if t.client.Timeout > 10*time.Minute {
			errors = append(errors, "timeout > 10m may cause requests to hang for too long")
		}
	}

	return errors
}

func (p *Pipeline) validateDebugConfig() []string {
	var errors []string

	if p.debug != nil && p.debug.Enabled {
		if p.debug.RequestIDGen == nil {
			errors = append(errors, "debug RequestIDGen must be set when debug is enabled")
		}
		if p.logger == nil {
			errors = append(errors, "logger must be set when debug is enabled")
		}
	}

	return errors
}

func (p *Pipeline) validateMiddlewareConfig() []string {
	var errors []string

	for i, middleware := range p.middleware {
		if middleware == nil {
			errors = append(errors, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	return errors
}
