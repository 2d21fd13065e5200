package marquee

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ambiyansyah-risyal/marquee/internal/backoff"
)

// Pipeline sends requests through a Transport and applies a status-driven
// RetryPolicy to the responses. Each call to Send runs an independent chain
// with its own attempt counters and policy snapshot; a Pipeline is safe for
// concurrent use.
type Pipeline struct {
	transport       Transport
	policy          atomic.Pointer[RetryPolicy]
	pending         RetryPolicy
	middleware      []Middleware
	reauth          Reauthenticator
	metrics         *MetricsCollector
	debug           *DebugConfig
	logger          Logger
	validationError error
}

// New constructs a Pipeline. Without options it talks HTTP through a cookie
// aware client and uses DefaultRetryPolicy. Configuration problems are
// reported by ValidationError and make every Send fail fast.
func New(options ...Option) *Pipeline {
	p := &Pipeline{
		transport:  NewHTTPTransport(nil),
		pending:    DefaultRetryPolicy(),
		middleware: []Middleware{},
		debug:      DefaultDebugConfig(),
	}

	for _, option := range options {
		option(p)
	}

	snapshot := p.pending.Clone()
	p.policy.Store(&snapshot)

	if err := p.ValidateConfiguration(); err != nil {
		p.validationError = err
	}

	return p
}

// Policy returns a copy of the policy new chains start with.
func (p *Pipeline) Policy() RetryPolicy {
	return p.policy.Load().Clone()
}

// UpdatePolicy atomically replaces the policy for chains started afterwards.
// Running chains keep the snapshot they started with.
func (p *Pipeline) UpdatePolicy(policy RetryPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	snapshot := policy.Clone()
	p.policy.Store(&snapshot)
	p.metrics.RecordPolicyReload()
	if p.logger != nil {
		p.logger.Info("Retry policy updated", "rules", len(snapshot.Rules), "maxCalls", snapshot.MaxCalls)
	}
	return nil
}

// Transport returns the transport calls are issued on.
func (p *Pipeline) Transport() Transport {
	return p.transport
}

// Metrics returns the configured collector, or nil.
func (p *Pipeline) Metrics() *MetricsCollector {
	return p.metrics
}

// Get sends a GET request for rawURL.
func (p *Pipeline) Get(ctx context.Context, rawURL string) (*Response, error) {
	return p.Do(ctx, NewRequest(http.MethodGet, rawURL, nil))
}

// Post sends body to rawURL with the given content type.
func (p *Pipeline) Post(ctx context.Context, rawURL, contentType string, body []byte) (*Response, error) {
	req := NewRequest(http.MethodPost, rawURL, body)
	req.Header.Set("Content-Type", contentType)
	return p.Do(ctx, req)
}

// Do is Send returning the chain failure, if any, as an error. Non-2xx
// responses that the policy did not act on are not errors.
func (p *Pipeline) Do(ctx context.Context, req *Request) (*Response, error) {
	resp := p.Send(ctx, req)
	return resp, resp.Failure()
}

// Failure converts the chain outcome into an error: the attached ClientError,
// a RetryExhausted error, or ErrUnauthenticated for the sentinel response.
func (r *Response) Failure() error {
	switch {
	case r == nil:
		return &ClientError{Type: ErrorTypeTransport, Message: "no response"}
	case r.Err != nil:
		return r.Err
	case r.Sentinel:
		return fmt.Errorf("re-authentication rejected: %w", ErrUnauthenticated)
	case r.Exhausted:
		return &ClientError{
			Type:       ErrorTypeRetryExhausted,
			Message:    "retry budget exhausted",
			RequestID:  r.RequestID,
			StatusCode: r.StatusCode,
			Attempt:    r.Attempts,
		}
	}
	return nil
}

// chain is the per-Send state. It is never shared between Send calls.
type chain struct {
	id        string
	original  *Request
	policy    *RetryPolicy
	attempts  map[int]int
	calls     int
	steps     int
	lastDelay time.Duration
	last      *Response
	start     time.Time
	endpoint  string
}

// Send runs one chain and returns its terminal Response. It never panics and
// never returns nil: transport, parse and cancellation failures are reported
// through Response.Err.
func (p *Pipeline) Send(ctx context.Context, req *Request) (resp *Response) {
	if ctx == nil {
		ctx = context.Background()
	}

	c := p.newChain(req)
	if req == nil {
		return c.fail(ErrorTypeValidation, "nil request", nil, nil)
	}
	if p.validationError != nil {
		return c.fail(ErrorTypeValidation, "invalid pipeline configuration", p.validationError, req)
	}

	ctx = WithChainID(ctx, c.id)
	p.metrics.RecordChainStart(req.Method, c.endpoint)

	if p.debugRequests() {
		p.logger.Debug("Starting chain", "requestID", c.id, "method", req.Method, "url", req.URL, "endpoint", c.endpoint)
	}

	defer func() {
		if r := recover(); r != nil {
			resp = c.fail(ErrorTypeTransport, "transport panicked", fmt.Errorf("%v", r), req)
		}
		resp.RequestID = c.id
		resp.Attempts = c.calls

		outcome := chainOutcome(resp)
		p.metrics.RecordChainEnd(req.Method, c.endpoint, outcome, c.calls)
		if resp.Err != nil {
			p.metrics.RecordError(resp.Err.Type, req.Method, c.endpoint)
		}
		if p.debugRequests() {
			p.logger.Debug("Chain finished", "requestID", c.id, "outcome", outcome, "status", resp.StatusCode, "calls", c.calls, "duration", time.Since(c.start))
		}
	}()

	return p.run(ctx, c)
}

func (p *Pipeline) newChain(req *Request) *chain {
	gen := p.debug.RequestIDGen
	if gen == nil {
		gen = DefaultDebugConfig().RequestIDGen
	}
	c := &chain{
		id:       gen(),
		policy:   p.policy.Load(),
		attempts: make(map[int]int),
		start:    time.Now(),
		endpoint: "unknown",
	}
	if req != nil {
		c.original = req.Clone()
		c.endpoint = endpointFromURL(req.URL)
	}
	return c
}

func (p *Pipeline) run(ctx context.Context, c *chain) *Response {
	current := c.original

	resp, done := p.call(ctx, c, current, nil)
	if done {
		return resp
	}

	for {
		rule, ok := c.policy.Rule(resp.StatusCode)
		if !ok {
			return p.finish(c, resp)
		}
		if c.attempts[resp.StatusCode] >= rule.MaxAttempts {
			return p.exhausted(c, resp)
		}
		c.attempts[resp.StatusCode]++
		p.metrics.RecordRetry(rule.Action, resp.StatusCode, c.endpoint)

		if p.debugRetries() {
			p.logger.Info("Applying retry rule", "requestID", c.id, "status", resp.StatusCode, "action", rule.Action.String(), "attempt", c.attempts[resp.StatusCode], "maxAttempts", rule.MaxAttempts)
		}

		switch rule.Action {
		case ActionReauthenticate:
			authReq := reauthRequest(rule, current)
			authResp, done := p.call(ctx, c, authReq, resp)
			if done {
				return authResp
			}
			if authResp.StatusCode == http.StatusUnauthorized {
				if p.debugRetries() {
					p.logger.Warn("Re-authentication rejected", "requestID", c.id, "url", authReq.URL)
				}
				return sentinelResponse()
			}
			if p.reauth != nil {
				if err := p.reauth.Reauthenticated(ctx, authResp); err != nil {
					return c.fail(ErrorTypeReauth, "re-authentication hook failed", err, authReq)
				}
			}
			resp, done = p.call(ctx, c, current.Clone(), authResp)
			if done {
				return resp
			}

		case ActionFallback:
			current = fallbackRequest(rule, current)
			resp, done = p.call(ctx, c, current, resp)
			if done {
				return resp
			}

		default:
			return p.finish(c, resp)
		}
	}
}

// call issues one transport call on behalf of c. prev is the response that
// caused this step, nil for the first call. done reports a terminal result.
func (p *Pipeline) call(ctx context.Context, c *chain, req *Request, prev *Response) (resp *Response, done bool) {
	if prev != nil {
		d := c.policy.Backoff.delay(c.steps, c.lastDelay, prev)
		c.lastDelay = d
		if d > 0 {
			if p.debugRetries() {
				p.logger.Info("Waiting before next step", "requestID", c.id, "backoff", d)
			}
			if err := backoff.Wait(ctx, d); err != nil {
				return c.cancelled(req, err), true
			}
		}
		c.steps++
	}

	if err := ctx.Err(); err != nil {
		return c.cancelled(req, err), true
	}
	if c.calls >= c.policy.MaxCalls && c.last != nil {
		if p.debugRetries() {
			p.logger.Warn("Chain call cap reached", "requestID", c.id, "maxCalls", c.policy.MaxCalls)
		}
		return p.exhausted(c, c.last), true
	}

	c.calls++
	start := time.Now()
	resp, err := p.roundTrip(ctx, req.Clone())

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	p.metrics.RecordRequest(req.Method, endpointFromURL(req.URL), status, time.Since(start))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return c.cancelled(req, ctxErr), true
		}
		return c.fail(ErrorTypeTransport, "transport call failed", err, req), true
	}
	if resp == nil {
		return c.fail(ErrorTypeTransport, "transport returned no response", nil, req), true
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}

	c.last = resp
	return resp, false
}

func (p *Pipeline) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	if len(p.middleware) == 0 {
		return p.transport.RoundTrip(ctx, req)
	}

	var current Transport = p.transport
	for i := len(p.middleware) - 1; i >= 0; i-- {
		mw := p.middleware[i]
		next := current
		current = TransportFunc(func(ctx context.Context, r *Request) (*Response, error) {
			return mw(ctx, r, next)
		})
	}

	return current.RoundTrip(ctx, req)
}

// finish applies the body checks for a terminal response.
func (p *Pipeline) finish(c *chain, resp *Response) *Response {
	if c.original.wantsJSON() && resp.StatusCode >= 200 && resp.StatusCode < 300 &&
		len(resp.Body) > 0 && !json.Valid(resp.Body) {
		resp.Err = c.newError(ErrorTypeParse, "response body is not valid JSON", ErrInvalidJSON, c.original)
		resp.Err.StatusCode = resp.StatusCode
		if p.debugRequests() {
			p.logger.Warn("Malformed JSON body", "requestID", c.id, "status", resp.StatusCode, "bytes", len(resp.Body))
		}
	}
	return resp
}

func (p *Pipeline) exhausted(c *chain, resp *Response) *Response {
	resp.Exhausted = true
	if p.debugRetries() {
		p.logger.Warn("Retry budget exhausted", "requestID", c.id, "status", resp.StatusCode, "calls", c.calls)
	}
	return resp
}

func (c *chain) cancelled(req *Request, cause error) *Response {
	return c.fail(ErrorTypeCancelled, "request chain cancelled", cause, req)
}

func (c *chain) fail(errorType, message string, cause error, req *Request) *Response {
	return &Response{
		Header:    make(http.Header),
		RequestID: c.id,
		Attempts:  c.calls,
		Err:       c.newError(errorType, message, cause, req),
	}
}

func (c *chain) newError(errorType, message string, cause error, req *Request) *ClientError {
	e := &ClientError{
		Type:      errorType,
		Message:   message,
		Cause:     cause,
		RequestID: c.id,
		Attempt:   c.calls,
		Timestamp: time.Now(),
		Duration:  time.Since(c.start),
	}
	if c.policy != nil {
		e.MaxAttempts = c.policy.MaxCalls
	}
	if req != nil {
		e.Method = req.Method
		e.URL = req.URL
	}
	return e
}

func reauthRequest(rule Rule, trigger *Request) *Request {
	method := rule.Method
	if method == "" {
		method = http.MethodPost
	}
	req := NewRequest(method, resolveTarget(trigger.URL, rule.Target), nil)
	if rule.Header != nil {
		req.Header = rule.Header.Clone()
	}
	if rule.Body != nil {
		req.Body = append([]byte(nil), rule.Body...)
	}
	return req
}

func fallbackRequest(rule Rule, trigger *Request) *Request {
	req := trigger.Clone()
	if rule.Target != "" {
		req.URL = resolveTarget(trigger.URL, rule.Target)
	}
	if rule.Method != "" {
		req.Method = rule.Method
	}
	for key, values := range rule.Header {
		req.Header[key] = append([]string(nil), values...)
	}
	if rule.Body != nil {
		req.Body = append([]byte(nil), rule.Body...)
	}
	return req
}

// resolveTarget resolves target against base. Unparseable input is returned
// unchanged and left for the transport to reject.
func resolveTarget(base, target string) string {
	ref, err := url.Parse(target)
	if err != nil {
		return target
	}
	if ref.IsAbs() {
		return target
	}
	b, err := url.Parse(base)
	if err != nil {
		return target
	}
	return b.ResolveReference(ref).String()
}

func chainOutcome(resp *Response) string {
	switch {
	case resp.Err != nil:
		return strings.ToLower(resp.Err.Type)
	case resp.Sentinel:
		return "sentinel"
	case resp.Exhausted:
		return "exhausted"
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return "ok"
	default:
		return "http_error"
	}
}

func endpointFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}

	var builder strings.Builder
	builder.WriteString(u.Host)
	if u.Path != "" && u.Path != "/" {
		builder.WriteString(u.Path)
	} else {
		builder.WriteByte('/')
	}
	return builder.String()
}

func (p *Pipeline) debugRequests() bool {
	return p.debug != nil && p.debug.Enabled && p.debug.LogRequests && p.logger != nil
}

func (p *Pipeline) debugRetries() bool {
	return p.debug != nil && p.debug.Enabled && p.debug.LogRetries && p.logger != nil
}

type chainIDKey struct{}

// WithChainID returns a context carrying the chain identifier.
func WithChainID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, chainIDKey{}, id)
}

// ChainIDFromContext returns the identifier of the chain a call belongs to.
func ChainIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(chainIDKey{}).(string)
	return id
}
