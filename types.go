package marquee

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Request is an outbound call. A Request is not modified once handed to a
// Pipeline; replays and middleware work on clones.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// ExpectJSON makes a 2xx response with a malformed body fail with a
	// ParseError. It is implied by an Accept header of application/json.
	ExpectJSON bool
}

// NewRequest builds a Request with an empty header set.
func NewRequest(method, url string, body []byte) *Request {
	return &Request{Method: method, URL: url, Header: make(http.Header), Body: body}
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return &out
}

func (r *Request) wantsJSON() bool {
	if r.ExpectJSON {
		return true
	}
	for _, accept := range r.Header.Values("Accept") {
		for _, part := range strings.Split(accept, ",") {
			mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
			if err == nil && mediaType == "application/json" {
				return true
			}
		}
	}
	return false
}

// Response is the terminal result of a chain, or the result of a single
// transport call while the chain is running.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte

	// RequestID identifies the chain that produced the response.
	RequestID string
	// Attempts is the number of transport calls the chain issued.
	Attempts int
	// Exhausted is set when a retry trigger was still present after the
	// policy budget for it ran out.
	Exhausted bool
	// Sentinel marks the empty response returned when re-authentication
	// itself was rejected.
	Sentinel bool
	// Err is set for transport, parse and cancellation failures.
	Err *ClientError
}

// OK reports whether the response is a successful, non-sentinel 2xx.
func (r *Response) OK() bool {
	return r != nil && r.Err == nil && !r.Sentinel && r.StatusCode >= 200 && r.StatusCode < 300
}

// StatusText returns the reason phrase of the response status.
func (r *Response) StatusText() string {
	if r == nil {
		return ""
	}
	if text := strings.TrimSpace(strings.TrimPrefix(r.Status, strconv.Itoa(r.StatusCode))); text != "" {
		return text
	}
	return http.StatusText(r.StatusCode)
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	if r == nil || len(r.Body) == 0 {
		return fmt.Errorf("decode response: %w", ErrInvalidJSON)
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func sentinelResponse() *Response {
	return &Response{Sentinel: true, Header: make(http.Header)}
}

// Transport issues a single call and returns its raw response. Errors are
// reserved for failures where no response was received.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

// RoundTrip implements Transport.
func (f TransportFunc) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware wraps every transport call made by a chain, including
// re-authentication, fallback and replay calls.
type Middleware func(ctx context.Context, req *Request, next Transport) (*Response, error)

// Reauthenticator is notified after a successful re-authentication call and
// before the triggering request is replayed.
type Reauthenticator interface {
	Reauthenticated(ctx context.Context, resp *Response) error
}

// ReauthenticatorFunc adapts a function to Reauthenticator.
type ReauthenticatorFunc func(ctx context.Context, resp *Response) error

// Reauthenticated implements Reauthenticator.
func (f ReauthenticatorFunc) Reauthenticated(ctx context.Context, resp *Response) error {
	return f(ctx, resp)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// Logger is the structured logging surface used for debug output.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DebugConfig selects which pipeline events are logged.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogRetries   bool
	RequestIDGen func() string
}

// DefaultDebugConfig returns a disabled config that logs everything once enabled.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogRetries:   true,
		RequestIDGen: uuid.NewString,
	}
}
