package marquee

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error types carried by ClientError.Type and ErrorEnvelope.Kind.
const (
	ErrorTypeTransport      = "TransportError"
	ErrorTypeHTTP           = "HTTPError"
	ErrorTypeRetryExhausted = "RetryExhausted"
	ErrorTypeParse          = "ParseError"
	ErrorTypeCancelled      = "Cancelled"
	ErrorTypeValidation     = "ValidationError"
	ErrorTypeReauth         = "ReauthError"
)

// Sentinel errors for common failure scenarios
var (
	// ErrRetryExhausted is matched by errors whose chain ran out of policy budget.
	ErrRetryExhausted = errors.New("marquee: retry exhausted")

	// ErrCancelled is matched by errors caused by a cancelled chain.
	ErrCancelled = errors.New("marquee: chain cancelled")

	// ErrUnauthenticated is matched by envelopes built from the sentinel response.
	ErrUnauthenticated = errors.New("marquee: authentication required")

	// ErrInvalidJSON is the cause of ParseError failures.
	ErrInvalidJSON = errors.New("marquee: invalid JSON body")
)

// ClientError describes a failure observed while executing a chain.
type ClientError struct {
	Type        string
	Message     string
	Cause       error
	RequestID   string
	Method      string
	URL         string
	StatusCode  int
	Attempt     int
	MaxAttempts int
	Timestamp   time.Time
	Duration    time.Duration
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches another *ClientError of the same Type, or the package sentinel
// corresponding to Type.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	switch target {
	case ErrCancelled:
		return e.Type == ErrorTypeCancelled
	case ErrRetryExhausted:
		return e.Type == ErrorTypeRetryExhausted
	case ErrInvalidJSON:
		return e.Type == ErrorTypeParse
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxAttempts)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// IsTransient reports whether err may succeed when the chain is started again.
// Transport failures, 5xx and 429 responses are transient; cancellation,
// validation, parse failures and other 4xx responses are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var env *ErrorEnvelope
	if errors.As(err, &env) {
		if env.Cancelled {
			return false
		}
		switch env.Kind {
		case ErrorTypeTransport:
			return true
		case ErrorTypeHTTP, ErrorTypeRetryExhausted:
			return env.Status == http.StatusTooManyRequests || env.Status >= 500
		}
		return false
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeTransport:
			return true
		case ErrorTypeHTTP, ErrorTypeRetryExhausted:
			return clientErr.StatusCode == http.StatusTooManyRequests || clientErr.StatusCode >= 500
		}
	}
	return false
}

// ErrorEnvelope is the uniform error value handed to consumers of the
// catalog API. Its JSON form is {"status", "isError", "error"}.
type ErrorEnvelope struct {
	Status    int    `json:"status"`
	IsError   bool   `json:"isError"`
	Message   string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`

	cause error
}

// Error implements error interface.
func (e *ErrorEnvelope) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

// Unwrap returns the failure the envelope was built from, if any.
func (e *ErrorEnvelope) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// HTTPStatusMessage formats a failed status the way consumers expect it.
func HTTPStatusMessage(status int, text string) string {
	if text == "" {
		text = http.StatusText(status)
	}
	return fmt.Sprintf("Request failed with status %d: %s", status, text)
}

// NewErrorEnvelope converts a terminal response into an envelope. It returns
// nil for successful responses.
func NewErrorEnvelope(resp *Response) *ErrorEnvelope {
	switch {
	case resp == nil:
		return &ErrorEnvelope{IsError: true, Kind: ErrorTypeTransport, Message: "no response"}
	case resp.Err != nil:
		return &ErrorEnvelope{
			Status:    resp.StatusCode,
			IsError:   true,
			Message:   resp.Err.Message,
			Kind:      resp.Err.Type,
			Cancelled: resp.Err.Type == ErrorTypeCancelled,
			cause:     resp.Err,
		}
	case resp.Sentinel:
		return &ErrorEnvelope{
			Status:  http.StatusUnauthorized,
			IsError: true,
			Message: "authentication required",
			Kind:    ErrorTypeHTTP,
			cause:   ErrUnauthenticated,
		}
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	}

	env := &ErrorEnvelope{
		Status:  resp.StatusCode,
		IsError: true,
		Message: HTTPStatusMessage(resp.StatusCode, resp.StatusText()),
		Kind:    ErrorTypeHTTP,
	}
	if resp.Exhausted {
		env.Kind = ErrorTypeRetryExhausted
		env.cause = ErrRetryExhausted
	}
	return env
}

// AsEnvelope returns err as an *ErrorEnvelope. Errors that are not envelopes
// are wrapped: context errors become cancellation envelopes, ClientErrors keep
// their type and everything else is reported as a transport failure.
func AsEnvelope(err error) *ErrorEnvelope {
	if err == nil {
		return nil
	}

	var env *ErrorEnvelope
	if errors.As(err, &env) {
		return env
	}

	out := &ErrorEnvelope{IsError: true, Message: err.Error(), Kind: ErrorTypeTransport, cause: err}

	var clientErr *ClientError
	switch {
	case errors.As(err, &clientErr):
		out.Kind = clientErr.Type
		out.Status = clientErr.StatusCode
		out.Message = clientErr.Message
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		out.Kind = ErrorTypeCancelled
	}
	out.Cancelled = out.Kind == ErrorTypeCancelled
	return out
}

// ValidationEnvelope reports an argument problem detected before any call.
func ValidationEnvelope(format string, args ...any) *ErrorEnvelope {
	return &ErrorEnvelope{
		IsError: true,
		Message: fmt.Sprintf(format, args...),
		Kind:    ErrorTypeValidation,
	}
}
