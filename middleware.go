package marquee

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HeaderRequestID carries the per-call trace identifier.
const HeaderRequestID = "X-Request-ID"

// RequestIDMiddleware stamps each call with an X-Request-ID header unless the
// caller already set one. A nil gen uses random UUIDs.
func RequestIDMiddleware(gen func() string) Middleware {
	if gen == nil {
		gen = uuid.NewString
	}
	return func(ctx context.Context, req *Request, next Transport) (*Response, error) {
		if req.Header.Get(HeaderRequestID) != "" {
			return next.RoundTrip(ctx, req)
		}
		r := req.Clone()
		r.Header.Set(HeaderRequestID, gen())
		return next.RoundTrip(ctx, r)
	}
}

// DefaultHeadersMiddleware fills in headers the request does not set.
func DefaultHeadersMiddleware(defaults http.Header) Middleware {
	return func(ctx context.Context, req *Request, next Transport) (*Response, error) {
		var r *Request
		for key, values := range defaults {
			if req.Header.Get(key) != "" || len(values) == 0 {
				continue
			}
			if r == nil {
				r = req.Clone()
			}
			r.Header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
		}
		if r == nil {
			r = req
		}
		return next.RoundTrip(ctx, r)
	}
}

// JSONHeaders is the default header set for catalog calls.
func JSONHeaders() http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	return h
}

// LoggingMiddleware logs every transport call at debug level and failures at warn level.
func LoggingMiddleware(logger Logger) Middleware {
	return func(ctx context.Context, req *Request, next Transport) (*Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(ctx, req)
		if err != nil {
			logger.Warn("Transport call failed", "method", req.Method, "url", req.URL, "duration", time.Since(start), "error", err.Error())
			return resp, err
		}
		logger.Debug("Transport call", "method", req.Method, "url", req.URL, "status", resp.StatusCode, "duration", time.Since(start))
		return resp, nil
	}
}
