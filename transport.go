package marquee

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/publicsuffix"
)

// DefaultMaxBodyBytes bounds how much of a response body is buffered.
const DefaultMaxBodyBytes int64 = 10 << 20

// HTTPTransport issues Requests over a *http.Client and buffers the body.
// Compressed bodies (br, gzip, deflate) are decoded before they reach the pipeline.
type HTTPTransport struct {
	client       *http.Client
	maxBodyBytes int64
}

// NewHTTPTransport wraps client. A nil client gets a 30s timeout and a
// cookie jar so Set-Cookie credentials survive between calls.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		client = &http.Client{Timeout: 30 * time.Second, Jar: jar}
	}
	return &HTTPTransport{client: client, maxBodyBytes: DefaultMaxBodyBytes}
}

// Client returns the underlying *http.Client.
func (t *HTTPTransport) Client() *http.Client {
	return t.client
}

// Jar returns the cookie jar of the underlying client, if any.
func (t *HTTPTransport) Jar() http.CookieJar {
	return t.client.Jar
}

// SetMaxBodyBytes changes the body size limit. Non-positive values are ignored.
func (t *HTTPTransport) SetMaxBodyBytes(n int64) {
	if n > 0 {
		t.maxBodyBytes = n
	}
}

// RoundTrip implements Transport.
func (t *HTTPTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header = req.Header.Clone()
	if httpReq.Header == nil {
		httpReq.Header = make(http.Header)
	}
	if httpReq.Header.Get("Accept-Encoding") == "" {
		httpReq.Header.Set("Accept-Encoding", "br, gzip, deflate")
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	reader, err := decodeBody(httpResp)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, t.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(data)) > t.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", t.maxBodyBytes)
	}
	if err := reader.Close(); err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}

	header := httpResp.Header.Clone()
	if header.Get("Content-Encoding") != "" {
		header.Del("Content-Encoding")
		header.Del("Content-Length")
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Header:     header,
		Body:       data,
	}, nil
}

// decodeBody wraps the response body in the decoder for its Content-Encoding.
// Closing the result does not close resp.Body.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return io.NopCloser(resp.Body), nil
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return gz, nil
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("create deflate reader: %w", err)
		}
		return zr, nil
	case "br":
		return io.NopCloser(brotli.NewReader(resp.Body)), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}
