// Package session holds the credentials of a catalog user: the bearer token
// returned by login and the access/refresh cookies kept in the transport's
// cookie jar. A Session plugs into a marquee.Pipeline as its
// Reauthenticator and as a middleware attaching the current token.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ambiyansyah-risyal/marquee"
)

// Default authentication endpoints.
const (
	DefaultLoginPath   = "/api/users/login"
	DefaultRefreshPath = marquee.DefaultRefreshPath
)

// ErrMissingCredentials is returned by Login when username or password is empty.
var ErrMissingCredentials = errors.New("session: username and password are required")

// Credentials is the login request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenBody struct {
	Token string `json:"token"`
}

// Session issues login and refresh calls directly on a Transport, bypassing
// the retry policy, and remembers the latest bearer token. It is safe for
// concurrent use.
type Session struct {
	transport   marquee.Transport
	baseURL     string
	loginPath   string
	refreshPath string
	logger      marquee.Logger

	mu    sync.RWMutex
	token string

	refreshes singleflight.Group
}

// Option configures a Session.
type Option func(*Session)

// WithLoginPath overrides the login endpoint path.
func WithLoginPath(path string) Option {
	return func(s *Session) {
		s.loginPath = path
	}
}

// WithRefreshPath overrides the refresh endpoint path.
func WithRefreshPath(path string) Option {
	return func(s *Session) {
		s.refreshPath = path
	}
}

// WithLogger sets the logger used for authentication events.
func WithLogger(logger marquee.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// New creates a Session talking to baseURL through transport. The transport
// should be the one the pipeline uses so both share the cookie jar.
func New(transport marquee.Transport, baseURL string, options ...Option) *Session {
	s := &Session{
		transport:   transport,
		baseURL:     strings.TrimRight(baseURL, "/"),
		loginPath:   DefaultLoginPath,
		refreshPath: DefaultRefreshPath,
		logger:      marquee.NopLogger(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Token returns the current bearer token, or "" when none is known.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken replaces the bearer token.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Logout forgets the bearer token. Cookies stay in the jar until they expire.
func (s *Session) Logout() {
	s.SetToken("")
}

// Login posts credentials to the login endpoint and stores the returned token.
// Failures are reported as *marquee.ErrorEnvelope.
func (s *Session) Login(ctx context.Context, creds Credentials) error {
	if creds.Username == "" || creds.Password == "" {
		return marquee.ValidationEnvelope("%v", ErrMissingCredentials)
	}

	body, err := json.Marshal(creds)
	if err != nil {
		return marquee.AsEnvelope(err)
	}

	resp, err := s.post(ctx, s.loginPath, body)
	if err != nil {
		return err
	}

	token := extractToken(resp)
	s.SetToken(token)
	s.logger.Info("Logged in", "user", creds.Username, "bearer", token != "")
	return nil
}

// Refresh calls the refresh endpoint once. The server rotates the access and
// refresh cookies; a token in the body replaces the bearer token.
func (s *Session) Refresh(ctx context.Context) error {
	resp, err := s.post(ctx, s.refreshPath, nil)
	if err != nil {
		return err
	}
	return s.Reauthenticated(ctx, resp)
}

// RefreshShared is Refresh with concurrent callers coalesced into one call.
func (s *Session) RefreshShared(ctx context.Context) error {
	_, err, shared := s.refreshes.Do("refresh", func() (any, error) {
		return nil, s.Refresh(ctx)
	})
	if shared {
		s.logger.Debug("Joined in-flight refresh")
	}
	return err
}

// Reauthenticated implements marquee.Reauthenticator.
func (s *Session) Reauthenticated(_ context.Context, resp *marquee.Response) error {
	token := extractToken(resp)
	if token != "" {
		s.SetToken(token)
	}
	s.logger.Debug("Session refreshed", "bearer", token != "")
	return nil
}

// Middleware attaches "Authorization: Bearer <token>" to calls that do not
// carry an Authorization header, once a token is known.
func (s *Session) Middleware() marquee.Middleware {
	return func(ctx context.Context, req *marquee.Request, next marquee.Transport) (*marquee.Response, error) {
		token := s.Token()
		if token == "" || req.Header.Get("Authorization") != "" {
			return next.RoundTrip(ctx, req)
		}
		r := req.Clone()
		r.Header.Set("Authorization", "Bearer "+token)
		return next.RoundTrip(ctx, r)
	}
}

func (s *Session) post(ctx context.Context, path string, body []byte) (*marquee.Response, error) {
	req := marquee.NewRequest(http.MethodPost, s.baseURL+path, body)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.transport.RoundTrip(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, marquee.AsEnvelope(ctx.Err())
		}
		s.logger.Warn("Authentication call failed", "path", path, "error", err.Error())
		return nil, marquee.AsEnvelope(err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, marquee.NewErrorEnvelope(&marquee.Response{Sentinel: true})
	}
	if env := marquee.NewErrorEnvelope(resp); env != nil {
		return nil, env
	}
	return resp, nil
}

// extractToken reads {"token": "..."} from a JSON body. Bodies without one
// yield ""; cookie-only responses are valid.
func extractToken(resp *marquee.Response) string {
	if resp == nil || len(resp.Body) == 0 {
		return ""
	}
	var body tokenBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return ""
	}
	return body.Token
}
