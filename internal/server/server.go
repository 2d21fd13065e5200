// Package server exposes catalog resources and assembled screens over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ambiyansyah-risyal/marquee"
	"github.com/ambiyansyah-risyal/marquee/catalog"
	"github.com/ambiyansyah-risyal/marquee/screens"
)

// Server serves the catalog API. Every handler runs its chains on the
// request context, so a client disconnect cancels them.
type Server struct {
	echo    *echo.Echo
	catalog *catalog.Client
	loader  *screens.Loader
	logger  marquee.Logger
}

// Options wires the server's collaborators. Registry may be nil to disable
// the /metrics endpoint.
type Options struct {
	Catalog  *catalog.Client
	Loader   *screens.Loader
	Registry *prometheus.Registry
	Logger   marquee.Logger
}

// New creates a Server with all routes registered.
func New(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	logger := opts.Logger
	if logger == nil {
		logger = marquee.NopLogger()
	}

	s := &Server{echo: e, catalog: opts.Catalog, loader: opts.Loader, logger: logger}
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(s.requestLogger)

	e.GET("/healthz", s.health)

	e.GET("/screens/home", s.home)
	e.GET("/screens/movies/:id", s.moviePage)

	api := e.Group("/catalog")
	api.GET("/movies", s.movies)
	api.GET("/movies/:id", s.movie)
	api.GET("/movies/:id/actors", s.actors)
	api.GET("/movies/:id/directors", s.directors)
	api.GET("/movies/:id/reviews", s.reviews)

	if opts.Registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	}

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting server", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.echo.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) home(c echo.Context) error {
	return c.JSON(http.StatusOK, s.loader.Home(c.Request().Context()))
}

func (s *Server) moviePage(c echo.Context) error {
	page, size, err := paging(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.loader.MoviePage(c.Request().Context(), c.Param("id"), page, size))
}

func (s *Server) movies(c echo.Context) error {
	return s.document(c)(s.catalog.Movies(c.Request().Context()))
}

func (s *Server) movie(c echo.Context) error {
	return s.document(c)(s.catalog.Movie(c.Request().Context(), c.Param("id")))
}

func (s *Server) actors(c echo.Context) error {
	return s.document(c)(s.catalog.MovieActors(c.Request().Context(), c.Param("id")))
}

func (s *Server) directors(c echo.Context) error {
	return s.document(c)(s.catalog.MovieDirectors(c.Request().Context(), c.Param("id")))
}

func (s *Server) reviews(c echo.Context) error {
	page, size, err := paging(c)
	if err != nil {
		return err
	}
	return s.document(c)(s.catalog.MovieReviews(c.Request().Context(), c.Param("id"), page, size))
}

// document writes a catalog result: the raw JSON on success, the error
// otherwise.
func (s *Server) document(c echo.Context) func(json.RawMessage, error) error {
	return func(data json.RawMessage, err error) error {
		if err != nil {
			return err
		}
		return c.JSONBlob(http.StatusOK, data)
	}
}

func paging(c echo.Context) (page, size int, err error) {
	page, size = catalog.DefaultReviewPage, catalog.DefaultReviewSize
	if v := c.QueryParam("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil {
			return 0, 0, marquee.ValidationEnvelope("page must be an integer, got %q", v)
		}
	}
	if v := c.QueryParam("size"); v != "" {
		if size, err = strconv.Atoi(v); err != nil {
			return 0, 0, marquee.ValidationEnvelope("size must be an integer, got %q", v)
		}
	}
	return page, size, nil
}

// handleError renders every failure as an error envelope.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
		_ = c.JSON(he.Code, &marquee.ErrorEnvelope{Status: he.Code, IsError: true, Message: msg})
		return
	}

	env := marquee.AsEnvelope(err)
	_ = c.JSON(statusFor(env), env)
}

// statusFor picks the status a proxied failure is served with.
func statusFor(env *marquee.ErrorEnvelope) int {
	switch {
	case env.Kind == marquee.ErrorTypeValidation:
		return http.StatusBadRequest
	case env.Cancelled:
		return http.StatusGatewayTimeout
	case env.Kind == marquee.ErrorTypeParse:
		return http.StatusBadGateway
	case env.Status >= 400:
		return env.Status
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.logger.Info("Handled request",
			"method", c.Request().Method,
			"path", c.Path(),
			"status", c.Response().Status,
			"duration", time.Since(start),
		)
		return nil
	}
}
