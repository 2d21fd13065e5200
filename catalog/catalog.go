// Package catalog provides typed access to the movie catalog endpoints. Every
// call runs as its own pipeline chain; failures come back as
// *marquee.ErrorEnvelope values.
package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ambiyansyah-risyal/marquee"
)

// DefaultBaseURL is the catalog server used when none is configured.
const DefaultBaseURL = "http://localhost:8080"

// Review paging defaults.
const (
	DefaultReviewPage = 0
	DefaultReviewSize = 50
)

// Catalog endpoint paths.
const (
	MoviesPath    = "/api/main/movies/"
	ActorsPath    = "/api/main/actors"
	DirectorsPath = "/api/main/directors"
	ReviewsPath   = "/api/main/movie-reviews/reviews/"
)

// Sender runs a request chain. *marquee.Pipeline satisfies it.
type Sender interface {
	Send(ctx context.Context, req *marquee.Request) *marquee.Response
}

// Client fetches catalog resources as raw JSON documents.
type Client struct {
	sender  Sender
	baseURL string
}

// New creates a Client for baseURL. An empty baseURL selects DefaultBaseURL.
func New(sender Sender, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{sender: sender, baseURL: strings.TrimRight(baseURL, "/")}
}

// BaseURL returns the catalog server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Movies returns the movie list.
func (c *Client) Movies(ctx context.Context) (json.RawMessage, error) {
	return c.FetchJSON(ctx, MoviesPath, nil)
}

// Movie returns a single movie.
func (c *Client) Movie(ctx context.Context, id string) (json.RawMessage, error) {
	id, err := movieID(id)
	if err != nil {
		return nil, err
	}
	return c.FetchJSON(ctx, MoviesPath+url.PathEscape(id), nil)
}

// MovieActors returns the cast of a movie.
func (c *Client) MovieActors(ctx context.Context, id string) (json.RawMessage, error) {
	return c.byMovie(ctx, ActorsPath, id)
}

// MovieDirectors returns the directors of a movie.
func (c *Client) MovieDirectors(ctx context.Context, id string) (json.RawMessage, error) {
	return c.byMovie(ctx, DirectorsPath, id)
}

// MovieReviews returns one page of a movie's reviews. Pages are zero-based.
func (c *Client) MovieReviews(ctx context.Context, id string, page, size int) (json.RawMessage, error) {
	id, err := movieID(id)
	if err != nil {
		return nil, err
	}
	if page < 0 {
		return nil, marquee.ValidationEnvelope("page must be >= 0, got %d", page)
	}
	if size <= 0 {
		return nil, marquee.ValidationEnvelope("size must be > 0, got %d", size)
	}

	query := url.Values{}
	query.Set("number", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(size))
	return c.FetchJSON(ctx, ReviewsPath+url.PathEscape(id), query)
}

func (c *Client) byMovie(ctx context.Context, path, id string) (json.RawMessage, error) {
	id, err := movieID(id)
	if err != nil {
		return nil, err
	}
	return c.FetchJSON(ctx, path, url.Values{"movieId": {id}})
}

// FetchJSON GETs path on the catalog server and returns the JSON body of a
// successful response.
func (c *Client) FetchJSON(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req := marquee.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Accept", "application/json")
	req.ExpectJSON = true

	resp := c.sender.Send(ctx, req)
	if env := marquee.NewErrorEnvelope(resp); env != nil {
		return nil, env
	}
	if len(resp.Body) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(resp.Body), nil
}

func movieID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", marquee.ValidationEnvelope("movie id is required")
	}
	return id, nil
}
