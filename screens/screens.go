// Package screens assembles the data behind each catalog screen. A screen is
// a list of named sections; each section carries either its JSON document or
// the error envelope describing why it could not be loaded, so one failing
// resource never blanks the rest of the screen.
package screens

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"github.com/ambiyansyah-risyal/marquee"
	"github.com/ambiyansyah-risyal/marquee/catalog"
)

// Section names.
const (
	SectionMovies    = "movies"
	SectionMovie     = "movie"
	SectionDirectors = "directors"
	SectionActors    = "actors"
	SectionReviews   = "reviews"
)

// DefaultConcurrency bounds the section loads running at once for a screen.
const DefaultConcurrency = 3

// Catalog is the subset of *catalog.Client a Loader needs.
type Catalog interface {
	Movies(ctx context.Context) (json.RawMessage, error)
	Movie(ctx context.Context, id string) (json.RawMessage, error)
	MovieActors(ctx context.Context, id string) (json.RawMessage, error)
	MovieDirectors(ctx context.Context, id string) (json.RawMessage, error)
	MovieReviews(ctx context.Context, id string, page, size int) (json.RawMessage, error)
}

var _ Catalog = (*catalog.Client)(nil)

// Section is one independently loaded part of a screen.
type Section struct {
	Name  string                 `json:"name"`
	Data  json.RawMessage        `json:"data,omitempty"`
	Error *marquee.ErrorEnvelope `json:"error,omitempty"`
}

// OK reports whether the section loaded.
func (s Section) OK() bool {
	return s.Error == nil
}

// Screen is the data of one rendered screen.
type Screen struct {
	Name     string    `json:"screen"`
	Sections []Section `json:"sections"`
}

// Section returns the named section.
func (s *Screen) Section(name string) (Section, bool) {
	for _, section := range s.Sections {
		if section.Name == name {
			return section, true
		}
	}
	return Section{}, false
}

// Failed returns the sections that carry an error.
func (s *Screen) Failed() []Section {
	var failed []Section
	for _, section := range s.Sections {
		if !section.OK() {
			failed = append(failed, section)
		}
	}
	return failed
}

// Loader builds screens from catalog resources.
type Loader struct {
	catalog     Catalog
	concurrency int
	logger      marquee.Logger
}

// NewLoader creates a Loader. A concurrency below 1 selects DefaultConcurrency
// and a nil logger discards output.
func NewLoader(c Catalog, concurrency int, logger marquee.Logger) *Loader {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = marquee.NopLogger()
	}
	return &Loader{catalog: c, concurrency: concurrency, logger: logger}
}

// Home loads the movie list screen.
func (l *Loader) Home(ctx context.Context) *Screen {
	data, err := l.catalog.Movies(ctx)
	return &Screen{Name: "home", Sections: []Section{l.section(SectionMovies, data, err)}}
}

// MoviePage loads a movie and then its directors, actors and one page of
// reviews concurrently. A cancelled movie load skips the other sections.
func (l *Loader) MoviePage(ctx context.Context, id string, page, size int) *Screen {
	data, err := l.catalog.Movie(ctx, id)
	movie := l.section(SectionMovie, data, err)
	screen := &Screen{Name: "movie", Sections: []Section{movie}}
	if movie.Error != nil && movie.Error.Cancelled {
		return screen
	}

	loads := []struct {
		name string
		load func(context.Context) (json.RawMessage, error)
	}{
		{SectionDirectors, func(ctx context.Context) (json.RawMessage, error) { return l.catalog.MovieDirectors(ctx, id) }},
		{SectionActors, func(ctx context.Context) (json.RawMessage, error) { return l.catalog.MovieActors(ctx, id) }},
		{SectionReviews, func(ctx context.Context) (json.RawMessage, error) {
			return l.catalog.MovieReviews(ctx, id, page, size)
		}},
	}

	related := make([]Section, len(loads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, load := range loads {
		g.Go(func() error {
			data, err := load.load(gctx)
			related[i] = l.section(load.name, data, err)
			return nil
		})
	}
	_ = g.Wait()

	screen.Sections = append(screen.Sections, related...)
	return screen
}

func (l *Loader) section(name string, data json.RawMessage, err error) Section {
	if err != nil {
		env := marquee.AsEnvelope(err)
		l.logger.Warn("Section failed", "section", name, "status", env.Status, "kind", env.Kind, "error", env.Message)
		return Section{Name: name, Error: env}
	}
	return Section{Name: name, Data: data}
}
