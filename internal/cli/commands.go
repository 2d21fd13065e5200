package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ambiyansyah-risyal/marquee"
	"github.com/ambiyansyah-risyal/marquee/catalog"
	"github.com/ambiyansyah-risyal/marquee/internal/config"
	"github.com/ambiyansyah-risyal/marquee/internal/server"
	"github.com/ambiyansyah-risyal/marquee/session"
)

// fetchCommand builds a command printing one catalog document.
func (a *app) fetchCommand(use, short string, args cobra.PositionalArgs, fetch func(ctx context.Context, args []string) (json.RawMessage, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.authenticate(ctx); err != nil {
				return err
			}
			data, err := fetch(ctx, args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func (a *app) moviesCommand() *cobra.Command {
	return a.fetchCommand("movies", "List all movies", cobra.NoArgs, func(ctx context.Context, _ []string) (json.RawMessage, error) {
		return a.catalog.Movies(ctx)
	})
}

func (a *app) movieCommand() *cobra.Command {
	return a.fetchCommand("movie <id>", "Show one movie", cobra.ExactArgs(1), func(ctx context.Context, args []string) (json.RawMessage, error) {
		return a.catalog.Movie(ctx, args[0])
	})
}

func (a *app) actorsCommand() *cobra.Command {
	return a.fetchCommand("actors <movie-id>", "List the cast of a movie", cobra.ExactArgs(1), func(ctx context.Context, args []string) (json.RawMessage, error) {
		return a.catalog.MovieActors(ctx, args[0])
	})
}

func (a *app) directorsCommand() *cobra.Command {
	return a.fetchCommand("directors <movie-id>", "List the directors of a movie", cobra.ExactArgs(1), func(ctx context.Context, args []string) (json.RawMessage, error) {
		return a.catalog.MovieDirectors(ctx, args[0])
	})
}

func (a *app) reviewsCommand() *cobra.Command {
	var page, size int
	cmd := a.fetchCommand("reviews <movie-id>", "List one page of reviews for a movie", cobra.ExactArgs(1), func(ctx context.Context, args []string) (json.RawMessage, error) {
		return a.catalog.MovieReviews(ctx, args[0], page, size)
	})
	cmd.Flags().IntVar(&page, "page", catalog.DefaultReviewPage, "zero-based review page")
	cmd.Flags().IntVar(&size, "size", catalog.DefaultReviewSize, "reviews per page")
	return cmd
}

func (a *app) pageCommand() *cobra.Command {
	var page, size int
	cmd := &cobra.Command{
		Use:   "page <movie-id>",
		Short: "Assemble the movie page: movie, directors, cast and reviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.authenticate(ctx); err != nil {
				return err
			}
			screen := a.loader.MoviePage(ctx, args[0], page, size)
			if err := printJSON(cmd.OutOrStdout(), screen); err != nil {
				return err
			}
			if failed := screen.Failed(); len(failed) == len(screen.Sections) {
				return failed[0].Error
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", catalog.DefaultReviewPage, "zero-based review page")
	cmd.Flags().IntVar(&size, "size", catalog.DefaultReviewSize, "reviews per page")
	return cmd
}

func (a *app) loginCommand() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Check credentials against the login endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" {
				username = a.cfg.Auth.Username
			}
			if password == "" {
				password = a.cfg.Auth.Password
			}
			if err := a.session.Login(cmd.Context(), session.Credentials{Username: username, Password: password}); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"user":   username,
				"bearer": a.session.Token() != "",
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name (default from auth.username)")
	cmd.Flags().StringVar(&password, "password", "", "password (default from auth.password)")
	return cmd
}

func (a *app) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve catalog resources, screens and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			if err := a.authenticate(cmd.Context()); err != nil {
				a.logger.Warn("Initial login failed, continuing anonymously", "error", err.Error())
			}

			if a.cfgPath != "" {
				watcher, err := config.NewWatcher(a.cfgPath, 0, a.logger)
				if err != nil {
					return err
				}
				defer watcher.Close()
				config.WatchPolicy(watcher, a.pipeline, a.logger)
			}

			opts := server.Options{Catalog: a.catalog, Loader: a.loader, Logger: a.logger}
			if metrics := a.pipeline.Metrics(); metrics != nil {
				opts.Registry = metrics.GetRegistry()
			}
			srv := server.New(opts)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(addr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from server.addr)")
	return cmd
}

func newVersionCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := marquee.ReadBuildInfo()
			if asJSON {
				return printJSON(cmd.OutOrStdout(), info)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, info)
			fmt.Fprintf(out, "Built with %s %s/%s\n", info.GoVersion, runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print build info as JSON")
	return cmd
}
