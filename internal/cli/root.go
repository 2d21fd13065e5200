// Package cli implements the marquee command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ambiyansyah-risyal/marquee"
	"github.com/ambiyansyah-risyal/marquee/catalog"
	"github.com/ambiyansyah-risyal/marquee/internal/config"
	"github.com/ambiyansyah-risyal/marquee/screens"
	"github.com/ambiyansyah-risyal/marquee/session"
)

// app is built once per invocation by the root command's pre-run hook.
type app struct {
	cfgPath string
	debug   bool
	envFile string

	cfg      *config.Config
	logger   marquee.Logger
	pipeline *marquee.Pipeline
	session  *session.Session
	catalog  *catalog.Client
	loader   *screens.Loader
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "marquee",
		Short: "Browse the movie catalog",
		Long: `marquee talks to the movie catalog API through a resilient request
pipeline that refreshes expired sessions and retries missing resources.

Results are printed as JSON. Failures are printed as error envelopes on
stderr and exit non-zero.`,
		Version:       marquee.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (YAML)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before configuration")

	root.AddCommand(
		a.moviesCommand(),
		a.movieCommand(),
		a.actorsCommand(),
		a.directorsCommand(),
		a.reviewsCommand(),
		a.pageCommand(),
		a.loginCommand(),
		a.serveCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		printError(root.ErrOrStderr(), err)
		os.Exit(1)
	}
}

func (a *app) setup(stderr io.Writer) error {
	// A missing dotenv file is normal.
	_ = godotenv.Load(a.envFile)

	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.debug {
		cfg.Log.Level = "debug"
	}
	a.cfg = cfg

	a.logger = marquee.NewZeroLoggerWithWriter(stderr, cfg.Log.Level, cfg.Log.Pretty)

	// The session shares the pipeline's transport and with it the cookie jar.
	transport := cfg.NewTransport()
	options, err := cfg.PipelineOptions(transport, a.logger)
	if err != nil {
		return err
	}
	a.session = session.New(transport, cfg.API.BaseURL, session.WithLogger(a.logger))

	options = append(options,
		marquee.WithReauthenticator(a.session),
		marquee.WithMiddleware(marquee.RequestIDMiddleware(nil), a.session.Middleware()),
	)
	if a.debug {
		options = append(options, marquee.WithMiddleware(marquee.LoggingMiddleware(a.logger)))
	}
	a.pipeline = marquee.New(options...)
	if err := a.pipeline.ValidationError(); err != nil {
		return err
	}

	a.catalog = catalog.New(a.pipeline, cfg.API.BaseURL)
	a.loader = screens.NewLoader(a.catalog, cfg.Screens.Concurrency, a.logger)
	return nil
}

// authenticate logs in with configured credentials, if any.
func (a *app) authenticate(ctx context.Context) error {
	if a.cfg.Auth.Username == "" {
		return nil
	}
	return a.session.Login(ctx, session.Credentials{Username: a.cfg.Auth.Username, Password: a.cfg.Auth.Password})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printError prints catalog failures as envelopes and anything else, such as
// flag or configuration problems, as plain text.
func printError(w io.Writer, err error) {
	var env *marquee.ErrorEnvelope
	var clientErr *marquee.ClientError
	if errors.As(err, &env) || errors.As(err, &clientErr) {
		_ = printJSON(w, marquee.AsEnvelope(err))
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}
