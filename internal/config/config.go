// Package config loads marquee settings from defaults, an optional YAML file
// and MARQUEE_ environment variables, in increasing order of priority.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ambiyansyah-risyal/marquee"
)

// EnvPrefix is the prefix of environment overrides. MARQUEE_API_BASEURL sets
// api.baseurl.
const EnvPrefix = "MARQUEE_"

// Config is the full application configuration.
type Config struct {
	API     APIConfig     `koanf:"api"`
	Retry   RetryConfig   `koanf:"retry"`
	Auth    AuthConfig    `koanf:"auth"`
	Log     LogConfig     `koanf:"log"`
	Server  ServerConfig  `koanf:"server"`
	Metrics MetricsConfig `koanf:"metrics"`
	Screens ScreensConfig `koanf:"screens"`
}

// APIConfig locates the catalog server.
type APIConfig struct {
	BaseURL      string        `koanf:"baseurl" validate:"required,url"`
	Timeout      time.Duration `koanf:"timeout" validate:"gt=0"`
	MaxBodyBytes int64         `koanf:"maxbodybytes" validate:"gt=0"`
}

// RetryConfig is the retry policy in configuration form. An empty rule list
// selects the default rules.
type RetryConfig struct {
	MaxCalls int           `koanf:"maxcalls" validate:"gte=1"`
	Rules    []RuleConfig  `koanf:"rules" validate:"dive"`
	Backoff  BackoffConfig `koanf:"backoff"`
}

// RuleConfig binds one trigger status to an action.
type RuleConfig struct {
	Status      int               `koanf:"status" validate:"gte=100,lte=599"`
	Action      string            `koanf:"action" validate:"omitempty,oneof=pass passthrough reauthenticate reauth fallback"`
	Target      string            `koanf:"target"`
	Method      string            `koanf:"method"`
	Headers     map[string]string `koanf:"headers"`
	Body        string            `koanf:"body"`
	MaxAttempts int               `koanf:"maxattempts" validate:"gte=0"`
}

// BackoffConfig configures the wait between chain steps.
type BackoffConfig struct {
	Strategy   string        `koanf:"strategy" validate:"omitempty,oneof=exponential exponential-jitter decorrelated decorrelated-jitter"`
	Initial    time.Duration `koanf:"initial" validate:"gte=0"`
	Max        time.Duration `koanf:"max" validate:"gte=0"`
	Multiplier float64       `koanf:"multiplier" validate:"gte=0"`
	Jitter     float64       `koanf:"jitter" validate:"gte=0,lte=1"`
}

// AuthConfig holds optional login credentials.
type AuthConfig struct {
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// LogConfig configures the zerolog logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `koanf:"pretty"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `koanf:"addr" validate:"required"`
}

// MetricsConfig toggles Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// ScreensConfig bounds concurrent section loads.
type ScreensConfig struct {
	Concurrency int `koanf:"concurrency" validate:"gte=1,lte=16"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg, err := unmarshal(newKoanf())
	if err != nil {
		return &Config{}
	}
	return cfg
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply.
func Load(path string) (*Config, error) {
	k := newKoanf()

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.TrimPrefix(key, EnvPrefix)
			return strings.ReplaceAll(strings.ToLower(key), "_", "."), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg, err := unmarshal(k)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newKoanf() *koanf.Koanf {
	k := koanf.New(".")
	// confmap never fails on a flat map.
	_ = k.Load(confmap.Provider(defaults(), "."), nil)
	return k
}

func defaults() map[string]any {
	return map[string]any{
		"api.baseurl":      "http://localhost:8080",
		"api.timeout":      "30s",
		"api.maxbodybytes": marquee.DefaultMaxBodyBytes,

		"retry.maxcalls":           marquee.DefaultMaxCalls,
		"retry.backoff.strategy":   "exponential",
		"retry.backoff.initial":    "0s",
		"retry.backoff.max":        "2s",
		"retry.backoff.multiplier": 2.0,
		"retry.backoff.jitter":     0.1,

		"log.level":  "info",
		"log.pretty": false,

		"server.addr": ":8090",

		"metrics.enabled": true,

		"screens.concurrency": 3,
	}
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

// normalize lowercases enumerated values so validation accepts any casing.
func (c *Config) normalize() {
	for i := range c.Retry.Rules {
		c.Retry.Rules[i].Action = strings.ToLower(strings.TrimSpace(c.Retry.Rules[i].Action))
	}
	c.Retry.Backoff.Strategy = strings.ToLower(strings.TrimSpace(c.Retry.Backoff.Strategy))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
}

// Validate checks field constraints and the resulting retry policy.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			problems := make([]string, 0, len(fieldErrors))
			for _, fe := range fieldErrors {
				problems = append(problems, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(problems, "; "))
		}
		return err
	}

	policy, err := c.Retry.Policy()
	if err != nil {
		return err
	}
	return policy.Validate()
}

// Policy converts the retry section into a marquee.RetryPolicy.
func (r RetryConfig) Policy() (marquee.RetryPolicy, error) {
	policy := marquee.DefaultRetryPolicy()
	policy.MaxCalls = r.MaxCalls

	strategy, err := marquee.ParseBackoffStrategy(r.Backoff.Strategy)
	if err != nil {
		return policy, err
	}
	policy.Backoff = marquee.Backoff{
		Strategy:   strategy,
		Initial:    r.Backoff.Initial,
		Max:        r.Backoff.Max,
		Multiplier: r.Backoff.Multiplier,
		Jitter:     r.Backoff.Jitter,
	}

	if len(r.Rules) == 0 {
		return policy, nil
	}

	policy.Rules = make(map[int]marquee.Rule, len(r.Rules))
	for _, rc := range r.Rules {
		if _, dup := policy.Rules[rc.Status]; dup {
			return policy, fmt.Errorf("duplicate rule for status %d", rc.Status)
		}
		rule, err := rc.rule()
		if err != nil {
			return policy, fmt.Errorf("rule %d: %w", rc.Status, err)
		}
		policy.Rules[rc.Status] = rule
	}
	return policy, nil
}

func (rc RuleConfig) rule() (marquee.Rule, error) {
	action, err := marquee.ParseAction(rc.Action)
	if err != nil {
		return marquee.Rule{}, err
	}

	rule := marquee.Rule{
		Action:      action,
		Target:      rc.Target,
		Method:      strings.ToUpper(rc.Method),
		MaxAttempts: rc.MaxAttempts,
	}
	if rule.MaxAttempts == 0 && action != marquee.ActionPassThrough {
		rule.MaxAttempts = 1
	}
	if action == marquee.ActionReauthenticate && rule.Target == "" {
		rule.Target = marquee.DefaultRefreshPath
	}
	if action == marquee.ActionReauthenticate && rule.Method == "" {
		rule.Method = http.MethodPost
	}
	if len(rc.Headers) > 0 {
		rule.Header = make(http.Header, len(rc.Headers))
		for name, value := range rc.Headers {
			rule.Header.Set(name, value)
		}
	}
	if rc.Body != "" {
		rule.Body = []byte(rc.Body)
	}
	return rule, nil
}

// NewTransport returns a cookie-aware HTTP transport with the configured
// timeout and body limit.
func (c *Config) NewTransport() *marquee.HTTPTransport {
	transport := marquee.NewHTTPTransport(nil)
	transport.Client().Timeout = c.API.Timeout
	transport.SetMaxBodyBytes(c.API.MaxBodyBytes)
	return transport
}

// PipelineOptions returns the pipeline options implied by c for calls issued
// on transport.
func (c *Config) PipelineOptions(transport marquee.Transport, logger marquee.Logger) ([]marquee.Option, error) {
	policy, err := c.Retry.Policy()
	if err != nil {
		return nil, err
	}

	options := []marquee.Option{
		marquee.WithTransport(transport),
		marquee.WithRetryPolicy(policy),
		marquee.WithMiddleware(marquee.DefaultHeadersMiddleware(marquee.JSONHeaders())),
	}
	if logger != nil {
		options = append(options, marquee.WithLogger(logger))
		if c.Log.Level == "debug" || c.Log.Level == "trace" {
			options = append(options, marquee.WithDebug())
		}
	}
	if c.Metrics.Enabled {
		options = append(options, marquee.WithMetrics())
	}
	return options, nil
}
