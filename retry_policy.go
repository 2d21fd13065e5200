package marquee

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ambiyansyah-risyal/marquee/internal/backoff"
)

// Action is what a chain does when a response carries a trigger status.
type Action int

const (
	// ActionPassThrough returns the response unchanged.
	ActionPassThrough Action = iota
	// ActionReauthenticate calls the rule target once and replays the
	// triggering request if the call was not rejected with 401.
	ActionReauthenticate
	// ActionFallback issues the rule target once and continues with its result.
	ActionFallback
)

// String returns the configuration name of the action.
func (a Action) String() string {
	switch a {
	case ActionReauthenticate:
		return "reauthenticate"
	case ActionFallback:
		return "fallback"
	default:
		return "pass"
	}
}

// ParseAction converts a configuration name into an Action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pass", "passthrough":
		return ActionPassThrough, nil
	case "reauthenticate", "reauth":
		return ActionReauthenticate, nil
	case "fallback":
		return ActionFallback, nil
	}
	return ActionPassThrough, fmt.Errorf("unknown retry action %q", s)
}

// Rule binds a trigger status to an action. Target may be absolute or
// relative to the triggering request's URL; an empty Target on a fallback
// re-issues the triggering request.
type Rule struct {
	Action      Action
	Target      string
	Method      string
	Header      http.Header
	Body        []byte
	MaxAttempts int
}

// BackoffStrategy selects the delay curve between chain steps.
type BackoffStrategy int

const (
	// ExponentialJitter multiplies the delay per step and adds jitter.
	ExponentialJitter BackoffStrategy = iota
	// DecorrelatedJitter picks a random delay between Initial and three times the previous delay.
	DecorrelatedJitter
)

// String returns the configuration name of the strategy.
func (s BackoffStrategy) String() string {
	if s == DecorrelatedJitter {
		return "decorrelated"
	}
	return "exponential"
}

// ParseBackoffStrategy converts a configuration name into a BackoffStrategy.
func ParseBackoffStrategy(s string) (BackoffStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exponential", "exponential-jitter":
		return ExponentialJitter, nil
	case "decorrelated", "decorrelated-jitter":
		return DecorrelatedJitter, nil
	}
	return ExponentialJitter, fmt.Errorf("unknown backoff strategy %q", s)
}

// Backoff configures the wait between chain steps. A zero Initial disables waiting.
type Backoff struct {
	Strategy   BackoffStrategy
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

func (b Backoff) calculator() backoff.Calculator {
	var strategy backoff.Strategy = backoff.Exponential{}
	if b.Strategy == DecorrelatedJitter {
		strategy = backoff.Decorrelated{}
	}
	return backoff.Calculator{
		Strategy:   strategy,
		Initial:    b.Initial,
		Max:        b.Max,
		Multiplier: b.Multiplier,
		Jitter:     b.Jitter,
	}
}

// delay honours a Retry-After header on the previous response and falls back
// to the configured curve. last is the delay waited before the previous step.
func (b Backoff) delay(step int, last time.Duration, prev *Response) time.Duration {
	if !b.calculator().Enabled() {
		return 0
	}
	if prev != nil {
		if d := parseRetryAfter(prev.Header.Get("Retry-After")); d > 0 {
			if b.Max > 0 && d > b.Max {
				return b.Max
			}
			return d
		}
	}
	return b.calculator().Delay(step, last)
}

// RetryPolicy maps trigger statuses to rules. It is configuration data:
// every chain works on its own snapshot and never writes to it.
type RetryPolicy struct {
	Rules map[int]Rule
	// MaxCalls caps the transport calls a single chain may issue.
	MaxCalls int
	Backoff  Backoff
}

// Default re-authentication endpoint and chain call cap.
const (
	DefaultRefreshPath = "/api/users/refresh"
	DefaultMaxCalls    = 8
)

// DefaultRetryPolicy re-authenticates on 401 against the refresh endpoint and
// re-issues the request once on 404.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Rules: map[int]Rule{
			http.StatusUnauthorized: {
				Action:      ActionReauthenticate,
				Target:      DefaultRefreshPath,
				Method:      http.MethodPost,
				MaxAttempts: 1,
			},
			http.StatusNotFound: {
				Action:      ActionFallback,
				MaxAttempts: 1,
			},
		},
		MaxCalls: DefaultMaxCalls,
	}
}

// Clone returns a deep copy of p.
func (p RetryPolicy) Clone() RetryPolicy {
	out := p
	out.Rules = make(map[int]Rule, len(p.Rules))
	for status, rule := range p.Rules {
		rule.Header = rule.Header.Clone()
		if rule.Body != nil {
			rule.Body = append([]byte(nil), rule.Body...)
		}
		out.Rules[status] = rule
	}
	return out
}

// Rule returns the rule for status, if any non pass-through rule exists.
func (p RetryPolicy) Rule(status int) (Rule, bool) {
	rule, ok := p.Rules[status]
	if !ok || rule.Action == ActionPassThrough {
		return Rule{}, false
	}
	return rule, true
}

// Validate reports configuration problems.
func (p RetryPolicy) Validate() error {
	if errors := p.problems(); len(errors) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "retry policy validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errors),
		}
	}
	return nil
}

func (p RetryPolicy) problems() []string {
	var errors []string

	if p.MaxCalls < 1 {
		errors = append(errors, "maxCalls must be at least 1")
	}
	if p.MaxCalls > 100 {
		errors = append(errors, "maxCalls > 100 may cause excessive resource usage")
	}

	statuses := make([]int, 0, len(p.Rules))
	for status := range p.Rules {
		statuses = append(statuses, status)
	}
	sort.Ints(statuses)

	for _, status := range statuses {
		rule := p.Rules[status]
		if status < 100 || status > 599 {
			errors = append(errors, fmt.Sprintf("rule status %d is not an HTTP status", status))
		}
		if status >= 200 && status < 300 && rule.Action != ActionPassThrough {
			errors = append(errors, fmt.Sprintf("rule %d: successful statuses cannot trigger retries", status))
		}
		if rule.Action == ActionPassThrough {
			continue
		}
		if rule.MaxAttempts < 1 {
			errors = append(errors, fmt.Sprintf("rule %d: maxAttempts must be at least 1", status))
		}
		if rule.Action == ActionReauthenticate && rule.Target == "" {
			errors = append(errors, fmt.Sprintf("rule %d: reauthenticate requires a target", status))
		}
	}

	if p.Backoff.Initial < 0 {
		errors = append(errors, "backoff initial must be non-negative")
	}
	if p.Backoff.Initial > 0 {
		if p.Backoff.Max < p.Backoff.Initial {
			errors = append(errors, "backoff max must be greater than or equal to initial")
		}
		if p.Backoff.Strategy == ExponentialJitter && p.Backoff.Multiplier <= 0 {
			errors = append(errors, "backoff multiplier must be positive")
		}
		if p.Backoff.Max > time.Hour {
			errors = append(errors, "backoff max > 1h may cause extremely long delays")
		}
	}
	if p.Backoff.Jitter < 0 || p.Backoff.Jitter > 1 {
		errors = append(errors, "backoff jitter must be between 0 and 1")
	}

	return errors
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds format and HTTP-date format.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}
