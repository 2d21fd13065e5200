// Package marquee provides the request pipeline behind the movie catalog
// client: an explicit wrapper around a Transport that applies a
// status-driven retry policy to every response.
//
// A RetryPolicy maps trigger statuses to rules:
//
//   - 401 re-authenticates against the refresh endpoint, then replays the
//     triggering request once. A 401 from the refresh call ends the chain
//     with the sentinel (empty) Response.
//   - 404 re-issues the request, or a configured fallback target, once.
//   - Every other status is returned unchanged.
//
// Each Send runs an independent chain with its own attempt counters and a
// snapshot of the policy, so concurrent chains never influence each other
// and the policy can be swapped at runtime with UpdatePolicy. Chains are
// bounded by per-rule MaxAttempts and the policy-wide MaxCalls cap, and stop
// issuing calls as soon as their context is done.
//
// Typical usage:
//
//	p := marquee.New(
//	    marquee.WithMiddleware(marquee.DefaultHeadersMiddleware(marquee.JSONHeaders())),
//	    marquee.WithMetrics(),
//	)
//	resp := p.Send(ctx, marquee.NewRequest(http.MethodGet, "http://localhost:8080/api/main/movies/", nil))
//	if env := marquee.NewErrorEnvelope(resp); env != nil {
//	    return env
//	}
//
// Send never returns nil and never panics: transport failures, malformed JSON
// bodies and cancellation are reported on Response.Err. Do returns the same
// information as a Go error.
package marquee
