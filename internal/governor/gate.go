// Package governor decides, for every outbound request, whether it may be
// issued at all (the host's published access policy) and when (self-imposed
// pacing). RequestGate is the single mandatory entry point for the fetch
// layer; no request is issued to an external site without passing it.
package governor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wagewatch/wagewatch/internal/observability"
)

// Governor combines the policy check and the pacing decision.
type Governor struct {
	cfg      *Config
	policies *PolicyStore
	pacer    *Pacer
}

// Decision is the outcome of a RequestGate call.
type Decision struct {
	// Proceed reports whether the fetch layer may issue the request.
	Proceed bool
	// Waited is how long the pacing decision blocked for. Disallowed paths
	// consume no pacing delay.
	Waited time.Duration
	// CrawlDelay is the host-declared minimum delay, if any.
	CrawlDelay time.Duration
	// PolicyUnknown reports that the decision was taken without a readable
	// policy document (fail-open or fail-closed per configuration).
	PolicyUnknown bool
}

// New creates a Governor. Configuration errors are fatal at startup.
func New(cfg *Config) (*Governor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Governor{
		cfg:      cfg,
		policies: NewPolicyStore(cfg),
		pacer:    NewPacer(cfg),
	}, nil
}

// IsAllowed checks the host's access policy for a request path. It is
// idempotent and has no side effects beyond the policy cache. When the
// policy document cannot be fetched the configured fail-open choice applies.
func (g *Governor) IsAllowed(ctx context.Context, host, path string) (bool, time.Duration) {
	allowed, crawlDelay, _ := g.check(ctx, host, path)
	return allowed, crawlDelay
}

func (g *Governor) check(ctx context.Context, host, path string) (allowed bool, crawlDelay time.Duration, unknown bool) {
	policy, err := g.policies.Get(ctx, host)
	if err != nil || policy.Unknown {
		if g.cfg.FailOpenOnPolicyError {
			log.Warn().
				Str("host", host).
				Str("path", path).
				Msg("Policy unavailable, failing open")
			return true, 0, true
		}
		log.Warn().
			Str("host", host).
			Str("path", path).
			Msg("Policy unavailable, failing closed")
		return false, 0, true
	}

	return policy.IsAllowed(path), policy.CrawlDelay, false
}

// RequestGate runs the policy check and, only if the path is allowed, the
// pacing decision. Disallowed paths return immediately without waiting.
// A cancelled wait returns the context error and does not count as a request.
func (g *Governor) RequestGate(ctx context.Context, host, path string) (Decision, error) {
	allowed, crawlDelay, unknown := g.check(ctx, host, path)
	if !allowed {
		log.Debug().
			Str("host", host).
			Str("path", path).
			Msg("Request disallowed by access policy")
		observability.RecordGateDecision(ctx, host, false, 0)
		return Decision{Proceed: false, CrawlDelay: crawlDelay, PolicyUnknown: unknown}, nil
	}

	// A fail-open policy check never skips the pacing wait.
	waited, err := g.pacer.AwaitTurn(ctx, host, crawlDelay)
	if err != nil {
		return Decision{}, err
	}

	observability.RecordGateDecision(ctx, host, true, waited)
	return Decision{Proceed: true, Waited: waited, CrawlDelay: crawlDelay, PolicyUnknown: unknown}, nil
}

// RatePerMinute reports the governor's measured request rate over the
// trailing minute.
func (g *Governor) RatePerMinute() int {
	return g.pacer.RatePerMinute()
}
