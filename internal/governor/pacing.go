package governor

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// traceWindow is the trailing window over which the request rate is measured.
const traceWindow = time.Minute

// RequestTrace is an append-only sequence of request timestamps pruned to a
// trailing window. It exists only to compute the current request rate and is
// never persisted.
type RequestTrace struct {
	mu     sync.Mutex
	stamps []time.Time
}

// NewRequestTrace creates an empty trace.
func NewRequestTrace() *RequestTrace {
	return &RequestTrace{}
}

// Record appends a request timestamp and prunes entries that have left the
// window.
func (t *RequestTrace) Record(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stamps = append(t.stamps, now)
	t.prune(now)
}

// PerMinute returns the number of requests within the trailing window.
// Pruning happens lazily here, not via a background timer.
func (t *RequestTrace) PerMinute(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(now)
	return len(t.stamps)
}

func (t *RequestTrace) prune(now time.Time) {
	cutoff := now.Add(-traceWindow)
	idx := 0
	for idx < len(t.stamps) && !t.stamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		t.stamps = append(t.stamps[:0], t.stamps[idx:]...)
	}
}

// PacingState tracks pacing for one host. Its mutex serializes pacing turns,
// so two workers sharing a host cannot violate the minimum-delay invariant.
type PacingState struct {
	mu       sync.Mutex
	last     time.Time
	minDelay time.Duration
}

// Pacer decides how long each request must wait before being issued.
type Pacer struct {
	cfg   *Config
	trace *RequestTrace

	mu    sync.Mutex
	hosts map[string]*PacingState
	rng   *rand.Rand

	now func() time.Time
}

// NewPacer creates a Pacer with the given configuration. A non-zero
// cfg.Seed makes delay generation deterministic for tests.
func NewPacer(cfg *Config) *Pacer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Pacer{
		cfg:   cfg,
		trace: NewRequestTrace(),
		hosts: make(map[string]*PacingState),
		rng:   rand.New(rand.NewSource(seed)),
		now:   time.Now,
	}
}

// AwaitTurn blocks until the caller may issue a request against the host,
// then records the request. The wait is the larger of the random base delay,
// the host's crawl-delay and the auto-slowdown penalty. Cancelling the
// context aborts the wait and does not count as a request.
func (p *Pacer) AwaitTurn(ctx context.Context, host string, crawlDelay time.Duration) (time.Duration, error) {
	state := p.hostState(host)
	state.mu.Lock()
	defer state.mu.Unlock()

	delay := p.computeDelay(crawlDelay)

	timer := time.NewTimer(delay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		return 0, ctx.Err()
	}

	now := p.now()
	state.last = now
	state.minDelay = delay
	p.trace.Record(now)

	return delay, nil
}

// computeDelay returns the effective minimum delay currently in force:
// max(randomDelay, crawlDelay, slowdownPenalty).
func (p *Pacer) computeDelay(crawlDelay time.Duration) time.Duration {
	delay := p.randomDelay()
	if crawlDelay > delay {
		delay = crawlDelay
	}
	if penalty := p.slowdownPenalty(p.now()); penalty > delay {
		log.Info().
			Dur("penalty", penalty).
			Msg("Request rate above threshold, slowing down")
		delay = penalty
	}
	return delay
}

// randomDelay samples uniformly from [MinDelay, MaxDelay]. It is re-sampled
// on every call so request intervals never become predictable.
func (p *Pacer) randomDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	spread := p.cfg.MaxDelay - p.cfg.MinDelay
	if spread <= 0 {
		return p.cfg.MinDelay
	}
	return p.cfg.MinDelay + time.Duration(p.rng.Int63n(int64(spread)+1))
}

// slowdownPenalty derives an extra delay from the measured request rate.
// The penalty grows by one second per request of excess rate, so it is
// monotonic in how far over the threshold we are.
func (p *Pacer) slowdownPenalty(now time.Time) time.Duration {
	perMin := p.trace.PerMinute(now)
	excess := perMin - p.cfg.RateThresholdPerMin
	if excess <= 0 {
		return 0
	}
	penalty := p.cfg.SlowdownPenalty + time.Duration(excess)*time.Second
	if penalty > p.cfg.MaxSlowdownPenalty {
		penalty = p.cfg.MaxSlowdownPenalty
	}
	return penalty
}

// RatePerMinute reports the current measured request rate.
func (p *Pacer) RatePerMinute() int {
	return p.trace.PerMinute(p.now())
}

func (p *Pacer) hostState(host string) *PacingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if state, ok := p.hosts[host]; ok {
		return state
	}
	state := &PacingState{}
	p.hosts[host] = state
	return state
}
