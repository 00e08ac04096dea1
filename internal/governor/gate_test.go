package governor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGovernor(t *testing.T, cfg *Config) *Governor {
	t.Helper()
	g, err := New(cfg)
	require.NoError(t, err)
	return g
}

func primePolicy(g *Governor, policy *AccessPolicy) {
	g.policies.cache.Set(policy.Host, policy, g.cfg.PolicyTTL)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinDelay = 10 * time.Second
	cfg.MaxDelay = 3 * time.Second

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MIN_DELAY")
}

func TestRequestGateDisallowedConsumesNoDelay(t *testing.T) {
	g := testGovernor(t, testPacerConfig())
	primePolicy(g, &AccessPolicy{
		Host:  "jobs.example.com",
		Rules: []Rule{{Path: "/private", Allow: false}},
	})

	start := time.Now()
	decision, err := g.RequestGate(context.Background(), "jobs.example.com", "/private/listings")
	require.NoError(t, err)

	assert.False(t, decision.Proceed)
	assert.Equal(t, time.Duration(0), decision.Waited)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, g.RatePerMinute())
}

func TestRequestGateAllowedWaitsAndRecords(t *testing.T) {
	cfg := testPacerConfig()
	g := testGovernor(t, cfg)
	primePolicy(g, &AccessPolicy{
		Host:       "jobs.example.com",
		Rules:      []Rule{{Path: "/private", Allow: false}},
		CrawlDelay: 15 * time.Millisecond,
	})

	decision, err := g.RequestGate(context.Background(), "jobs.example.com", "/listings")
	require.NoError(t, err)

	assert.True(t, decision.Proceed)
	assert.Equal(t, 15*time.Millisecond, decision.Waited)
	assert.Equal(t, 15*time.Millisecond, decision.CrawlDelay)
	assert.Equal(t, 1, g.RatePerMinute())
}

func TestRequestGateLongerAllowOverridesDisallow(t *testing.T) {
	g := testGovernor(t, testPacerConfig())
	primePolicy(g, &AccessPolicy{
		Host: "jobs.example.com",
		Rules: []Rule{
			{Path: "/jobs", Allow: false},
			{Path: "/jobs/search", Allow: true},
		},
	})

	decision, err := g.RequestGate(context.Background(), "jobs.example.com", "/jobs/search")
	require.NoError(t, err)
	assert.True(t, decision.Proceed)
}

func TestRequestGateFailOpenStillPaces(t *testing.T) {
	cfg := testPacerConfig()
	cfg.FailOpenOnPolicyError = true
	g := testGovernor(t, cfg)
	primePolicy(g, &AccessPolicy{Host: "down.example.com", Unknown: true})

	decision, err := g.RequestGate(context.Background(), "down.example.com", "/listings")
	require.NoError(t, err)

	assert.True(t, decision.Proceed)
	assert.True(t, decision.PolicyUnknown)
	assert.GreaterOrEqual(t, decision.Waited, cfg.MinDelay)
	assert.Equal(t, 1, g.RatePerMinute())
}

func TestRequestGateFailClosed(t *testing.T) {
	cfg := testPacerConfig()
	cfg.FailOpenOnPolicyError = false
	g := testGovernor(t, cfg)
	primePolicy(g, &AccessPolicy{Host: "down.example.com", Unknown: true})

	decision, err := g.RequestGate(context.Background(), "down.example.com", "/listings")
	require.NoError(t, err)

	assert.False(t, decision.Proceed)
	assert.True(t, decision.PolicyUnknown)
	assert.Equal(t, 0, g.RatePerMinute())
}

func TestRequestGateCancelled(t *testing.T) {
	cfg := testPacerConfig()
	cfg.MinDelay = time.Minute
	cfg.MaxDelay = 2 * time.Minute
	g := testGovernor(t, cfg)
	primePolicy(g, &AccessPolicy{Host: "jobs.example.com"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := g.RequestGate(ctx, "jobs.example.com", "/listings")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, g.RatePerMinute())
}
