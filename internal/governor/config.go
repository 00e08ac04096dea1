package governor

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the configuration for a Governor instance.
type Config struct {
	// MinDelay and MaxDelay bound the random pacing delay between requests.
	MinDelay time.Duration
	MaxDelay time.Duration
	// RateThresholdPerMin is the request rate (trailing 60s) above which the
	// auto-slowdown penalty kicks in.
	RateThresholdPerMin int
	// SlowdownPenalty is the base penalty added once the threshold is
	// exceeded; one extra second is added per request of excess rate.
	SlowdownPenalty time.Duration
	// MaxSlowdownPenalty caps the auto-slowdown penalty.
	MaxSlowdownPenalty time.Duration
	// PolicyTTL is how long a fetched access policy stays valid.
	PolicyTTL time.Duration
	// PolicyErrorTTL is the negative-cache TTL applied after a failed policy
	// fetch, so a broken endpoint is not hammered.
	PolicyErrorTTL time.Duration
	// PolicyFetchTimeout bounds a single policy document fetch.
	PolicyFetchTimeout time.Duration
	// FailOpenOnPolicyError treats an unreachable or unparseable policy
	// document as "allow everything". Stricter deployments can flip this to
	// fail closed.
	FailOpenOnPolicyError bool
	// UserAgent identifies us when fetching policy documents and is matched
	// against agent-specific policy sections.
	UserAgent string
	// Seed seeds the pacing delay generator for deterministic tests.
	// Zero selects a non-deterministic seed.
	Seed int64
}

// DefaultConfig returns a Config instance with conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		MinDelay:              3 * time.Second,
		MaxDelay:              7 * time.Second,
		RateThresholdPerMin:   15,
		SlowdownPenalty:       5 * time.Second,
		MaxSlowdownPenalty:    60 * time.Second,
		PolicyTTL:             24 * time.Hour,
		PolicyErrorTTL:        5 * time.Minute,
		PolicyFetchTimeout:    10 * time.Second,
		FailOpenOnPolicyError: true,
		UserAgent:             "WageWatch/1.0 (+https://wagewatch.dev/bot)",
	}
}

// ConfigFromEnv returns DefaultConfig overridden by recognised environment
// variables. Invalid values are ignored in favour of the default.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("MIN_DELAY"); ok {
		if sec, err := strconv.Atoi(v); err == nil && sec >= 0 {
			cfg.MinDelay = time.Duration(sec) * time.Second
		}
	}
	if v, ok := os.LookupEnv("MAX_DELAY"); ok {
		if sec, err := strconv.Atoi(v); err == nil && sec >= 0 {
			cfg.MaxDelay = time.Duration(sec) * time.Second
		}
	}
	if v, ok := os.LookupEnv("RATE_THRESHOLD_PER_MIN"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateThresholdPerMin = n
		}
	}
	if v, ok := os.LookupEnv("POLICY_TTL_SECONDS"); ok {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.PolicyTTL = time.Duration(sec) * time.Second
		}
	}
	if v, ok := os.LookupEnv("POLICY_FAIL_OPEN"); ok {
		cfg.FailOpenOnPolicyError = v == "1" || v == "true" || v == "TRUE"
	}
	if v, ok := os.LookupEnv("GOVERNOR_USER_AGENT"); ok && v != "" {
		cfg.UserAgent = v
	}

	return cfg
}

// Validate reports configuration that cannot be safely defaulted around.
// Inverted delay bounds are a startup error, never silently swapped.
func (c *Config) Validate() error {
	if c.MinDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("governor: delay bounds must be non-negative (min=%s max=%s)", c.MinDelay, c.MaxDelay)
	}
	if c.MinDelay > c.MaxDelay {
		return fmt.Errorf("governor: MIN_DELAY (%s) exceeds MAX_DELAY (%s)", c.MinDelay, c.MaxDelay)
	}
	if c.RateThresholdPerMin <= 0 {
		return fmt.Errorf("governor: rate threshold must be positive, got %d", c.RateThresholdPerMin)
	}
	if c.PolicyTTL <= 0 {
		return fmt.Errorf("governor: policy TTL must be positive, got %s", c.PolicyTTL)
	}
	return nil
}
