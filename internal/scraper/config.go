package scraper

import (
	"os"
	"strconv"
	"time"
)

// Config holds the configuration for a scraper instance.
type Config struct {
	UserAgent         string        // User agent string for requests
	DefaultTimeout    time.Duration // Default timeout for page requests
	MaxPagesPerSearch int           // Listing pages to fetch per search query
	MaxJobsPerSource  int           // Cap on jobs collected per source per city
}

// DefaultConfig returns a Config instance with default values.
func DefaultConfig() *Config {
	return &Config{
		UserAgent:         "WageWatch/1.0 (+https://wagewatch.dev/bot)",
		DefaultTimeout:    30 * time.Second,
		MaxPagesPerSearch: 2,
		MaxJobsPerSource:  50,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by recognised environment
// variables.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("MAX_PAGES_PER_SEARCH"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxPagesPerSearch = n
		}
	}
	if v, ok := os.LookupEnv("MAX_JOBS_PER_SOURCE"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxJobsPerSource = n
		}
	}
	if v, ok := os.LookupEnv("SCRAPER_USER_AGENT"); ok && v != "" {
		cfg.UserAgent = v
	}

	return cfg
}
