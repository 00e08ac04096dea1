package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wagewatch/wagewatch/internal/scraper"
)

// marketRatesCacheTTL bounds how stale a cached aggregate may get.
const marketRatesCacheTTL = 5 * time.Minute

// UpsertJob inserts one job posting, updating the pay fields when the same
// posting URL was seen in an earlier run.
func (d *DB) UpsertJob(ctx context.Context, job *scraper.Job) error {
	_, err := d.client.ExecContext(ctx, `
		INSERT INTO jobs (
			id, title, facility, location, specialty, pay_raw,
			hourly_rate, rate_low, rate_high, rate_confidence,
			source, source_url, scraped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (source_url) DO UPDATE SET
			pay_raw = EXCLUDED.pay_raw,
			hourly_rate = EXCLUDED.hourly_rate,
			rate_low = EXCLUDED.rate_low,
			rate_high = EXCLUDED.rate_high,
			rate_confidence = EXCLUDED.rate_confidence,
			scraped_at = EXCLUDED.scraped_at,
			updated_at = NOW()
	`,
		job.ID, job.Title, job.Facility, job.Location, job.Specialty, job.PayRaw,
		job.Rate.Hourly, job.Rate.Low, job.Rate.High, string(job.Rate.Confidence),
		job.Source, job.SourceURL, job.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert job %s: %w", job.SourceURL, err)
	}
	return nil
}

// SaveJobs stores a batch of postings, continuing past individual failures.
// It returns the number stored and the last error encountered.
func (d *DB) SaveJobs(ctx context.Context, jobs []scraper.Job) (int, error) {
	var saved int
	var lastErr error
	for i := range jobs {
		if err := d.UpsertJob(ctx, &jobs[i]); err != nil {
			lastErr = err
			log.Warn().Err(err).Str("source_url", jobs[i].SourceURL).Msg("Failed to store job")
			continue
		}
		saved++
	}
	return saved, lastErr
}

// SaveRun records one scrape run's summary counters.
func (d *DB) SaveRun(ctx context.Context, runID string, startedAt, finishedAt time.Time, stats scraper.Stats) error {
	_, err := d.client.ExecContext(ctx, `
		INSERT INTO runs (
			id, started_at, finished_at,
			requests, disallowed, skipped, unparseable, errors, jobs
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		runID, startedAt, finishedAt,
		stats.Requests, stats.Disallowed, stats.Skipped, stats.Unparseable, stats.Errors, stats.Jobs,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", runID, err)
	}
	return nil
}

// MarketRate is the aggregate hourly rate picture for one location.
type MarketRate struct {
	Location string
	Jobs     int
	Average  float64
	Min      float64
	Max      float64
}

// MarketRates aggregates hourly rates by location over the trailing window.
// Postings without a parseable rate are excluded. Results are cached briefly
// since the dashboard polls this.
func (d *DB) MarketRates(ctx context.Context, since time.Time) ([]MarketRate, error) {
	cacheKey := fmt.Sprintf("market_rates:%d", since.Unix())
	if cached, ok := d.cache.Get(cacheKey); ok {
		return cached.([]MarketRate), nil
	}

	rows, err := d.client.QueryContext(ctx, `
		SELECT location, COUNT(*), AVG(hourly_rate), MIN(hourly_rate), MAX(hourly_rate)
		FROM jobs
		WHERE hourly_rate IS NOT NULL AND scraped_at >= $1
		GROUP BY location
		ORDER BY COUNT(*) DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query market rates: %w", err)
	}
	defer rows.Close()

	var rates []MarketRate
	for rows.Next() {
		var r MarketRate
		if err := rows.Scan(&r.Location, &r.Jobs, &r.Average, &r.Min, &r.Max); err != nil {
			return nil, fmt.Errorf("failed to scan market rate row: %w", err)
		}
		rates = append(rates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read market rates: %w", err)
	}

	d.cache.Set(cacheKey, rates, marketRatesCacheTTL)
	return rates, nil
}
