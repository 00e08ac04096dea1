package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagewatch/wagewatch/internal/cache"
	"github.com/wagewatch/wagewatch/internal/payrate"
	"github.com/wagewatch/wagewatch/internal/scraper"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	client, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return &DB{client: client, cache: cache.NewTTLCache()}, mock
}

func testJob() scraper.Job {
	hourly := 65.50
	return scraper.Job{
		ID:        "11111111-1111-1111-1111-111111111111",
		Title:     "ICU Registered Nurse",
		Facility:  "Mercy General",
		Location:  "Sacramento, CA",
		PayRaw:    "$65.50/hr",
		Rate:      payrate.NormalizedRate{Hourly: &hourly, Confidence: payrate.ConfidenceExact, Raw: "$65.50/hr"},
		Source:    "vivian",
		SourceURL: "https://www.vivian.com/jobs/1001",
		ScrapedAt: time.Now().UTC(),
	}
}

func TestConfigConnectionString(t *testing.T) {
	cfg := &Config{
		Host:     "localhost",
		Port:     "5432",
		User:     "postgres",
		Password: "secret",
		Database: "wagewatch",
		SSLMode:  "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=secret dbname=wagewatch sslmode=disable",
		cfg.ConnectionString())

	cfg.DatabaseURL = "postgres://u:p@host/db"
	assert.Equal(t, "postgres://u:p@host/db", cfg.ConnectionString())
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	_, err := New(&Config{Port: "5432", User: "postgres", Database: "wagewatch"})
	assert.ErrorContains(t, err, "host is required")

	_, err = New(&Config{Host: "localhost", Database: "wagewatch"})
	assert.ErrorContains(t, err, "user is required")

	_, err = New(&Config{Host: "localhost", User: "postgres"})
	assert.ErrorContains(t, err, "name is required")
}

func TestUpsertJob(t *testing.T) {
	d, mock := newMockDB(t)
	job := testJob()

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(
			job.ID, job.Title, job.Facility, job.Location, job.Specialty, job.PayRaw,
			job.Rate.Hourly, job.Rate.Low, job.Rate.High, string(job.Rate.Confidence),
			job.Source, job.SourceURL, job.ScrapedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := d.UpsertJob(context.Background(), &job)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveJobsContinuesPastFailures(t *testing.T) {
	d, mock := newMockDB(t)

	first := testJob()
	second := testJob()
	second.ID = "22222222-2222-2222-2222-222222222222"
	second.SourceURL = "https://www.vivian.com/jobs/1002"

	mock.ExpectExec("INSERT INTO jobs").WillReturnError(errors.New("connection reset"))
	mock.ExpectExec("INSERT INTO jobs").WillReturnResult(sqlmock.NewResult(0, 1))

	saved, err := d.SaveJobs(context.Background(), []scraper.Job{first, second})
	assert.Equal(t, 1, saved)
	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRun(t *testing.T) {
	d, mock := newMockDB(t)

	started := time.Now().Add(-time.Minute)
	finished := time.Now()
	stats := scraper.Stats{Requests: 12, Disallowed: 2, Skipped: 1, Unparseable: 3, Errors: 1, Jobs: 40}

	mock.ExpectExec("INSERT INTO runs").
		WithArgs("run-1", started, finished, 12, 2, 1, 3, 1, 40).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := d.SaveRun(context.Background(), "run-1", started, finished, stats)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarketRates(t *testing.T) {
	d, mock := newMockDB(t)
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"location", "count", "avg", "min", "max"}).
		AddRow("Sacramento, CA", 40, 62.5, 45.0, 88.0).
		AddRow("Austin, TX", 25, 55.1, 38.0, 72.0)

	mock.ExpectQuery("SELECT location, COUNT").
		WithArgs(since).
		WillReturnRows(rows)

	rates, err := d.MarketRates(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, rates, 2)
	assert.Equal(t, "Sacramento, CA", rates[0].Location)
	assert.Equal(t, 40, rates[0].Jobs)
	assert.InDelta(t, 62.5, rates[0].Average, 0.001)

	// Second call within the TTL is served from cache, no second query.
	cached, err := d.MarketRates(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, rates, cached)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarketRatesQueryError(t *testing.T) {
	d, mock := newMockDB(t)
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT location, COUNT").
		WillReturnError(errors.New("relation does not exist"))

	_, err := d.MarketRates(context.Background(), since)
	assert.ErrorContains(t, err, "failed to query market rates")
}
