package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagewatch/wagewatch/internal/extractor"
	"github.com/wagewatch/wagewatch/internal/governor"
	"github.com/wagewatch/wagewatch/internal/payrate"
)

// stubGate allows or refuses every request and records how often it was asked.
type stubGate struct {
	proceed bool
	err     error
	calls   atomic.Int64
}

func (g *stubGate) RequestGate(ctx context.Context, host, path string) (governor.Decision, error) {
	g.calls.Add(1)
	if g.err != nil {
		return governor.Decision{}, g.err
	}
	return governor.Decision{Proceed: g.proceed}, nil
}

const listingHTML = `<!DOCTYPE html>
<html><body>
<div class="job-listing">
  <h2 class="job-title">ICU Registered Nurse</h2>
  <span class="job-agency">Mercy General</span>
  <span class="job-location">Sacramento, CA</span>
  <span class="job-pay">$65.50/hr</span>
  <a class="job-link" href="/jobs/1001">View</a>
</div>
<div class="job-listing">
  <h2 class="job-title">ER Travel Nurse</h2>
  <span class="job-agency">St. Vincent</span>
  <span class="job-location">Portland, OR</span>
  <span class="job-pay">$2,400/week</span>
  <a class="job-link" href="/jobs/1002">View</a>
</div>
<div class="job-listing">
  <h2 class="job-title">Med-Surg Nurse</h2>
  <span class="job-agency">Harborview</span>
  <span class="job-location">Seattle, WA</span>
  <span class="job-pay">Competitive pay</span>
  <a class="job-link" href="/jobs/1003">View</a>
</div>
</body></html>`

func testSource(serverURL string) Source {
	return Source{
		Name:      "testboard",
		Host:      "testboard.example",
		SearchURL: serverURL + "/jobs?city=%s&state=%s&page=%d",
		Selectors: Selectors{
			Card:     ".job-listing",
			Title:    ".job-title",
			Facility: ".job-agency",
			Location: ".job-location",
			Pay:      ".job-pay",
			Link:     "a.job-link",
		},
	}
}

func testScraper(t *testing.T, gate Gater, cfg *Config) *Scraper {
	t.Helper()
	norm, err := payrate.NewNormalizer(payrate.DefaultConfig())
	require.NoError(t, err)
	return New(cfg, gate, norm, NewRunSummary(), nil)
}

func TestScrapeSource_CollectsAndNormalizes(t *testing.T) {
	var fetches atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		fmt.Fprint(w, listingHTML)
	}))
	defer server.Close()

	gate := &stubGate{proceed: true}
	cfg := DefaultConfig()
	cfg.MaxPagesPerSearch = 1
	s := testScraper(t, gate, cfg)

	jobs, err := s.ScrapeSource(context.Background(), testSource(server.URL), City{Name: "Sacramento", State: "CA"})
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	assert.Equal(t, int64(1), gate.calls.Load())
	assert.Equal(t, int64(1), fetches.Load())

	first := jobs[0]
	assert.Equal(t, "ICU Registered Nurse", first.Title)
	assert.Equal(t, "Mercy General", first.Facility)
	assert.Equal(t, "$65.50/hr", first.PayRaw)
	assert.Equal(t, "testboard", first.Source)
	assert.Equal(t, server.URL+"/jobs/1001", first.SourceURL)
	assert.NotEmpty(t, first.ID)
	require.NotNil(t, first.Rate.Hourly)
	assert.InDelta(t, 65.50, *first.Rate.Hourly, 0.001)
	assert.Equal(t, payrate.ConfidenceExact, first.Rate.Confidence)

	// Weekly rate gets converted, not copied through.
	require.NotNil(t, jobs[1].Rate.Hourly)
	assert.InDelta(t, 2400.0/36.0, *jobs[1].Rate.Hourly, 0.01)

	// "Competitive pay" carries no figures.
	assert.Nil(t, jobs[2].Rate.Hourly)
	assert.Equal(t, payrate.ConfidenceUnparseable, jobs[2].Rate.Confidence)

	stats := s.Summary().Snapshot()
	assert.Equal(t, 1, stats.Requests)
	assert.Equal(t, 3, stats.Jobs)
	assert.Equal(t, 1, stats.Unparseable)
	assert.Equal(t, 0, stats.Disallowed)
}

func TestScrapeSource_DisallowedNeverFetches(t *testing.T) {
	var fetches atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
	}))
	defer server.Close()

	gate := &stubGate{proceed: false}
	cfg := DefaultConfig()
	cfg.MaxPagesPerSearch = 3
	s := testScraper(t, gate, cfg)

	jobs, err := s.ScrapeSource(context.Background(), testSource(server.URL), City{Name: "Austin", State: "TX"})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	assert.Equal(t, int64(3), gate.calls.Load())
	assert.Equal(t, int64(0), fetches.Load(), "a disallowed URL must never be fetched")
	assert.Equal(t, 3, s.Summary().Snapshot().Disallowed)
}

func TestScrapeSource_GateErrorReturnsPartial(t *testing.T) {
	gate := &stubGate{err: context.Canceled}
	s := testScraper(t, gate, DefaultConfig())

	jobs, err := s.ScrapeSource(context.Background(), testSource("http://127.0.0.1:1"), City{Name: "Austin", State: "TX"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, jobs)
}

func TestScrapeSource_JobCapHonored(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingHTML)
	}))
	defer server.Close()

	gate := &stubGate{proceed: true}
	cfg := DefaultConfig()
	cfg.MaxPagesPerSearch = 5
	cfg.MaxJobsPerSource = 2
	s := testScraper(t, gate, cfg)

	jobs, err := s.ScrapeSource(context.Background(), testSource(server.URL), City{Name: "Denver", State: "CO"})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestScrapeSource_FetchErrorCountedOnce(t *testing.T) {
	var fetches atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		http.Error(w, "go away", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	gate := &stubGate{proceed: true}
	cfg := DefaultConfig()
	cfg.MaxPagesPerSearch = 2
	s := testScraper(t, gate, cfg)

	jobs, err := s.ScrapeSource(context.Background(), testSource(server.URL), City{Name: "Boise", State: "ID"})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	// One error per failed fetch, even though the failure surfaces through
	// both the error callback and the visit return value.
	assert.Equal(t, int64(2), fetches.Load())
	assert.Equal(t, 2, s.Summary().Snapshot().Errors)
}

// stubExtractor returns canned fields for any card text.
type stubExtractor struct {
	fields extractor.JobFields
	err    error
	calls  atomic.Int64
}

func (e *stubExtractor) ExtractJobFields(ctx context.Context, rawText string) (*extractor.JobFields, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	fields := e.fields
	return &fields, nil
}

func TestScrapeSource_ExtractorFallback(t *testing.T) {
	// Cards with none of the expected field markup.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="job-listing">ICU RN, Mercy General, Sacramento. $65.50 per hour.</div></body></html>`)
	}))
	defer server.Close()

	gate := &stubGate{proceed: true}
	cfg := DefaultConfig()
	cfg.MaxPagesPerSearch = 1
	s := testScraper(t, gate, cfg)

	stub := &stubExtractor{fields: extractor.JobFields{
		Title:     "ICU Registered Nurse",
		Facility:  "Mercy General",
		Location:  "Sacramento, CA",
		Specialty: "ICU",
		PayText:   "$65.50 per hour",
	}}
	s.UseExtractor(stub)

	jobs, err := s.ScrapeSource(context.Background(), testSource(server.URL), City{Name: "Sacramento", State: "CA"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(1), stub.calls.Load())

	job := jobs[0]
	assert.Equal(t, "ICU Registered Nurse", job.Title)
	assert.Equal(t, "ICU", job.Specialty)
	assert.Equal(t, "$65.50 per hour", job.PayRaw)
	require.NotNil(t, job.Rate.Hourly)
	assert.InDelta(t, 65.50, *job.Rate.Hourly, 0.001)
}

func TestScrapeSource_ExtractorNotCalledWhenSelectorsWork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingHTML)
	}))
	defer server.Close()

	gate := &stubGate{proceed: true}
	cfg := DefaultConfig()
	cfg.MaxPagesPerSearch = 1
	s := testScraper(t, gate, cfg)

	stub := &stubExtractor{}
	s.UseExtractor(stub)

	_, err := s.ScrapeSource(context.Background(), testSource(server.URL), City{Name: "Austin", State: "TX"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), stub.calls.Load(), "selector hits should not trigger the model")
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  $65.50/hr  ", "$65.50/hr"},
		{"ICU\n\tRegistered   Nurse", "ICU Registered Nurse"},
		{"", ""},
		{"already clean", "already clean"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanText(tt.in))
	}
}
