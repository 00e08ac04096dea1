// Package scraper is the page-fetch layer. Every outbound request passes the
// access governor's gate before colly issues it; extracted pay strings are
// normalized on the way into each job record.
package scraper

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wagewatch/wagewatch/internal/extractor"
	"github.com/wagewatch/wagewatch/internal/governor"
	"github.com/wagewatch/wagewatch/internal/observability"
	"github.com/wagewatch/wagewatch/internal/payrate"
	"github.com/wagewatch/wagewatch/internal/techdetect"
	"github.com/wagewatch/wagewatch/internal/util"
)

// Gater is the decision point every outbound request must pass through.
type Gater interface {
	RequestGate(ctx context.Context, host, path string) (governor.Decision, error)
}

// Extractor recovers structured fields from listing text the CSS selectors
// could not handle.
type Extractor interface {
	ExtractJobFields(ctx context.Context, rawText string) (*extractor.JobFields, error)
}

// Scraper collects job postings from one or more sources.
type Scraper struct {
	cfg      *Config
	gate     Gater
	norm     *payrate.Normalizer
	summary  *RunSummary
	detector *techdetect.Detector
	extract  Extractor
	client   *http.Client
}

// New creates a Scraper. The detector is optional; without it source probing
// reports that no browser is required.
func New(cfg *Config, gate Gater, norm *payrate.Normalizer, summary *RunSummary, detector *techdetect.Detector) *Scraper {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Scraper{
		cfg:      cfg,
		gate:     gate,
		norm:     norm,
		summary:  summary,
		detector: detector,
		client: &http.Client{
			Timeout:   cfg.DefaultTimeout,
			Transport: observability.WrapTransport(nil),
		},
	}
}

// UseExtractor enables model-backed field recovery for cards the selectors
// could not read.
func (s *Scraper) UseExtractor(e Extractor) {
	s.extract = e
}

// Summary returns the scraper's run counters.
func (s *Scraper) Summary() *RunSummary {
	return s.summary
}

func (s *Scraper) newCollector() *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(s.cfg.UserAgent),
		colly.MaxDepth(1),
		colly.AllowURLRevisit(),
		// Policy enforcement happens in the governor's gate, once per URL,
		// not per underlying fetch.
		colly.IgnoreRobotsTxt(),
	)
	c.SetClient(&http.Client{
		Timeout:   s.cfg.DefaultTimeout,
		Transport: observability.WrapTransport(nil),
	})

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	return c
}

// ScrapeSource collects jobs from one source for one search location.
// Disallowed or failed pages are counted and skipped; a cancelled context
// returns the jobs collected so far along with the context error.
func (s *Scraper) ScrapeSource(ctx context.Context, src Source, city City) ([]Job, error) {
	ctx, span := observability.StartSourceSpan(ctx, src.Name, city.Name)
	defer span.End()

	var jobs []Job

	collector := s.newCollector()
	collector.OnHTML(src.Selectors.Card, func(e *colly.HTMLElement) {
		if len(jobs) >= s.cfg.MaxJobsPerSource {
			return
		}
		job := s.jobFromCard(ctx, src, e)
		if job.Title == "" {
			return
		}
		jobs = append(jobs, job)
		s.summary.AddJob()
		observability.RecordJobScraped(ctx, src.Name)
	})
	collector.OnError(func(r *colly.Response, err error) {
		s.summary.AddError()
		log.Warn().
			Err(err).
			Str("source", src.Name).
			Str("url", r.Request.URL.String()).
			Int("status", r.StatusCode).
			Msg("Page fetch failed")
	})

	for page := 1; page <= s.cfg.MaxPagesPerSearch; page++ {
		if len(jobs) >= s.cfg.MaxJobsPerSource {
			break
		}

		pageURL := src.PageURL(city.Name, city.State, page)
		host, path, err := util.SplitURL(pageURL)
		if err != nil {
			log.Warn().Err(err).Str("source", src.Name).Msg("Skipping malformed page URL")
			s.summary.AddSkipped()
			continue
		}

		decision, err := s.gate.RequestGate(ctx, host, path)
		if err != nil {
			// Cancelled mid-wait; hand back what we have.
			return jobs, err
		}
		if !decision.Proceed {
			log.Info().
				Str("source", src.Name).
				Str("url", pageURL).
				Msg("Skipping URL, access policy disallows it")
			s.summary.AddDisallowed()
			continue
		}

		s.summary.AddRequest()
		// OnError already counts failed fetches; counting here too would
		// double-report them.
		if err := collector.Visit(pageURL); err != nil {
			log.Warn().Err(err).Str("url", pageURL).Msg("Visit failed")
		}
	}

	log.Info().
		Str("source", src.Name).
		Str("city", city.Name).
		Int("jobs", len(jobs)).
		Msg("Source scrape complete")

	return jobs, nil
}

// fieldText extracts one card field, collapsing the whitespace job boards pad
// their markup with.
func fieldText(card *goquery.Selection, selector string) string {
	return CleanText(card.Find(selector).First().Text())
}

func (s *Scraper) jobFromCard(ctx context.Context, src Source, e *colly.HTMLElement) Job {
	sel := src.Selectors

	title := fieldText(e.DOM, sel.Title)
	facility := fieldText(e.DOM, sel.Facility)
	location := fieldText(e.DOM, sel.Location)
	specialty := ""
	payRaw := fieldText(e.DOM, sel.Pay)

	// Boards shuffle their markup; when the selectors come up empty, fall
	// back to model extraction over the card's full text.
	if s.extract != nil && (title == "" || payRaw == "") {
		if fields, err := s.extract.ExtractJobFields(ctx, CleanText(e.DOM.Text())); err != nil {
			log.Debug().Err(err).Str("source", src.Name).Msg("Field extraction fallback failed")
		} else {
			if title == "" {
				title = fields.Title
			}
			if facility == "" {
				facility = fields.Facility
			}
			if location == "" {
				location = fields.Location
			}
			if payRaw == "" {
				payRaw = fields.PayText
			}
			specialty = fields.Specialty
		}
	}

	rate := s.norm.NormalizeString(payRaw)
	if rate.Confidence == payrate.ConfidenceUnparseable {
		s.summary.AddUnparseable()
		observability.RecordUnparseableRate(ctx, src.Name)
	}

	sourceURL := e.Request.URL.String()
	if href, ok := e.DOM.Find(sel.Link).First().Attr("href"); ok {
		sourceURL = e.Request.AbsoluteURL(href)
	}

	return Job{
		ID:        uuid.New().String(),
		Title:     title,
		Facility:  facility,
		Location:  location,
		Specialty: specialty,
		PayRaw:    payRaw,
		Rate:      rate,
		Source:    src.Name,
		SourceURL: sourceURL,
		ScrapedAt: time.Now().UTC(),
	}
}

// ProbeSource fetches a source's landing page through the gate and reports
// whether its listings are rendered client-side by a JS framework, in which
// case the external browser fetch layer must be used instead.
func (s *Scraper) ProbeSource(ctx context.Context, src Source) (bool, error) {
	if s.detector == nil {
		return false, nil
	}

	landing := "https://" + src.Host + "/"
	decision, err := s.gate.RequestGate(ctx, src.Host, "/")
	if err != nil {
		return false, err
	}
	if !decision.Proceed {
		s.summary.AddDisallowed()
		return false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, landing, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	s.summary.AddRequest()
	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, techdetect.MaxHTMLSampleSize))
	if err != nil {
		return false, err
	}

	result := s.detector.Detect(resp.Header, body)
	return result.RequiresBrowser(), nil
}

// CleanText collapses runs of whitespace into single spaces.
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
