package scraper

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/wagewatch/wagewatch/internal/payrate"
)

// Job is one standardized job posting record.
type Job struct {
	ID        string
	Title     string
	Facility  string
	Location  string
	Specialty string
	// PayRaw is the compensation text exactly as the source published it.
	PayRaw string
	// Rate is the normalized hourly figure derived from PayRaw.
	Rate      payrate.NormalizedRate
	Source    string
	SourceURL string
	ScrapedAt time.Time
}

// Selectors are the CSS selectors used to pull fields out of one source's
// job listing pages.
type Selectors struct {
	// Card matches one job posting element on a listing page.
	Card     string
	Title    string
	Facility string
	Location string
	Pay      string
	// Link matches the anchor pointing at the posting detail page.
	Link string
}

// Source describes one job board.
type Source struct {
	Name string
	Host string
	// SearchURL is a template with %s placeholders for city and state and
	// %d for the page number.
	SearchURL string
	Selectors Selectors
	// RequiresBrowser marks sources whose listings are rendered by a JS
	// framework and need the external browser fetch layer instead.
	RequiresBrowser bool
}

// PageURL builds the listing URL for one search page.
func (s Source) PageURL(city, state string, page int) string {
	return fmt.Sprintf(s.SearchURL, url.QueryEscape(city), url.QueryEscape(state), page)
}

// City is one search location.
type City struct {
	Name  string
	State string
}

// ParseCities parses a "City,ST;City,ST" list as supplied via configuration.
// Malformed entries are skipped.
func ParseCities(raw string) []City {
	var cities []City
	for _, entry := range strings.Split(raw, ";") {
		parts := strings.SplitN(strings.TrimSpace(entry), ",", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		state := strings.TrimSpace(parts[1])
		if name == "" || state == "" {
			continue
		}
		cities = append(cities, City{Name: name, State: state})
	}
	return cities
}

// DefaultSources returns the built-in job board definitions.
func DefaultSources() []Source {
	return []Source{
		{
			Name:      "vivian",
			Host:      "www.vivian.com",
			SearchURL: "https://www.vivian.com/browse-jobs/registered-nurse/?city=%s&state=%s&page=%d",
			Selectors: Selectors{
				Card:     "[data-testid=job-card]",
				Title:    "[data-testid=job-title]",
				Facility: "[data-testid=facility-name]",
				Location: "[data-testid=job-location]",
				Pay:      "[data-testid=pay-rate]",
				Link:     "a",
			},
		},
		{
			Name:      "bluepipes",
			Host:      "www.bluepipes.com",
			SearchURL: "https://www.bluepipes.com/jobs?query=%s+%s&page=%d",
			Selectors: Selectors{
				Card:     ".job-listing",
				Title:    ".job-title",
				Facility: ".job-agency",
				Location: ".job-location",
				Pay:      ".job-pay",
				Link:     "a.job-link",
			},
		},
		{
			Name:      "healthtrust",
			Host:      "jobs.healthtrustws.com",
			SearchURL: "https://jobs.healthtrustws.com/search?location=%s%%2C+%s&page=%d",
			Selectors: Selectors{
				Card:     "li.job-result",
				Title:    "h3.job-result-title",
				Facility: ".job-result-facility",
				Location: ".job-result-location",
				Pay:      ".job-result-pay",
				Link:     "a",
			},
		},
	}
}
