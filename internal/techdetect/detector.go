// Package techdetect fingerprints job board sites using wappalyzergo. Its main
// consumer is source probing: boards rendered client-side by a JS framework
// deliver empty listing markup to a plain HTTP fetch and must go through the
// browser fetch layer instead.
package techdetect

import (
	"net/http"
	"sync"

	wappalyzer "github.com/projectdiscovery/wappalyzergo"
	"github.com/rs/zerolog/log"
)

// MaxHTMLSampleSize caps how much of a probed page body is fingerprinted (50KB).
const MaxHTMLSampleSize = 50 * 1024

// browserCategories are wappalyzer categories whose presence means listing
// content is rendered client-side.
var browserCategories = map[string]bool{
	"JavaScript frameworks": true,
}

// browserFrameworks are individual technologies that imply client-side
// rendering even when wappalyzer files them under a different category.
var browserFrameworks = map[string]bool{
	"Next.js":  true,
	"Nuxt.js":  true,
	"Gatsby":   true,
	"React":    true,
	"Vue.js":   true,
	"Angular":  true,
	"Svelte":   true,
	"Ember.js": true,
}

// Result is one site fingerprint.
type Result struct {
	// Technologies maps technology name to its categories,
	// e.g. {"React": ["JavaScript frameworks"], "Cloudflare": ["CDN"]}.
	Technologies map[string][]string
}

// Detector fingerprints sites from their response headers and body. The
// wappalyzer client is read-only after construction, so Detect is safe for
// concurrent use without locking.
type Detector struct {
	client *wappalyzer.Wappalyze
}

var categoryNames map[int]string
var categoryNamesOnce sync.Once

// New creates a detector. The wappalyzer fingerprint database is embedded, so
// this only fails if the bundled data is corrupt.
func New() (*Detector, error) {
	client, err := wappalyzer.New()
	if err != nil {
		return nil, err
	}

	categoryNamesOnce.Do(func() {
		categoryNames = make(map[int]string)
		for id, cat := range wappalyzer.GetCategoriesMapping() {
			categoryNames[id] = cat.Name
		}
	})

	return &Detector{client: client}, nil
}

// Detect fingerprints one response. Bodies larger than MaxHTMLSampleSize are
// truncated before matching.
func (d *Detector) Detect(headers http.Header, body []byte) *Result {
	if len(body) > MaxHTMLSampleSize {
		body = body[:MaxHTMLSampleSize]
	}

	result := &Result{
		Technologies: make(map[string][]string),
	}

	fingerprints := d.client.FingerprintWithCats(headers, body)
	for tech, catInfo := range fingerprints {
		categories := make([]string, 0, len(catInfo.Cats))
		for _, catID := range catInfo.Cats {
			if name, ok := categoryNames[catID]; ok {
				categories = append(categories, name)
			}
		}
		result.Technologies[tech] = categories
	}

	log.Debug().
		Int("tech_count", len(result.Technologies)).
		Bool("requires_browser", result.RequiresBrowser()).
		Msg("Site fingerprint completed")

	return result
}

// RequiresBrowser reports whether the fingerprint shows a client-side
// rendering framework.
func (r *Result) RequiresBrowser() bool {
	for tech, categories := range r.Technologies {
		if browserFrameworks[tech] {
			return true
		}
		for _, cat := range categories {
			if browserCategories[cat] {
				return true
			}
		}
	}
	return false
}

// Frameworks returns the detected client-side rendering technologies.
func (r *Result) Frameworks() []string {
	var frameworks []string
	for tech, categories := range r.Technologies {
		if browserFrameworks[tech] {
			frameworks = append(frameworks, tech)
			continue
		}
		for _, cat := range categories {
			if browserCategories[cat] {
				frameworks = append(frameworks, tech)
				break
			}
		}
	}
	return frameworks
}
