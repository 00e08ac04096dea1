package governor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/wagewatch/wagewatch/internal/cache"
)

// maxPolicySize caps how much of a policy document we read (1MB).
const maxPolicySize = 1 * 1024 * 1024

// Rule is a single allow or disallow entry from an access policy document,
// kept in declaration order.
type Rule struct {
	Path  string
	Allow bool
}

// AccessPolicy contains the parsed access policy for one host.
type AccessPolicy struct {
	// Host the policy was fetched for. A policy is never applied to any
	// other host.
	Host string
	// Rules in declaration order. Resolution is longest-match-wins; among
	// equal-length matches the most recently declared rule wins.
	Rules []Rule
	// CrawlDelay requested by the host (0 means none specified).
	CrawlDelay time.Duration
	// Sitemaps found in the policy document.
	Sitemaps []string
	// FetchedAt records when the policy was retrieved.
	FetchedAt time.Time
	// Unknown marks a placeholder cached after a failed fetch. Whether an
	// unknown policy allows or denies is the caller's fail-open choice.
	Unknown bool
}

// IsAllowed checks a request path against the policy rules.
// The most specific (longest) matching rule decides; a tie goes to the rule
// declared last. No matching rule means the path is allowed.
func (p *AccessPolicy) IsAllowed(path string) bool {
	if p == nil || len(p.Rules) == 0 {
		return true
	}
	if path == "" {
		path = "/"
	}

	bestLen := -1
	allowed := true
	for _, r := range p.Rules {
		if !matchesPolicyPattern(path, r.Path) {
			continue
		}
		if len(r.Path) >= bestLen {
			bestLen = len(r.Path)
			allowed = r.Allow
		}
	}
	return allowed
}

// matchesPolicyPattern checks if a path matches a policy rule pattern.
// Supports the * wildcard and $ end-of-URL marker.
func matchesPolicyPattern(path, pattern string) bool {
	if pattern == "" {
		return false
	}

	exact := strings.HasSuffix(pattern, "$")
	if exact {
		pattern = strings.TrimSuffix(pattern, "$")
	}

	if !strings.Contains(pattern, "*") {
		if exact {
			return path == pattern
		}
		return strings.HasPrefix(path, pattern)
	}

	parts := strings.Split(pattern, "*")
	if exact {
		// The trailing literal must sit at the end of the path.
		last := parts[len(parts)-1]
		if !strings.HasSuffix(path, last) {
			return false
		}
		path = path[:len(path)-len(last)]
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 {
		return true
	}
	// The leading literal is anchored at the start; the rest must appear in
	// order.
	if parts[0] != "" && !strings.HasPrefix(path, parts[0]) {
		return false
	}
	pos := len(parts[0])
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		idx := strings.Index(path[pos:], part)
		if idx == -1 {
			return false
		}
		pos += idx + len(part)
	}
	return true
}

// PolicyStore fetches, caches and refreshes per-host access policies.
type PolicyStore struct {
	cfg          *Config
	cache        *cache.TTLCache
	client       *http.Client
	fetchLimiter *rate.Limiter

	now func() time.Time
}

// NewPolicyStore creates a policy store using the given configuration.
func NewPolicyStore(cfg *Config) *PolicyStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &PolicyStore{
		cfg:   cfg,
		cache: cache.NewTTLCache(),
		client: &http.Client{
			Timeout: cfg.PolicyFetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		// One policy fetch per second with a small burst keeps refreshes from
		// ever becoming their own traffic problem.
		fetchLimiter: rate.NewLimiter(rate.Limit(1), 2),
		now:          time.Now,
	}
}

// Get returns the cached policy for a host, fetching or refreshing it when
// the cached copy is missing or its TTL has elapsed. A fetch failure returns
// an Unknown placeholder policy together with the error; the placeholder is
// negatively cached so a broken endpoint isn't hammered.
func (s *PolicyStore) Get(ctx context.Context, host string) (*AccessPolicy, error) {
	if v, found := s.cache.Get(host); found {
		return v.(*AccessPolicy), nil
	}

	policy, err := s.fetch(ctx, host)
	if err != nil {
		placeholder := &AccessPolicy{Host: host, FetchedAt: s.now(), Unknown: true}
		s.cache.Set(host, placeholder, s.cfg.PolicyErrorTTL)
		log.Warn().
			Err(err).
			Str("host", host).
			Dur("retry_after", s.cfg.PolicyErrorTTL).
			Msg("Policy document fetch failed")
		return placeholder, fmt.Errorf("fetch policy for %s: %w", host, err)
	}

	s.cache.Set(host, policy, s.cfg.PolicyTTL)
	return policy, nil
}

// fetch retrieves and parses the policy document for a host.
func (s *PolicyStore) fetch(ctx context.Context, host string) (*AccessPolicy, error) {
	if err := s.fetchLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	// Support both bare hosts and full URLs (the latter mainly for tests).
	var policyURL string
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		policyURL = strings.TrimSuffix(host, "/") + "/robots.txt"
	} else {
		policyURL = fmt.Sprintf("https://%s/robots.txt", host)
	}
	log.Debug().
		Str("host", host).
		Str("policy_url", policyURL).
		Msg("Fetching policy document")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, policyURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch policy document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// No policy document means no restrictions.
		if resp.StatusCode == http.StatusNotFound {
			log.Debug().Str("host", host).Msg("No policy document found, no restrictions apply")
			return &AccessPolicy{Host: host, FetchedAt: s.now()}, nil
		}
		return nil, fmt.Errorf("policy document returned status %d", resp.StatusCode)
	}

	policy, err := parsePolicyContent(io.LimitReader(resp.Body, maxPolicySize), s.cfg.UserAgent)
	if err != nil {
		return nil, err
	}
	policy.Host = host
	policy.FetchedAt = s.now()
	return policy, nil
}

// parsePolicyContent parses an access policy document. Rules from a section
// matching our own agent token take precedence over wildcard (*) sections.
// Unparseable lines are skipped, never fatal.
func parsePolicyContent(r io.Reader, userAgent string) (*AccessPolicy, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read policy document: %w", err)
	}
	if len(content) == maxPolicySize {
		log.Warn().
			Int("size_bytes", len(content)).
			Msg("Policy document truncated at 1MB limit")
	}

	// Agent token is the product part of the User-Agent, e.g.
	// "WageWatch/1.0 (+...)" -> "wagewatch".
	agentToken := strings.ToLower(strings.Split(userAgent, "/")[0])

	policy := &AccessPolicy{}
	wildcard := &AccessPolicy{}

	var sitemaps []string
	var inOurSection, inWildcardSection, foundOurSection bool

	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Directives are matched case-insensitively; values keep their case.
		lowerLine := strings.ToLower(line)

		if strings.HasPrefix(lowerLine, "user-agent:") {
			agent := strings.TrimSpace(line[len("user-agent:"):])
			agentLower := strings.ToLower(agent)

			inOurSection = false
			inWildcardSection = false

			switch {
			case agent == "*":
				inWildcardSection = true
			case agentLower == agentToken || strings.Contains(agentLower, agentToken):
				if !foundOurSection {
					// First specific section for us discards collected
					// wildcard-shadowed state.
					policy = &AccessPolicy{}
				}
				inOurSection = true
				foundOurSection = true
			}
			continue
		}

		// Sitemap directives apply globally.
		if strings.HasPrefix(lowerLine, "sitemap:") {
			if sitemapURL := strings.TrimSpace(line[len("sitemap:"):]); sitemapURL != "" {
				sitemaps = append(sitemaps, sitemapURL)
			}
			continue
		}

		if !inOurSection && !inWildcardSection {
			continue
		}

		current := policy
		if inWildcardSection {
			current = wildcard
		}

		switch {
		case strings.HasPrefix(lowerLine, "crawl-delay:"):
			delayStr := strings.TrimSpace(line[len("crawl-delay:"):])
			if secs, err := strconv.ParseFloat(delayStr, 64); err == nil && secs > 0 {
				current.CrawlDelay = time.Duration(secs * float64(time.Second))
			}
		case strings.HasPrefix(lowerLine, "disallow:"):
			if path := strings.TrimSpace(line[len("disallow:"):]); path != "" {
				current.Rules = append(current.Rules, Rule{Path: path, Allow: false})
			}
		case strings.HasPrefix(lowerLine, "allow:"):
			if path := strings.TrimSpace(line[len("allow:"):]); path != "" {
				current.Rules = append(current.Rules, Rule{Path: path, Allow: true})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan policy document: %w", err)
	}

	if !foundOurSection {
		policy = wildcard
	}
	policy.Sitemaps = sitemaps

	log.Debug().
		Dur("crawl_delay", policy.CrawlDelay).
		Int("rules", len(policy.Rules)).
		Int("sitemaps", len(policy.Sitemaps)).
		Bool("agent_specific", foundOurSection).
		Msg("Parsed access policy")

	return policy, nil
}
