package util

import (
	"fmt"
	"net/url"
	"strings"
)

// NormaliseHost removes any scheme and www. prefix from a host string.
func NormaliseHost(host string) string {
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimSuffix(host, "/")
	return host
}

// ValidateHost checks if a host string is a valid hostname format.
// Returns an error describing why the host is invalid, or nil if valid.
func ValidateHost(host string) error {
	host = NormaliseHost(host)

	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if !strings.Contains(host, ".") {
		return fmt.Errorf("host must contain a TLD (e.g., .com, .co.uk)")
	}

	parts := strings.Split(host, ".")
	for _, part := range parts {
		if part == "" {
			return fmt.Errorf("host contains empty segment")
		}
		for _, c := range part {
			isLower := c >= 'a' && c <= 'z'
			isUpper := c >= 'A' && c <= 'Z'
			isDigit := c >= '0' && c <= '9'
			if !isLower && !isUpper && !isDigit && c != '-' {
				return fmt.Errorf("host contains invalid character: %c", c)
			}
		}
		if strings.HasPrefix(part, "-") || strings.HasSuffix(part, "-") {
			return fmt.Errorf("host segment cannot start or end with hyphen")
		}
	}

	if len(parts[len(parts)-1]) < 2 {
		return fmt.Errorf("TLD must be at least 2 characters")
	}

	lower := strings.ToLower(host)
	for _, blocked := range []string{"localhost", "localhost.localdomain", "local", "internal"} {
		if lower == blocked || strings.HasSuffix(lower, "."+blocked) {
			return fmt.Errorf("host %q is not allowed", host)
		}
	}

	return nil
}

// SplitURL returns the host and path components of a URL for gate checks.
// Query strings are irrelevant to policy matching and are dropped from the
// path. A missing path becomes "/".
func SplitURL(rawURL string) (host, path string, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse URL %q: %w", rawURL, err)
	}
	if parsed.Host == "" {
		return "", "", fmt.Errorf("URL %q has no host", rawURL)
	}
	path = parsed.Path
	if path == "" {
		path = "/"
	}
	return parsed.Host, path, nil
}
