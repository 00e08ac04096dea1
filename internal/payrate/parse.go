package payrate

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnparseable reports input with no recognisable monetary expression.
// It is a normal batch outcome, never fatal.
var ErrUnparseable = errors.New("payrate: no monetary expression found")

// Matching happens against the lowercased input. The amount group accepts
// thousands separators and up to two decimal places; ranges accept "-", "to"
// or an en dash between the bounds.
const amount = `([\d,]+(?:\.\d{1,2})?)`

var (
	hourlyPattern = regexp.MustCompile(`\$\s*` + amount + `\s*(?:(?:-|–|to)\s*\$?\s*` + amount + `)?\s*(?:per|an|a|/)?\s*h(?:ou)?r`)
	dailyPattern  = regexp.MustCompile(`\$\s*` + amount + `\s*(?:(?:-|–|to)\s*\$?\s*` + amount + `)?\s*(?:per|a|/)?\s*(?:day|daily|shift)`)
	weeklyPattern = regexp.MustCompile(`\$\s*` + amount + `\s*(?:(?:-|–|to)\s*\$?\s*` + amount + `)?\s*(?:per|a|/)?\s*(?:wk|week)`)
	annualPattern = regexp.MustCompile(`\$\s*` + amount + `\s*(k?)\s*(?:(?:-|–|to)\s*\$?\s*` + amount + `\s*(k?))?\s*(?:per|a|/)?\s*(?:year|yr|annual)`)
	dollarPattern = regexp.MustCompile(`\$\s*` + amount + `\s*(k?)`)
)

// Parse extracts the first well-formed monetary expression from raw pay
// text. Unit suffixes select the pay period; a bare amount is tagged
// unspecified. Range inputs preserve both bounds.
func Parse(text string) (Quantum, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return Quantum{Raw: text}, ErrUnparseable
	}
	lower := strings.ToLower(raw)

	// Hourly is the most common form in healthcare postings, so it is tried
	// first; then the longer periods; then any dollar amount as fallback.
	if m := hourlyPattern.FindStringSubmatch(lower); m != nil {
		return quantumFromMatch(raw, UnitHour, m[1], m[2], "", "")
	}
	if m := dailyPattern.FindStringSubmatch(lower); m != nil {
		return quantumFromMatch(raw, UnitDay, m[1], m[2], "", "")
	}
	if m := weeklyPattern.FindStringSubmatch(lower); m != nil {
		return quantumFromMatch(raw, UnitWeek, m[1], m[2], "", "")
	}
	if m := annualPattern.FindStringSubmatch(lower); m != nil {
		return quantumFromMatch(raw, UnitYear, m[1], m[3], m[2], m[4])
	}

	// Fallback: any dollar amounts embedded in free text, unit unknown.
	matches := dollarPattern.FindAllStringSubmatch(lower, -1)
	if len(matches) > 0 {
		var values []float64
		for _, m := range matches {
			v, err := cleanNumber(m[1])
			if err != nil {
				continue
			}
			if m[2] == "k" {
				v *= 1000
			}
			values = append(values, v)
		}
		if len(values) > 0 {
			low, high := values[0], values[0]
			for _, v := range values[1:] {
				if v < low {
					low = v
				}
				if v > high {
					high = v
				}
			}
			return Quantum{
				Low:     low,
				High:    high,
				Unit:    UnitUnspecified,
				IsRange: low != high,
				Raw:     raw,
			}, nil
		}
	}

	return Quantum{Raw: raw}, ErrUnparseable
}

func quantumFromMatch(raw string, unit Unit, lowStr, highStr, lowK, highK string) (Quantum, error) {
	low, err := cleanNumber(lowStr)
	if err != nil {
		return Quantum{Raw: raw}, ErrUnparseable
	}
	if lowK == "k" && low < 1000 {
		low *= 1000
	}

	high := low
	isRange := false
	if highStr != "" {
		if h, err := cleanNumber(highStr); err == nil {
			high = h
			if highK == "k" && high < 1000 {
				high *= 1000
			}
			isRange = true
		}
	}

	if high < low {
		low, high = high, low
	}

	return Quantum{
		Low:     low,
		High:    high,
		Unit:    unit,
		IsRange: isRange,
		Raw:     raw,
	}, nil
}

// cleanNumber strips thousands separators and whitespace before parsing.
func cleanNumber(s string) (float64, error) {
	cleaned := strings.NewReplacer(",", "", " ", "").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0, ErrUnparseable
	}
	return strconv.ParseFloat(cleaned, 64)
}
