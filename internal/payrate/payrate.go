// Package payrate parses raw compensation text and normalizes it into a
// canonical currency-per-hour figure with a known confidence.
package payrate

import (
	"fmt"
	"os"
	"strconv"
)

// Unit is the pay period a raw amount was expressed in.
type Unit int

const (
	UnitUnspecified Unit = iota
	UnitHour
	UnitDay
	UnitWeek
	UnitYear
)

func (u Unit) String() string {
	switch u {
	case UnitHour:
		return "hour"
	case UnitDay:
		return "day"
	case UnitWeek:
		return "week"
	case UnitYear:
		return "year"
	default:
		return "unspecified"
	}
}

// Confidence labels how directly a normalized rate was derived from the
// source text versus inferred.
type Confidence string

const (
	ConfidenceExact       Confidence = "exact"
	ConfidenceFromRange   Confidence = "estimated-from-range"
	ConfidenceFromPeriod  Confidence = "estimated-from-period"
	ConfidenceUnparseable Confidence = "unparseable"
)

// Quantum is one parsed, not-yet-normalized pay expression. Point values
// populate Low and High equally; ranges carry both bounds.
type Quantum struct {
	Low     float64
	High    float64
	Unit    Unit
	IsRange bool
	// Raw is the original string, retained for audit.
	Raw string
}

// NormalizedRate is a pay figure expressed in currency per hour.
// Hourly is the range midpoint and is nil when the input was unparseable;
// Low and High report the normalized bounds so downstream consumers can pick.
type NormalizedRate struct {
	Hourly     *float64
	Low        *float64
	High       *float64
	Confidence Confidence
	Raw        string
}

// Config holds the conversion assumptions. The unit-inference thresholds are
// deliberately configuration, not silent constants: a bare "$50" is
// inherently ambiguous.
type Config struct {
	// AssumedWeeklyHours converts weekly pay to hourly (travel nursing
	// standard is a 36 hour week). Annual pay divides by 52 of these weeks.
	AssumedWeeklyHours float64
	// AssumedShiftHours converts daily/per-shift pay to hourly.
	AssumedShiftHours float64
	// HourlyCeiling: unitless values below this are assumed hourly.
	HourlyCeiling float64
	// WeeklyCeiling: unitless values below this (and above HourlyCeiling)
	// are assumed weekly; anything larger is assumed annual.
	WeeklyCeiling float64
}

// DefaultConfig returns the standard conversion assumptions.
func DefaultConfig() *Config {
	return &Config{
		AssumedWeeklyHours: 36,
		AssumedShiftHours:  12,
		HourlyCeiling:      200,
		WeeklyCeiling:      5000,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by recognised environment
// variables. Invalid values are ignored in favour of the default.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("ASSUMED_WEEKLY_HOURS"); ok {
		if hours, err := strconv.ParseFloat(v, 64); err == nil && hours > 0 {
			cfg.AssumedWeeklyHours = hours
		}
	}
	if v, ok := os.LookupEnv("ASSUMED_SHIFT_HOURS"); ok {
		if hours, err := strconv.ParseFloat(v, 64); err == nil && hours > 0 {
			cfg.AssumedShiftHours = hours
		}
	}

	return cfg
}

// Validate reports conversion assumptions that would corrupt every figure.
func (c *Config) Validate() error {
	if c.AssumedWeeklyHours <= 0 {
		return fmt.Errorf("payrate: assumed weekly hours must be positive, got %v", c.AssumedWeeklyHours)
	}
	if c.AssumedShiftHours <= 0 {
		return fmt.Errorf("payrate: assumed shift hours must be positive, got %v", c.AssumedShiftHours)
	}
	if c.HourlyCeiling <= 0 || c.WeeklyCeiling <= c.HourlyCeiling {
		return fmt.Errorf("payrate: inference thresholds must satisfy 0 < hourly (%v) < weekly (%v)", c.HourlyCeiling, c.WeeklyCeiling)
	}
	return nil
}
