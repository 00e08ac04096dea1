package payrate

import (
	"math"

	"github.com/rs/zerolog/log"
)

// weeksPerYear converts the assumed weekly hours into an annual divisor.
const weeksPerYear = 52

// Normalizer converts parsed pay quanta into canonical hourly rates.
// It copies its configuration at construction, so identical raw strings
// always normalize identically within one run.
type Normalizer struct {
	cfg Config
}

// NewNormalizer creates a Normalizer. Configuration errors are fatal at
// startup.
func NewNormalizer(cfg *Config) (*Normalizer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Normalizer{cfg: *cfg}, nil
}

// ToHourly converts a quantum to currency per hour. Explicit hourly point
// values are exact; every period conversion or inferred unit is tagged as an
// estimate; range input is tagged as such and reported as midpoint plus
// bounds. It never fails: the worst outcome is an unparseable record.
func (n *Normalizer) ToHourly(q Quantum) NormalizedRate {
	if q.Low == 0 && q.High == 0 {
		return unparseable(q.Raw)
	}

	divisor, confidence := n.divisor(q)
	low := round2(q.Low / divisor)
	high := round2(q.High / divisor)
	mid := round2((low + high) / 2)

	if q.IsRange {
		confidence = ConfidenceFromRange
	}

	return NormalizedRate{
		Hourly:     &mid,
		Low:        &low,
		High:       &high,
		Confidence: confidence,
		Raw:        q.Raw,
	}
}

// NormalizeString parses and normalizes raw pay text in one step.
// Parse failures surface as an unparseable rate, not an error, so batch
// processing continues past bad records.
func (n *Normalizer) NormalizeString(text string) NormalizedRate {
	q, err := Parse(text)
	if err != nil {
		log.Debug().Str("pay_raw", text).Msg("Unparseable pay string")
		return unparseable(text)
	}
	return n.ToHourly(q)
}

func (n *Normalizer) divisor(q Quantum) (float64, Confidence) {
	switch q.Unit {
	case UnitHour:
		return 1, ConfidenceExact
	case UnitDay:
		return n.cfg.AssumedShiftHours, ConfidenceFromPeriod
	case UnitWeek:
		return n.cfg.AssumedWeeklyHours, ConfidenceFromPeriod
	case UnitYear:
		return n.cfg.AssumedWeeklyHours * weeksPerYear, ConfidenceFromPeriod
	default:
		// No unit given: infer the period from the magnitude of the lower
		// bound. The thresholds are configuration, not gospel.
		switch {
		case q.Low < n.cfg.HourlyCeiling:
			return 1, ConfidenceFromPeriod
		case q.Low < n.cfg.WeeklyCeiling:
			return n.cfg.AssumedWeeklyHours, ConfidenceFromPeriod
		default:
			return n.cfg.AssumedWeeklyHours * weeksPerYear, ConfidenceFromPeriod
		}
	}
}

func unparseable(raw string) NormalizedRate {
	return NormalizedRate{Confidence: ConfidenceUnparseable, Raw: raw}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
