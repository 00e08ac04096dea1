// Package notifications delivers end-of-run reports to the configured
// channels. Delivery is best-effort: a channel failure is logged and never
// fails the run.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wagewatch/wagewatch/internal/db"
	"github.com/wagewatch/wagewatch/internal/scraper"
)

// RunReport summarises one completed scrape run.
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Stats      scraper.Stats
	// TopRates are the highest-volume locations from the market aggregate,
	// empty when no database is configured.
	TopRates []db.MarketRate
}

// DeliveryChannel is one way of getting a run report to a human.
type DeliveryChannel interface {
	Name() string
	Deliver(ctx context.Context, report *RunReport) error
}

// Service fans a run report out to all registered channels.
type Service struct {
	channels []DeliveryChannel
}

// NewService creates an empty notification service.
func NewService() *Service {
	return &Service{}
}

// AddChannel registers a delivery channel.
func (s *Service) AddChannel(ch DeliveryChannel) {
	s.channels = append(s.channels, ch)
}

// SendRunReport delivers the report to every channel. Failures are logged per
// channel; the last one is returned so callers can surface it.
func (s *Service) SendRunReport(ctx context.Context, report *RunReport) error {
	var lastErr error
	for _, ch := range s.channels {
		if err := ch.Deliver(ctx, report); err != nil {
			log.Warn().
				Err(err).
				Str("channel", ch.Name()).
				Str("run_id", report.RunID).
				Msg("Failed to deliver run report")
			lastErr = err
			continue
		}
		log.Info().
			Str("channel", ch.Name()).
			Str("run_id", report.RunID).
			Msg("Run report delivered")
	}
	return lastErr
}

// formatDuration renders a run duration the way the reports show it.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// summaryLine is the one-line counter rundown shared by all channels.
func summaryLine(stats scraper.Stats) string {
	return fmt.Sprintf("%d jobs from %d requests in %s (%d disallowed, %d unparseable rates, %d errors)",
		stats.Jobs, stats.Requests, formatDuration(stats.Duration),
		stats.Disallowed, stats.Unparseable, stats.Errors)
}
