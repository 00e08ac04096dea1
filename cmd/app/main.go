package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/wagewatch/wagewatch/internal/db"
	"github.com/wagewatch/wagewatch/internal/extractor"
	"github.com/wagewatch/wagewatch/internal/governor"
	"github.com/wagewatch/wagewatch/internal/notifications"
	"github.com/wagewatch/wagewatch/internal/observability"
	"github.com/wagewatch/wagewatch/internal/payrate"
	"github.com/wagewatch/wagewatch/internal/scraper"
	"github.com/wagewatch/wagewatch/internal/techdetect"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	Env                  string // Environment (development/production)
	SentryDSN            string // Sentry DSN for error tracking
	LogLevel             string // Log level (debug, info, warn, error)
	ObservabilityEnabled bool   // Toggle OpenTelemetry + Prometheus exporters
	MetricsAddr          string // Address for Prometheus metrics endpoint (":9464" style)
	OTLPEndpoint         string // OTLP HTTP endpoint for trace export
	OTLPHeaders          string // Comma separated headers for OTLP exporter
	OTLPInsecure         bool   // Disable TLS verification for OTLP exporter
	Cities               string // Semicolon separated "City,ST" search locations
	SlackToken           string // Bot token for run report delivery
	SlackChannelID       string // Channel for run report delivery
	LoopsAPIKey          string // Loops.so API key for email reports
	ReportRecipient      string // Email address for run reports
	ReportTemplateID     string // Loops template for run reports
}

func main() {
	// Load .env files - .env.local takes priority for development
	godotenv.Load(".env.local", ".env")

	config := &Config{
		Env:                  getEnvWithDefault("APP_ENV", "development"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		LogLevel:             getEnvWithDefault("LOG_LEVEL", "info"),
		ObservabilityEnabled: getEnvWithDefault("OBSERVABILITY_ENABLED", "true") == "true",
		MetricsAddr:          getEnvWithDefault("METRICS_ADDR", ":9464"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:          os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		OTLPInsecure:         getEnvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
		Cities:               getEnvWithDefault("CITIES", "Sacramento,CA;Austin,TX;Portland,OR"),
		SlackToken:           os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannelID:       os.Getenv("SLACK_CHANNEL_ID"),
		LoopsAPIKey:          os.Getenv("LOOPS_API_KEY"),
		ReportRecipient:      os.Getenv("REPORT_RECIPIENT"),
		ReportTemplateID:     os.Getenv("REPORT_TEMPLATE_ID"),
	}

	setupLogging(config)

	// Initialise Sentry for error tracking
	if config.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.SentryDSN,
			Environment: config.Env,
			TracesSampleRate: func() float64 {
				if config.Env == "production" {
					return 0.1
				}
				return 1.0
			}(),
			AttachStacktrace: true,
			Debug:            config.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", config.Env).Msg("Sentry initialised successfully")
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	var (
		obsProviders *observability.Providers
		metricsSrv   *http.Server
		err          error
	)

	if config.ObservabilityEnabled {
		obsProviders, err = observability.Init(context.Background(), observability.Config{
			Enabled:        true,
			ServiceName:    "wagewatch",
			Environment:    config.Env,
			OTLPEndpoint:   strings.TrimSpace(config.OTLPEndpoint),
			OTLPHeaders:    parseOTLPHeaders(config.OTLPHeaders),
			OTLPInsecure:   config.OTLPInsecure,
			MetricsAddress: config.MetricsAddr,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise observability providers")
		} else if obsProviders != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := obsProviders.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
				}
			}()

			if obsProviders.MetricsHandler != nil && config.MetricsAddr != "" {
				metricsSrv = &http.Server{
					Addr:              config.MetricsAddr,
					Handler:           obsProviders.MetricsHandler,
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					log.Info().Str("addr", config.MetricsAddr).Msg("Metrics server listening")
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						sentry.CaptureException(err)
						log.Error().Err(err).Msg("Metrics server failed")
					}
				}()
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Warn().Err(err).Msg("Graceful shutdown of metrics server failed")
					}
				}()
			}
		}
	}

	// Connect to PostgreSQL when configured; the run still works without it,
	// results are just logged instead of stored.
	var store *db.DB
	if os.Getenv("DATABASE_URL") != "" || os.Getenv("POSTGRES_HOST") != "" {
		store, err = db.InitFromEnv()
		if err != nil {
			sentry.CaptureException(err)
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL database")
		}
		defer store.Close()
		log.Info().Msg("Connected to PostgreSQL database")
	} else {
		log.Warn().Msg("No database configured, results will not be stored")
	}

	// Assemble the pipeline: governor gates every request, the normalizer
	// standardises pay rates, the scraper ties them together.
	governorCfg := governor.ConfigFromEnv()
	gate, err := governor.New(governorCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid governor configuration")
	}

	norm, err := payrate.NewNormalizer(payrate.ConfigFromEnv())
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid pay rate configuration")
	}

	detector, err := techdetect.New()
	if err != nil {
		log.Warn().Err(err).Msg("Technology detection unavailable, source probing disabled")
		detector = nil
	}

	summary := scraper.NewRunSummary()
	sc := scraper.New(scraper.ConfigFromEnv(), gate, norm, summary, detector)

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		sc.UseExtractor(extractor.New(key))
		log.Info().Msg("Model-backed field extraction enabled")
	}

	cities := scraper.ParseCities(config.Cities)
	if len(cities) == 0 {
		log.Fatal().Str("cities", config.Cities).Msg("No valid search cities configured")
	}
	sources := scraper.DefaultSources()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID := uuid.New().String()
	startedAt := time.Now().UTC()
	log.Info().
		Str("run_id", runID).
		Int("sources", len(sources)).
		Int("cities", len(cities)).
		Msg("Starting scrape run")

	jobs := runScrape(ctx, sc, sources, cities)
	finishedAt := time.Now().UTC()

	stats := summary.Snapshot()
	log.Info().
		Str("run_id", runID).
		Int("jobs", stats.Jobs).
		Int("requests", stats.Requests).
		Int("disallowed", stats.Disallowed).
		Int("unparseable", stats.Unparseable).
		Int("errors", stats.Errors).
		Dur("duration", stats.Duration).
		Float64("requests_per_minute", stats.RequestsPerMinute).
		Msg("Scrape run complete")

	report := &notifications.RunReport{
		RunID:      runID,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Stats:      stats,
	}

	if store != nil {
		// Storage failures should not lose the run report.
		storeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if saved, err := store.SaveJobs(storeCtx, jobs); err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Int("saved", saved).Msg("Some jobs failed to store")
		} else {
			log.Info().Int("saved", saved).Msg("Jobs stored")
		}
		if err := store.SaveRun(storeCtx, runID, startedAt, finishedAt, stats); err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("Failed to store run summary")
		}
		if rates, err := store.MarketRates(storeCtx, startedAt.AddDate(0, 0, -7)); err != nil {
			log.Warn().Err(err).Msg("Failed to aggregate market rates")
		} else {
			report.TopRates = rates
		}
	}

	sendReport(config, report)
}

// runScrape fans sources out across goroutines. Cities within one source run
// sequentially so per-host pacing stays honest.
func runScrape(ctx context.Context, sc *scraper.Scraper, sources []scraper.Source, cities []scraper.City) []scraper.Job {
	var (
		mu   sync.Mutex
		jobs []scraper.Job
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, src := range sources {
		src := src
		g.Go(func() error {
			if src.RequiresBrowser {
				log.Warn().Str("source", src.Name).Msg("Source needs browser rendering, skipping")
				return nil
			}
			if browser, err := sc.ProbeSource(ctx, src); err != nil {
				log.Warn().Err(err).Str("source", src.Name).Msg("Source probe failed, attempting scrape anyway")
			} else if browser {
				log.Warn().Str("source", src.Name).Msg("Source renders listings client-side, skipping")
				return nil
			}

			for _, city := range cities {
				found, err := sc.ScrapeSource(ctx, src, city)
				mu.Lock()
				jobs = append(jobs, found...)
				mu.Unlock()
				if err != nil {
					// Cancelled mid-run; keep what we collected.
					return nil
				}
			}
			return nil
		})
	}

	_ = g.Wait()
	return jobs
}

// sendReport delivers the run report to whichever channels are configured.
func sendReport(config *Config, report *notifications.RunReport) {
	svc := notifications.NewService()

	if config.SlackToken != "" && config.SlackChannelID != "" {
		ch, err := notifications.NewSlackChannel(config.SlackToken, config.SlackChannelID)
		if err != nil {
			log.Warn().Err(err).Msg("Slack channel misconfigured")
		} else {
			svc.AddChannel(ch)
		}
	}
	if config.LoopsAPIKey != "" && config.ReportRecipient != "" {
		ch, err := notifications.NewEmailChannel(config.LoopsAPIKey, config.ReportRecipient, config.ReportTemplateID)
		if err != nil {
			log.Warn().Err(err).Msg("Email channel misconfigured")
		} else {
			svc.AddChannel(ch)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.SendRunReport(ctx, report); err != nil {
		sentry.CaptureException(err)
	}
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set.
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return headers
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}

		headers[key] = value
	}

	return headers
}

// setupLogging configures the logging system.
func setupLogging(config *Config) {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	// Use console writer in development
	if config.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "wagewatch").
			Logger()
	}
}
