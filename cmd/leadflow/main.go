package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"leadflow/internal/api"
	"leadflow/internal/booking"
	"leadflow/internal/config"
	"leadflow/internal/crm"
	"leadflow/internal/crm/hubspot"
	crmsqlite "leadflow/internal/crm/sqlite"
	"leadflow/internal/domain"
	"leadflow/internal/jobs"
	"leadflow/internal/llm"
	"leadflow/internal/metrics"
	"leadflow/internal/perplexity"
	"leadflow/internal/places"
	"leadflow/internal/reviews"
	"leadflow/internal/scheduler"
	"leadflow/internal/scrape"
	"leadflow/internal/voice"
	"leadflow/internal/worker"
	"leadflow/internal/workflow/enrichment"
	"leadflow/internal/workflow/prospect"
	"leadflow/internal/workflow/qualify"
	"leadflow/internal/workflow/sweep"
)

func main() {
	var (
		configPath = flag.String("config", "leadflow.yml", "YAML config file (optional)")
		addr       = flag.String("addr", "", "HTTP bind address, overrides server.addr")
		seedPath   = flag.String("seed", "", "YAML file of companies to load into the sqlite CRM")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	setupLogging(cfg.Logging)

	httpClient := &http.Client{Timeout: cfg.HTTP.Timeout}

	client, closeCRM, err := openCRM(cfg.CRM, httpClient, *seedPath)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.CRM.Backend).Msg("open crm")
	}
	defer closeCRM()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := jobs.NewStore(cfg.Jobs.MaxJobs)
	pool := worker.NewPool(cfg.Jobs.Workers, log.Logger)
	dispatcher := worker.NewDispatcher(store, pool, m, log.Logger)

	registerWorkflows(dispatcher, cfg, client, httpClient)

	sched := scheduler.NewService(dispatcher, log.Logger)
	if cfg.Sweep.Cron != "" {
		if err := sched.Add(cfg.Sweep.Cron, domain.TaskActivation); err != nil {
			log.Fatal().Err(err).Msg("schedule sweep")
		}
	}
	sched.Start()

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewServer(dispatcher, store, api.Options{
			Metrics: m.Handler(),
			Debug:   cfg.Server.Debug,
		}, log.Logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	sched.Stop(ctx)
	if err := pool.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("background jobs did not finish in time")
	}
}

func setupLogging(c config.LoggingConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	if lvl, err := zerolog.ParseLevel(c.Level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if c.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}

// openCRM returns the configured backend and its cleanup.
func openCRM(c config.CRMConfig, httpClient *http.Client, seedPath string) (crm.Client, func(), error) {
	if c.Backend == config.BackendHubSpot {
		if seedPath != "" {
			log.Warn().Msg("-seed only applies to the sqlite backend")
		}
		return hubspot.New(httpClient, c.HubSpotToken, log.Logger, hubspot.WithRateLimit(c.RPS, c.Burst)), func() {}, nil
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", c.SQLitePath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, err
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := crmsqlite.EnsureSchema(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	store := crmsqlite.New(db)

	if seedPath != "" {
		f, err := os.Open(seedPath)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		n, err := store.Seed(context.Background(), f)
		f.Close()
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info().Int("companies", n).Str("file", seedPath).Msg("crm seeded")
	}
	return store, func() { db.Close() }, nil
}

// registerWorkflows binds every workflow whose collaborators are configured.
// Unregistered task types answer 503.
func registerWorkflows(d *worker.Dispatcher, cfg *config.Config, client crm.Client, httpClient *http.Client) {
	var (
		lookup  *places.Client
		missing []string
	)
	if cfg.Google.APIKey != "" {
		lookup = places.New(httpClient, cfg.Google.APIKey)
	}

	if lookup != nil {
		fetcher := scrape.NewFetcher(httpClient, log.Logger)
		deps := enrichment.Deps{
			CRM:     client,
			Places:  lookup,
			Website: scrape.NewWebsite(fetcher, log.Logger),
		}
		if cfg.TripAdvisor.APIKey != "" {
			deps.Reviews = reviews.New(httpClient, cfg.TripAdvisor.APIKey, log.Logger)
		}
		if cfg.Perplexity.APIKey != "" {
			ask := perplexity.New(httpClient, cfg.Perplexity.APIKey)
			deps.Social = scrape.NewInstagram(ask, httpClient, log.Logger)
			deps.Listings = booking.New(ask, fetcher, log.Logger)
		}
		d.Register(domain.TaskEnrichment, enrichment.New(deps, enrichment.Options{
			Overwrite: cfg.Enrichment.Overwrite,
			BatchSize: cfg.Enrichment.BatchSize,
			Delay:     cfg.Enrichment.BatchDelay,
			FollowUp:  !cfg.Enrichment.DisableFollowUp,
		}, log.Logger), cfg.Jobs.Cooldown)
	} else {
		missing = append(missing, domain.TaskEnrichment+" (google_places.api_key)")
	}

	if cfg.Anthropic.APIKey != "" {
		model := llm.New(cfg.Anthropic.APIKey, cfg.Anthropic.Model, option.WithHTTPClient(httpClient))
		d.Register(domain.TaskQualifyLead, qualify.New(client, model, qualify.Options{
			NoFitStage: cfg.Qualify.NoFitStage,
		}, log.Logger), cfg.Jobs.Cooldown)
	} else {
		missing = append(missing, domain.TaskQualifyLead+" (anthropic.api_key)")
	}

	if el := cfg.ElevenLabs; el.Configured() {
		caller := voice.New(httpClient, el.APIKey, el.AgentID, el.PhoneNumberID)
		var pl prospect.PlaceLookup
		if lookup != nil {
			pl = lookup
		}
		d.Register(domain.TaskProspecting, prospect.New(client, caller, pl, prospect.Options{
			PollInterval: el.PollInterval,
			PollTimeout:  el.PollTimeout,
		}, log.Logger), cfg.Jobs.Cooldown)
	} else {
		missing = append(missing, domain.TaskProspecting+" (elevenlabs)")
	}

	// The sweep has no subject; a cooldown would block every timer tick.
	d.Register(domain.TaskActivation, sweep.New(client, log.Logger), 0)

	if len(missing) > 0 {
		log.Warn().Str("disabled", strings.Join(missing, ", ")).Msg("workflows not configured")
	}
}
