package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oddswatch/oddswatch/internal/config"
	"github.com/oddswatch/oddswatch/internal/dispatch"
	"github.com/oddswatch/oddswatch/internal/ingest"
	"github.com/oddswatch/oddswatch/internal/logger"
	"github.com/oddswatch/oddswatch/internal/market"
	"github.com/oddswatch/oddswatch/internal/models"
	"github.com/oddswatch/oddswatch/internal/orchestrator"
	"github.com/oddswatch/oddswatch/internal/scoring"
	"github.com/oddswatch/oddswatch/internal/storage"
	"github.com/oddswatch/oddswatch/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		stdlog.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log.Info().Str("path", *configPath).Msg("configuration loaded")

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close storage")
		}
	}()

	providers := make([]ingest.Provider, 0, len(cfg.Ingest.Providers))
	for _, pc := range cfg.Ingest.Providers {
		providers = append(providers, ingest.NewHTTPProvider(pc.Name, pc.BaseURL, cfg.Ingest.FetchTimeout()))
	}
	if len(providers) == 0 {
		log.Fatal().Msg("no providers configured")
	}

	scheduler := ingest.NewScheduler(ingest.Config{
		Groups:        cfg.Ingest.Groups,
		FetchTimeout:  cfg.Ingest.FetchTimeout(),
		MaxConcurrent: cfg.Ingest.MaxConcurrentFetches,
		Lookback:      cfg.Ingest.Lookback(),
		Lookahead:     cfg.Ingest.Lookahead(),
		PacingBudget:  cfg.Ingest.PollInterval() / 4,
		FieldPriority: ingest.FieldPriority(cfg.Ingest.FieldPriority),
	}, providers)

	snapshots := market.NewStore(cfg.Monitor.HistoryLimit, cfg.Monitor.TargetRange, market.Thresholds{
		MinChange:         cfg.Monitor.MinChangeThreshold,
		SignificantChange: cfg.Monitor.SignificantChangeThreshold,
		CriticalChange:    cfg.Monitor.CriticalChangeThreshold,
	})

	scorer := scoring.New(scoring.Config{
		TargetRange:       cfg.Monitor.TargetRange,
		GroupTiers:        cfg.Ingest.GroupTiers,
		SignificantChange: cfg.Monitor.SignificantChangeThreshold,
	}, scoring.KellyStaking(cfg.Staking.Bankroll, cfg.Staking.KellyFraction, cfg.Staking.MaxStakePct), nil)

	active := scoring.NewActiveSet(cfg.Ingest.Lookahead())

	var notifier dispatch.Notifier = logNotifier{}
	var noticer orchestrator.Noticer
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
			cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize Telegram client")
		}
		notifier = telegramClient
		noticer = telegramClient
		log.Info().Msg("telegram client initialized")
	} else {
		log.Debug().Msg("telegram notifications disabled, alerts go to the log")
	}

	dispatcher := dispatch.New(dispatch.Config{
		MaxDailyAlerts:         cfg.Alerts.MaxDailyAlerts,
		MaxAlertsPerInstrument: cfg.Alerts.MaxAlertsPerInstrument,
		Cooldown:               cfg.Alerts.Cooldown(),
		MinEdge:                cfg.Alerts.MinEdge,
		MaxLead:                cfg.Alerts.MaxLead(),
	}, notifier)

	orch := orchestrator.New(orchestrator.Config{
		PollInterval:            cfg.Ingest.PollInterval(),
		Retention:               time.Duration(cfg.Storage.RetentionDays) * 24 * time.Hour,
		FailureBackoffThreshold: cfg.Ingest.FailureBackoffThreshold,
	}, scheduler, snapshots, scorer, active, dispatcher, store, noticer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	if telegramClient != nil {
		telegramClient.SetStatusFunc(func() string {
			s := orch.Status()
			return fmt.Sprintf("cycles: %d\nlast cycle: %v\nactive opportunities: %d\nalerts sent today: %d\nprovider error rate: %.1f%%",
				s.CyclesRun, s.LastCycleDuration.Round(time.Millisecond),
				s.ActiveOpportunities, s.AlertsSentToday, s.ProviderErrorRate*100)
		})
		telegramClient.ListenForCommands(ctx)
	}

	log.Info().
		Dur("interval", cfg.Ingest.PollInterval()).
		Int("groups", len(cfg.Ingest.Groups)).
		Int("providers", len(providers)).
		Msg("starting monitoring service")

	orch.Run(ctx)
}

// logNotifier is the fallback notifier when Telegram is disabled.
type logNotifier struct{}

func (logNotifier) Send(alert models.FormattedAlert) error {
	log.Info().Str("title", alert.Title).Str("priority", alert.Priority.String()).Msg("alert")
	return nil
}
