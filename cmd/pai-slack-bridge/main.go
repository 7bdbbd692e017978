package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/platform-agent/internal/adminapi"
	"github.com/p-blackswan/platform-agent/internal/config"
	"github.com/p-blackswan/platform-agent/internal/health"
	"github.com/p-blackswan/platform-agent/internal/intake"
	"github.com/p-blackswan/platform-agent/internal/jobhistory"
	"github.com/p-blackswan/platform-agent/internal/metrics"
	"github.com/p-blackswan/platform-agent/internal/processor"
	"github.com/p-blackswan/platform-agent/internal/queue"
	"github.com/p-blackswan/platform-agent/internal/slackbridge"
	"github.com/p-blackswan/platform-agent/internal/threadstore"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.Debug {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		log.Logger = logger
	}

	logger.Info().
		Str("queue_dir", cfg.QueueBaseDir).
		Str("admin_addr", cfg.AdminListenAddr).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("starting pai-slack-bridge")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	var adminMetrics *metrics.Metrics
	if cfg.MetricsEnabled {
		adminMetrics = m
	}

	threadDir := cfg.ThreadStoreDir
	if override := os.Getenv("__THREAD_STORE_DIR"); override != "" {
		threadDir = override
	}
	if threadDir == "" {
		threadDir = filepath.Join(cfg.QueueBaseDir, "threads")
	}
	store, err := threadstore.New(threadDir, "pai-slack-bridge", m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init thread store")
	}

	q, err := queue.New(cfg.QueueBaseDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init queue")
	}

	history, err := jobhistory.New(cfg.JobHistoryDBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init job history store")
	}
	defer history.Close()

	checker := health.NewChecker(logger)
	checker.Register("queue", func(ctx context.Context) health.Status {
		if _, err := q.GetStatus(); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})
	checker.Register("job_history", func(ctx context.Context) health.Status {
		if _, err := history.CountByStatus(); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	rawSlack := slackbridge.NewRawClient(cfg.SlackBotToken, cfg.SlackAppToken)
	slackClient := slackbridge.NewClient(rawSlack, cfg.AllowedChannelSlice(), logger)

	var wg sync.WaitGroup

	proc := processor.New(processor.Config{
		CLIPath:         cfg.AgentCLIPath,
		WorkingDir:      cfg.AgentWorkingDir,
		MaxOutputChars:  cfg.AgentMaxOutputChars,
		PollInterval:    cfg.PollInterval(),
		ThreadMaxAgeHrs: cfg.ThreadMaxAgeHours,
	}, q, store, slackClient, history, m, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := proc.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("processor stopped with error")
		}
	}()

	intakeCfg := intake.Config{
		UserAllowlist:    cfg.AllowedUserList(),
		ChannelAllowlist: cfg.AllowedChannelList(),
		ContextBudget:    cfg.ContextBudgetChars,
	}
	in := intake.New(intakeCfg, store, q, slackClient, history, logger)
	app := slackbridge.NewApp(rawSlack, in, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("slack socket mode stopped with error")
		}
	}()

	adminSrv := adminapi.NewServer(adminapi.Config{
		ListenAddr: cfg.AdminListenAddr,
		APIKey:     cfg.AdminAPIKey,
	}, q, history, adminMetrics, checker, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := adminSrv.Start(); err != nil {
			logger.Error().Err(err).Msg("admin API server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down gracefully")

	if err := adminSrv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("admin API shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("pai-slack-bridge stopped")
}
