// Command beaconwatcher runs the slot-processing core: it polls a beacon
// node, reconciles proposer duties, attestations, and withdrawals against a
// configured set of monitored validators, and emits notifications.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/rocket-pool/beacon-watcher/internal/beaconclient"
	"github.com/rocket-pool/beacon-watcher/internal/cache"
	"github.com/rocket-pool/beacon-watcher/internal/config"
	"github.com/rocket-pool/beacon-watcher/internal/cursorstore"
	"github.com/rocket-pool/beacon-watcher/internal/emitter"
	"github.com/rocket-pool/beacon-watcher/internal/mevlookup"
	"github.com/rocket-pool/beacon-watcher/internal/scheduler"
	"github.com/rocket-pool/beacon-watcher/log"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("fatal: %s", err))
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("BEACON_WATCHER_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	logger, err := log.NewLogger(logFilePath(), log.DefaultLoggerOptions())
	if err != nil {
		return fmt.Errorf("error creating logger: %w", err)
	}
	defer logger.Close()

	printBanner(cfg)

	client, err := beaconclient.New(beaconclient.Options{
		BeaconURL:             cfg.BeaconURL,
		MaxConcurrentRequests: int(cfg.MaxConcurrentRequests),
		BlockCache: cache.Options{
			MaxSize:         50_000,
			CleanupInterval: 10 * time.Minute,
		},
		CommitteeCache: cache.Options{
			MaxSize:         10_000,
			CleanupInterval: 10 * time.Minute,
		},
		Logger: logger.CreateSubLogger("beaconclient"),
	})
	if err != nil {
		return fmt.Errorf("error creating beacon client: %w", err)
	}
	defer client.Close()

	// The real notifier is an external integration (webhook, message queue,
	// etc.) left to the deployment; test_mode and the default both resolve
	// to the no-op stub here.
	em := emitter.New(emitter.NoopNotifier{}, cfg.NotificationRateLimit())

	store := cursorstore.New(cfg.CursorFilePath)

	sched := scheduler.New(
		scheduler.Params{
			BatchSize:             uint64(cfg.BatchSize),
			PollingInterval:       time.Duration(cfg.PollingIntervalSec) * time.Second,
			EpochsBeforeFinal:     uint64(cfg.EpochsBeforeFinal),
			StaleThresholdSlots:   uint64(cfg.StaleThresholdSlots),
			NotificationRateLimit: cfg.NotificationRateLimit(),
			GenesisTime:           config.MainnetGenesisTime,
		},
		client,
		store,
		em,
		mevlookup.NoopRewardLookup{},
		cfg.MonitoredSet(),
		cfg.LabelFor,
		logger.CreateSubLogger("scheduler"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Info("Got interrupt, shutting down")
		cancel()
	}()

	logger.Info("Starting slot processing core")
	if err := sched.Run(ctx, cfg.CursorInitial); err != nil && err != context.Canceled {
		return fmt.Errorf("scheduler stopped: %w", err)
	}
	return nil
}

func logFilePath() string {
	if path := os.Getenv("BEACON_WATCHER_LOG_FILE"); path != "" {
		return path
	}
	return "logs/beaconwatcher.log"
}

func printBanner(cfg *config.Config) {
	color.Cyan("beaconwatcher")
	color.White("  beacon node: %s", cfg.BeaconURL)
	color.White("  monitored labels: %d", len(cfg.Validators))
}
