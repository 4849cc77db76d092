package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campusguard/internal/api"
	"campusguard/internal/config"
	"campusguard/internal/engine"
	"campusguard/internal/history"
	"campusguard/internal/ingest"
	"campusguard/internal/logging"
	"campusguard/internal/session"
	"campusguard/internal/storage"
	"campusguard/internal/verdicts"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	cfgManager, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting", "version", version, "config", cfgManager.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage error", "err", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logger.Error("storage init error", "err", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	var hist engine.HistoryProvider
	tracker := history.NewTracker(cfg.History.SubjectLimit)
	if store != nil {
		hist = store
	} else {
		hist = tracker
	}

	verdictsStore := verdicts.NewStore(cfg.Verdicts.StoreLimit)
	guard := session.NewGuard(cfg.Session)

	eng := engine.NewEngine(cfg, logger, hist, verdictsStore, store)
	eng.LoadArtifact(cfg.Model.ArtifactPath)
	if cfg.Model.TrainOnStart && store != nil {
		if err := eng.Train(ctx, store); err != nil {
			logger.Warn("initial training failed", "err", err)
		}
	}

	queue := ingest.NewQueue(cfg.Ingest.ChannelBuffer, logger)
	eng.Start(ctx, queue.Events())
	ingest.StartREST(ctx, cfgManager, queue, logger)
	ingest.StartKafka(ctx, cfgManager, queue, logger)
	api.Start(ctx, cfgManager, eng, verdictsStore, guard, store, logger, version)

	stopWatch := make(chan struct{})
	go cfgManager.Watch(3*time.Second,
		func(next *config.Config) {
			eng.UpdateConfig(next)
			logger.Info("config reloaded")
		},
		func(err error) {
			logger.Warn("config reload error", "err", err)
		},
		stopWatch,
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down", "dropped_scans", queue.Dropped())
	close(stopWatch)
	cancel()
}
