package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tickflow/config"
	"tickflow/internal/channel"
	"tickflow/internal/engine"
	"tickflow/internal/feed"
	"tickflow/internal/metrics"
	"tickflow/internal/session"
	"tickflow/internal/store"
	"tickflow/internal/writer"
	"tickflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	shardPath := flag.String("shards", "config/symbol_shards.yml", "Path to symbol shard configuration file")

	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Tickflow.Name,
		"version": cfg.Tickflow.Version,
	}).Info("starting tickflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
		metrics.RegisterMetricHandler(func(m metrics.Metric) {
			if v, ok := m.Float(); ok {
				logger.PublishMetric(m.Component, m.Name, v, m.Fields)
			}
		})
	}
	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Address)
	}

	clock, err := session.NewClock(cfg.Session)
	if err != nil {
		log.WithError(err).Error("failed to build session clock")
		os.Exit(1)
	}

	shardCfg, err := config.LoadSymbolShards(*shardPath)
	if err != nil {
		log.WithError(err).Error("failed to load symbol shard configuration")
		os.Exit(1)
	}

	channels := channel.NewChannels(
		cfg.Channels.TickBuffer,
		cfg.Channels.AlertBuffer,
	)
	defer channels.Close()

	stateStore := store.NewStore(cfg)
	aggEngine := engine.NewEngine(cfg, clock, channels, stateStore)

	readers := make([]*feed.Reader, 0, len(shardCfg.Shards))
	for _, shard := range shardCfg.Shards {
		readers = append(readers, feed.NewReader(cfg, channels, shard))
	}

	alertWriter, err := writer.NewAlertWriter(cfg, channels)
	if err != nil {
		log.WithError(err).Error("failed to create alert writer")
		os.Exit(1)
	}

	snapshotWriter, err := writer.NewSnapshotWriter(cfg, stateStore)
	if err != nil {
		log.WithError(err).Error("failed to create snapshot writer")
		os.Exit(1)
	}

	queryServer := store.NewServer(cfg.Query, stateStore, log)

	var wg sync.WaitGroup

	if err := aggEngine.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start aggregation engine")
		os.Exit(1)
	}

	if err := alertWriter.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start alert writer")
		os.Exit(1)
	}
	if err := snapshotWriter.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start snapshot writer")
		os.Exit(1)
	}

	for _, r := range readers {
		wg.Add(1)
		go func(reader *feed.Reader) {
			defer wg.Done()
			if err := reader.Start(ctx); err != nil {
				log.WithError(err).Warn("feed reader failed to start")
			}
		}(r)
	}

	// Seed yesterday's closes so pct_from_yesterday is available before the
	// first daily rollover. Symbols the source cannot answer simply stay null.
	if cfg.Backfill.Enabled {
		backfill := feed.NewBackfillClient(cfg.Backfill)
		wg.Add(1)
		go func() {
			defer wg.Done()
			backfill.SeedYesterdayCloses(ctx, shardCfg.AllSymbols(), aggEngine.CarryOverYesterdayClose)
		}()
	}

	if queryServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := queryServer.Run(ctx); err != nil {
				log.WithError(err).Warn("query server exited with error")
			}
		}()
	}

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping feed readers")
	for _, r := range readers {
		r.Stop()
	}

	log.Info("stopping aggregation engine")
	aggEngine.Stop()

	log.Info("stopping snapshot writer")
	snapshotWriter.Stop()

	log.Info("stopping alert writer")
	alertWriter.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("tickflow stopped")
}
