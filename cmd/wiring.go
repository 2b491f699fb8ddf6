package main

import (
	"context"
	"fmt"
	"os"

	"ripeness-monitor/internal/broadcast"
	"ripeness-monitor/internal/classifier"
	"ripeness-monitor/internal/clock"
	"ripeness-monitor/internal/config"
	"ripeness-monitor/internal/db"
	"ripeness-monitor/internal/enrich"
	"ripeness-monitor/internal/export"
	"ripeness-monitor/internal/logger"
	"ripeness-monitor/internal/pipeline"
	"ripeness-monitor/internal/series"

	"go.uber.org/zap"
)

// initApp loads configuration, applies flag overrides and opens the store
func initApp(ctx context.Context) error {
	if envFile != "" {
		if err := config.LoadEnvFile(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("env file: %w", err)
		}
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if dbPath != "" {
		cfg.Store.SQLitePath = dbPath
	}
	if driver != "" {
		cfg.Store.Driver = driver
	}

	log, err = logger.New(cfg.Log.Level, cfg.Log.Format, "ripeness-monitor")
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}

	selector, err = classifier.NewSelector(cfg.Rules.Policy, cfg.Rules.Overrides)
	if err != nil {
		return fmt.Errorf("rule policy error: %w", err)
	}

	store, err = db.Open(ctx, db.Options{
		Driver:          cfg.Store.Driver,
		SQLitePath:      cfg.Store.SQLitePath,
		MongoURI:        cfg.Store.MongoURI,
		MongoDatabase:   cfg.Store.MongoDatabase,
		MongoCollection: cfg.Store.MongoCollection,
		Location:        clock.Civil,
	})
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	log.Debug("store opened", zap.String("driver", cfg.Store.Driver))
	return nil
}

func closeApp() {
	if store != nil {
		store.Close()
	}
	if log != nil {
		log.Sync()
	}
}

func newEnricher() enrich.Enricher {
	if cfg.Model.URL == "" {
		log.Info("model enrichment disabled")
		return enrich.Nop{}
	}
	log.Info("model enrichment enabled", zap.String("url", cfg.Model.URL))
	return enrich.NewHTTPEnricher(cfg.Model.URL, cfg.Model.Timeout, log)
}

func newPipeline(b broadcast.Broadcaster, clk clock.Clock) (*pipeline.Pipeline, error) {
	return pipeline.New(pipeline.Options{
		Store:        store,
		Broadcaster:  b,
		Clock:        clk,
		Selector:     selector,
		Enricher:     newEnricher(),
		StoreTimeout: cfg.Store.Timeout,
		Topic:        cfg.Broadcast.Topic,
		Location:     clock.Civil,
		Logger:       log,
	})
}

func newSeries() *series.Service {
	return series.NewService(store, series.Config{
		BucketWidth:  cfg.Series.BucketWidth,
		FetchLimit:   cfg.Series.FetchLimit,
		StoreTimeout: cfg.Store.Timeout,
		Location:     clock.Civil,
	}, log)
}

func newExporter(dir string) *export.Exporter {
	if dir == "" {
		dir = cfg.Export.Dir
	}
	return export.New(store, dir, cfg.Store.Timeout, log)
}
