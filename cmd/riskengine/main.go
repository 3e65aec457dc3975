package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/alerting"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/anomaly"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/cache"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/config"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/engine"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/geo"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/ingest"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/network"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/regulation"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/scheduler"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/segments"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/server"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/storage"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/internal/thresholds"
	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "riskengine: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	assessmentCache := cache.New(redisClient, cfg.Redis.TTL, log)
	if err := assessmentCache.Ping(ctx); err != nil {
		log.Warn("redis unavailable, caching degraded", zap.Error(err))
	}

	regEngine := regulation.NewEngine(log)
	if cfg.Regulation.OverridesPath != "" {
		if err := regEngine.LoadOverrides(cfg.Regulation.OverridesPath); err != nil {
			return err
		}
	}

	anomalyCfg := anomaly.DefaultConfig()
	anomalyCfg.ArtifactPath = cfg.Engine.AnomalyArtifactPath

	dispatcher := alerting.NewDispatcher(log)
	dispatcher.Register(alerting.NewLogNotifier(log))
	if cfg.Alerting.SlackWebhookURL != "" {
		dispatcher.Register(alerting.NewWebhookNotifier("slack", cfg.Alerting.SlackWebhookURL))
	}
	if cfg.Alerting.GenericWebhookURL != "" {
		dispatcher.Register(alerting.NewWebhookNotifier("webhook", cfg.Alerting.GenericWebhookURL))
	}
	var alertPublishers []*alerting.KafkaNotifier
	if cfg.Kafka.Enabled {
		// email and sms gateways consume the alerts topic downstream
		for _, channel := range []string{"email", "sms"} {
			notifier := alerting.NewKafkaNotifier(channel, cfg.Kafka.Brokers, cfg.Kafka.AlertsTopic)
			dispatcher.Register(notifier)
			alertPublishers = append(alertPublishers, notifier)
		}
	}

	orch := engine.NewOrchestrator(engine.Deps{
		Geo:        geo.NewValidator(geo.NewHTTPResolver(cfg.Geo.Endpoint, cfg.Geo.Timeout), log),
		Anomaly:    anomaly.NewDetector(anomalyCfg, log),
		Network:    network.NewDetector(log),
		Thresholds: thresholds.NewEngine(log),
		Segments:   segments.NewService(store, log),
		Regulation: regEngine,
		Store:      store,
		Cache:      assessmentCache,
		Alerts:     dispatcher,
	}, log)

	sched := scheduler.New(scheduler.Config{
		RetrainInterval:   cfg.Engine.RetrainInterval,
		ThresholdInterval: cfg.Engine.ThresholdInterval,
		RingSweepInterval: cfg.Engine.RingSweepInterval,
		MinRingSize:       cfg.Engine.MinRingSize,
	}, orch, log)
	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("scheduler stopped", zap.Error(err))
		}
	}()

	var consumer *ingest.Consumer
	if cfg.Kafka.Enabled {
		consumer = ingest.NewConsumer(ingest.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.EventsTopic,
			GroupID: cfg.Kafka.GroupID,
			Workers: cfg.Kafka.Workers,
		}, orch, log)
		consumer.Start(ctx)
	}

	srv := server.New(server.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, orch, log)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
	if consumer != nil {
		consumer.Stop()
	}
	for _, publisher := range alertPublishers {
		if err := publisher.Close(); err != nil {
			log.Warn("alert publisher close failed", zap.Error(err))
		}
	}
	log.Info("riskengine stopped")
	return nil
}

func openStore(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.DSN != "" {
		return storage.NewPostgresStore(cfg.Database.DSN, log)
	}
	return storage.NewSQLiteStore(cfg.Database.SQLitePath, log)
}
