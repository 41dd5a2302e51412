package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/kaeldominion/CrowdStack-sub002/internal/di"
	"github.com/kaeldominion/CrowdStack-sub002/migrations"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/config"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/database"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/kafka"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/logger"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/redis"
	"github.com/kaeldominion/CrowdStack-sub002/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.Log.Level,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
		OutputPath:  cfg.Log.OutputPath,
	}); err != nil {
		logger.Fatal("failed to init logger", zap.Error(err))
	}
	log := logger.Get()
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("closeout service stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	metrics, err := telemetry.NewCloseoutMetrics(telemetry.GetMeter())
	if err != nil {
		return err
	}

	containerCfg := &di.ContainerConfig{
		Config:  cfg,
		Metrics: metrics,
		Logger:  log,
	}

	if cfg.Closeout.Store == "postgres" {
		db, err := database.NewPostgres(ctx, &database.PostgresConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnectTimeout:  cfg.Database.ConnectTimeout,
			MaxRetries:      cfg.Database.MaxRetries,
			RetryInterval:   cfg.Database.RetryInterval,
		})
		if err != nil {
			return err
		}
		defer db.Close()

		if err := migrations.Apply(ctx, db.Pool()); err != nil {
			return err
		}
		log.Info("database ready", zap.String("host", cfg.Database.Host), zap.String("dbname", cfg.Database.DBName))
		containerCfg.DB = db
	}

	if cfg.Closeout.LockBackend == "redis" {
		rdb, err := redis.NewClient(ctx, &redis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			MaxRetries:   3,
		})
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		containerCfg.Redis = rdb
	}

	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(&kafka.ProducerConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
		})
		if err != nil {
			return err
		}
		containerCfg.Publisher = producer
	}

	container, err := di.NewContainer(ctx, containerCfg)
	if err != nil {
		return err
	}
	defer container.Close()

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      container.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("closeout service listening",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.Closeout.Store),
			zap.String("lock_backend", cfg.Closeout.LockBackend),
			zap.Bool("kafka", cfg.Kafka.Enabled),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
