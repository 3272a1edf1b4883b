package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "github.com/trivianft/core/internal/app"
	"github.com/trivianft/core/internal/app/httpapi"
	"github.com/trivianft/core/internal/app/metrics"
	"github.com/trivianft/core/internal/app/services/sessions"
	"github.com/trivianft/core/internal/app/services/workflow"
	"github.com/trivianft/core/internal/app/storage/postgres"
	"github.com/trivianft/core/internal/chain"
	"github.com/trivianft/core/internal/config"
	"github.com/trivianft/core/internal/content"
	"github.com/trivianft/core/internal/kv"
	"github.com/trivianft/core/internal/middleware"
	"github.com/trivianft/core/internal/secretstore"
	"github.com/trivianft/core/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/server.yaml", "Path to the YAML configuration file")
	flag.Parse()

	// Local development convenience; absence is normal in production.
	_ = godotenv.Load()

	log := logger.NewDefault("server")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Error("load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, postgres.Config{
		DSN:              cfg.Postgres.DSN,
		MaxOpenConns:     cfg.Postgres.MaxOpenConns,
		MaxIdleConns:     cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime:  cfg.Postgres.ConnMaxLifetime,
		StatementTimeout: cfg.Postgres.StatementTimeout,
	})
	if err != nil {
		log.WithError(err).Error("connect postgres")
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.WithError(err).Error("verify schema")
		os.Exit(1)
	}
	store := postgres.New(db)

	kvStore := kv.NewRedis(kv.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer kvStore.Close()

	secrets := secretstore.New(cfg.Secrets.Dir)
	tokenSecret, err := secrets.Get(ctx, cfg.Auth.TokenSecretName)
	if err != nil {
		log.WithError(err).Error("load token secret")
		os.Exit(1)
	}

	chainClient, err := chain.NewClient(chain.Config{
		RPCURL:  cfg.Chain.RPCURL,
		Timeout: cfg.Chain.Timeout,
	}, secrets)
	if err != nil {
		log.WithError(err).Error("configure chain client")
		os.Exit(1)
	}

	var pins workflow.ContentAddressing
	if cfg.Content.PinURL != "" {
		pinner, err := content.NewHTTPPinner(&http.Client{Timeout: 30 * time.Second},
			cfg.Content.PinURL, cfg.Content.PinAPIKey, log)
		if err != nil {
			log.WithError(err).Error("configure pinner")
			os.Exit(1)
		}
		pins = pinner
	} else {
		log.Warn("CONTENT_PIN_URL not set; minting will be disabled")
	}

	application, err := app.New(app.Deps{
		Stores: app.Stores{
			Players: store, Categories: store, Flags: store, Sessions: store,
			Eligibilities: store, Catalog: store, Assets: store, Mints: store,
			Forges: store, Seasons: store, Points: store, Snapshots: store,
		},
		KV:        kvStore,
		Questions: store,
		Chain:     chainClient,
		Blobs:     content.NewDirStore(cfg.Content.BlobDir),
		Pins:      pins,
		SessionConfig: sessions.Config{
			DailyLimitConnected: cfg.Sessions.DailyLimitConnected,
			DailyLimitGuest:     cfg.Sessions.DailyLimitGuest,
			Cooldown:            cfg.Sessions.Cooldown,
			LockTTL:             cfg.Sessions.LockTTL,
			HotStateTTL:         cfg.Sessions.HotStateTTL,
		},
		WorkflowConfig: workflow.Config{
			PolicyID:      cfg.Chain.PolicyID,
			SigningKeyRef: cfg.Chain.SigningKeyRef,
			RetryInitial:  cfg.Workflow.RetryInitial,
			RetryMax:      cfg.Workflow.RetryMax,
			MaxAttempts:   cfg.Workflow.MaxAttempts,
			StaleAfter:    cfg.Workflow.StaleAfter,
			ScanInterval:  cfg.Workflow.ScanInterval,
		},
		SeasonSchedule:    cfg.Seasons.Schedule,
		SweeperInterval:   cfg.Jobs.SweeperInterval,
		ReconcileInterval: cfg.Jobs.ReconcileInterval,
	}, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	application.AddProbe("postgres", func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	application.AddProbe("redis", func(ctx context.Context) error {
		_, err := kvStore.Ping(ctx)
		return err
	})

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	auth := middleware.NewAuthMiddleware(tokenSecret, log, []string{"/health", "/metrics"})
	root := http.NewServeMux()
	root.Handle("/metrics", metrics.Handler())
	root.Handle("/", auth.Handler(metrics.InstrumentHandler(httpapi.NewHandler(application))))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("http server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	application.Stop(shutdownCtx)
	log.Info("server stopped")
}
