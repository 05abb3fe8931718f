package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"strategyvaults/config"
	"strategyvaults/observability/logging"
	"strategyvaults/observability/metrics"
	telemetry "strategyvaults/observability/otel"
	vaultdconfig "strategyvaults/services/vaultd/config"
	"strategyvaults/services/vaultd/sandbox"
	"strategyvaults/services/vaultd/server"
	"strategyvaults/storage"
)

func main() {
	var (
		cfgPath         string
		checkInvariants bool
	)
	flag.StringVar(&cfgPath, "config", "services/vaultd/config.yaml", "path to vaultd configuration file")
	flag.BoolVar(&checkInvariants, "check-invariants", false, "verify totals against positions after every operation")
	flag.Parse()

	cfg, err := vaultdconfig.Load(cfgPath)
	if err != nil {
		log.Fatalf("vaultd: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("VAULTD_ENV"))
	var logFile io.Writer
	if file := logging.RotatingFile(logging.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); file != nil {
		defer file.Close()
		logFile = file
	}
	logger := logging.Setup("vaultd", env, logFile)

	shutdownTelemetry, err := telemetry.Init(context.Background(),
		telemetry.ConfigFromEnv("vaultd", env, cfg.Telemetry.Traces, cfg.Telemetry.Metrics))
	if err != nil {
		log.Fatalf("vaultd: init telemetry: %v", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	reg, err := config.Load(cfg.RegistryPath)
	if err != nil {
		log.Fatalf("vaultd: load registry: %v", err)
	}

	var db storage.Database
	if cfg.DataDir != "" {
		ldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			log.Fatalf("vaultd: open leveldb: %v", err)
		}
		db = ldb
	} else {
		logger.Warn("no data_dir configured; state is kept in memory")
		db = storage.NewMemDB()
	}
	defer db.Close()

	vaultMetrics := metrics.Vault()
	sb, err := sandbox.New(reg, sandbox.Options{
		DB:              db,
		EventHistory:    cfg.EventHistory,
		Metrics:         vaultMetrics,
		Logger:          logger,
		CheckInvariants: checkInvariants,
	})
	if err != nil {
		log.Fatalf("vaultd: build sandbox: %v", err)
	}

	auth, err := server.NewAuthenticator(cfg.Auth.Principals)
	if err != nil {
		log.Fatalf("vaultd: configure auth: %v", err)
	}
	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	}, sb, auth, vaultMetrics, logger)
	if err != nil {
		log.Fatalf("vaultd: build server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("vaultd listening",
		slog.String("addr", cfg.ListenAddress),
		slog.Int("vaults", len(reg.Vaults)))
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
