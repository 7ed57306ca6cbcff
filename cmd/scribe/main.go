package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/MikeSquared-Agency/scribe/internal/anthropic"
	"github.com/MikeSquared-Agency/scribe/internal/api"
	"github.com/MikeSquared-Agency/scribe/internal/backfill"
	"github.com/MikeSquared-Agency/scribe/internal/config"
	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/ingest"
	"github.com/MikeSquared-Agency/scribe/internal/metrics"
	"github.com/MikeSquared-Agency/scribe/internal/store"
	"github.com/MikeSquared-Agency/scribe/internal/stream"
)

func main() {
	importDir := flag.String("import-dir", "", "import every export under this directory and exit")
	statePath := flag.String("state", "", "state file for -import-dir (default: <dir>/"+backfill.StateFileName+")")
	dryRun := flag.Bool("dry-run", false, "with -import-dir: import without publishing or recording")
	keepDups := flag.Bool("keep-duplicates", false, "with -import-dir: keep exports that overlap an earlier file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("loading .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	opts := []ingest.Option{ingest.WithObserver(m)}

	// Anthropic pre-validation (optional, advisory only)
	if cfg.AnthropicAPIKey != "" {
		llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.PrevalidateModel)
		opts = append(opts, ingest.WithPreValidator(anthropic.NewPreValidator(llm)))
		slog.Info("pre-validation enabled", "model", llm.Model())
	}

	dispatcher := ingest.New(ingest.Config{
		StreamThreshold: cfg.StreamThresholdBytes,
		SampleBytes:     cfg.SampleBytes,
		ConfidenceFloor: cfg.ConfidenceFloor,
		StreamOptions: []stream.Option{
			stream.WithMaxBuffer(cfg.StreamMaxBufferBytes),
			stream.WithTailWindow(cfg.StreamTailBytes),
			stream.WithMaxRecordBytes(cfg.StreamMaxRecordBytes),
		},
	}, slog.Default(), opts...)

	// Database (optional import ledger)
	var db *store.Store
	if cfg.DatabaseURL != "" {
		db, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		slog.Info("database connected")
	} else {
		slog.Warn("DATABASE_URL not set, import ledger disabled")
	}

	// NATS/Hermes (optional import events)
	var hermesClient *hermes.Client
	if cfg.NatsURL != "" {
		hermesClient, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := hermesClient.Close(); err != nil {
				slog.Warn("failed to close NATS connection", "error", err)
			}
		}()
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS_URL not set, import events disabled")
	}

	if *importDir != "" {
		runOpts := []backfill.Option{}
		if hermesClient != nil {
			runOpts = append(runOpts, backfill.WithPublisher(hermesClient))
		}
		if db != nil {
			runOpts = append(runOpts, backfill.WithLedger(db))
		}
		runner := backfill.NewRunner(backfill.Config{
			Dir:            *importDir,
			StatePath:      *statePath,
			DryRun:         *dryRun,
			KeepDuplicates: *keepDups,
		}, dispatcher, slog.Default(), runOpts...)
		if _, err := runner.Run(ctx); err != nil {
			slog.Error("directory import failed", "error", err)
			os.Exit(1)
		}
		return
	}

	srvOpts := []api.Option{
		api.WithMetrics(m),
		api.WithAPIToken(cfg.APIToken),
		api.WithMaxUploadBytes(cfg.MaxUploadBytes),
		api.WithSampleBytes(cfg.SampleBytes),
	}
	if hermesClient != nil {
		srvOpts = append(srvOpts, api.WithPublisher(hermesClient))
	}
	if db != nil {
		srvOpts = append(srvOpts, api.WithLedger(db))
	}

	// Redis rate limiter (optional, fail-open)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			slog.Warn("redis ping failed, rate limiting disabled", "error", err)
		} else {
			srvOpts = append(srvOpts, api.WithRateLimiter(api.NewRedisLimiter(rdb, cfg.RateWindow, cfg.RateLimit)))
			slog.Info("rate limiting enabled", "limit", cfg.RateLimit, "window", cfg.RateWindow)
		}
		pingCancel()
	}

	srv := api.NewServer(cfg.Port, dispatcher, slog.Default(), srvOpts...)
	slog.Info("scribe ready", "port", cfg.Port)

	if err := srv.Start(ctx); err != nil {
		slog.Error("HTTP server error", "error", err)
		os.Exit(1)
	}
	slog.Info("scribe stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
