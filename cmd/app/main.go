// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"image-edit-service/internal/config"
	"image-edit-service/internal/infra/adapters/openrouter"
	pg "image-edit-service/internal/infra/db/postgres"
	"image-edit-service/internal/infra/logging"
	"image-edit-service/internal/infra/metrics"
	red "image-edit-service/internal/infra/redis"
	"image-edit-service/internal/infra/storage"
	"image-edit-service/internal/infra/web"
	"image-edit-service/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	jobRepo := pg.NewJobRepo(pool)

	// ---- Blob store ----
	blobStore, err := storage.NewMinioStore(cfg.Storage, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage")
	}

	// ---- Process lock (redis when configured, in-memory otherwise) ----
	var locker usecase.Locker
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		locker = red.NewLocker(redisClient)
	} else {
		logger.Warn().Msg("redis not configured; using in-process job lock")
		locker = red.NewMemoryLocker()
	}

	// ---- Upstream image client ----
	imageGen, err := openrouter.NewClient(openrouter.Options{
		APIKey:      cfg.OpenRouter.APIKey,
		BaseURL:     cfg.OpenRouter.BaseURL,
		Model:       cfg.OpenRouter.Model,
		HTTPReferer: cfg.OpenRouter.HTTPReferer,
		XTitle:      cfg.OpenRouter.XTitle,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("openrouter adapter")
	}
	limited := openrouter.NewLimitedImageGen(imageGen, cfg.OpenRouter.ConcurrentLimit)

	// ---- Use case + HTTP API ----
	jobUC := usecase.NewJobUseCase(jobRepo, blobStore, limited, locker, cfg.Storage.SignedURLTTL, logger)
	server := web.NewServer(cfg.Server, jobUC, logger)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	// ---- Graceful shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}
