package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"exampro/internal/app"
	"exampro/internal/config"
	"exampro/internal/notegen"
	"exampro/internal/ratelimit"
	"exampro/internal/server"
	"exampro/internal/util"
	"exampro/pkg/ai"
	"exampro/pkg/gateway"
	"exampro/pkg/parse"
	"exampro/pkg/queue"
	"exampro/pkg/session"
	"exampro/pkg/storage"
)

const defaultTokenTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	syncInterval, err := config.ParseSyncInterval(cfg.SyncInterval)
	if err != nil {
		log.Fatalf("failed to parse sync interval: %v", err)
	}
	tokenTTL, err := config.ParseTokenTTL(cfg.TokenTTL)
	if err != nil {
		log.Fatalf("failed to parse token TTL: %v", err)
	}
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}

	logger := util.InitLogger(cfg.LogLevel)

	parseClient, err := parse.New(cfg.ParseServerURL, cfg.ParseAppID, cfg.ParseRESTKey)
	if err != nil {
		log.Fatalf("failed to init store client: %v", err)
	}
	gw := gateway.New(parseClient)

	tokens, err := session.NewTokens(cfg.TokenSecret, tokenTTL)
	if err != nil {
		log.Fatalf("failed to init token issuer: %v", err)
	}
	snapshots, err := session.NewGormStore(cfg.SnapshotDSN)
	if err != nil {
		log.Fatalf("failed to open snapshot store: %v", err)
	}

	gemini, err := ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiBaseURL)
	if err != nil {
		log.Fatalf("failed to init gemini client: %v", err)
	}
	tutor := ai.NewTutor(ai.NewGeminiGenerator(gemini, cfg.GenerationModel))

	noteQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.NoteStream,
		Group:    cfg.NoteGroup,
	})
	if err != nil {
		log.Fatalf("failed to init note queue: %v", err)
	}

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}
	proofs := storage.NewProofImages(objects, storage.DefaultProofURLExpiry)

	appCore, err := app.New(app.Config{
		Gateway:      gw,
		Tokens:       tokens,
		Snapshots:    snapshots,
		Tutor:        tutor,
		Notes:        noteQueue,
		Proofs:       proofs,
		SyncInterval: syncInterval,
		SyncJitter:   cfg.SyncJitter,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer := server.New(server.Config{
		App:             appCore,
		Logger:          logger,
		TrustedProxies:  trusted,
		LoginLimiter:    newLimiter(cfg, "login", cfg.LoginRateLimitPerMinute),
		RegisterLimiter: newLimiter(cfg, "register", cfg.RegisterRateLimitPerMinute),
		TutorLimiter:    newLimiter(cfg, "tutor", cfg.TutorRateLimitPerMinute),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := notegen.New(noteQueue, tutor, gw, cfg.NoteWorkers, logger)
	worker.Start(ctx)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("exampro server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	appCore.Close()
}

func newLimiter(cfg config.FileConfig, name string, perMinute int) *ratelimit.FixedWindowLimiter {
	if perMinute <= 0 {
		return nil
	}
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "exampro:ratelimit:"+name, perMinute, time.Minute)
	if err != nil {
		log.Fatalf("failed to init %s rate limiter: %v", name, err)
	}
	return limiter
}
