package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/momento/internal/ai"
	"github.com/suPer8Hu/momento/internal/bootstrap"
	"github.com/suPer8Hu/momento/internal/chat"
	"github.com/suPer8Hu/momento/internal/config"
	"github.com/suPer8Hu/momento/internal/logger"
	"github.com/suPer8Hu/momento/internal/metrics"
	"github.com/suPer8Hu/momento/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal("worker failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, lg *zap.Logger) error {
	st, err := bootstrap.OpenStore(ctx, cfg, bootstrap.NewFirebase(cfg), lg)
	if err != nil {
		return err
	}
	defer st.Close()

	provider, err := ai.RegistryFromConfig(cfg).Get(ctx, cfg.AIProvider)
	if err != nil {
		return err
	}

	rec := metrics.New()
	if cfg.WorkerMetricsAddr != "" {
		srv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: rec.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				lg.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	w := worker.New(chat.NewRepo(st), provider, worker.Options{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
		SystemPrompt: cfg.WorkerSystemPrompt,
		Metrics:      rec,
		Logger:       lg,
	})
	lg.Info("worker starting", zap.String("provider", cfg.AIProvider), zap.String("store", cfg.StoreBackend))
	return w.Run(ctx)
}
