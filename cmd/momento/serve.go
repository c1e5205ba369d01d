package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suPer8Hu/momento/internal/ai"
	"github.com/suPer8Hu/momento/internal/auth"
	"github.com/suPer8Hu/momento/internal/bootstrap"
	"github.com/suPer8Hu/momento/internal/chat"
	"github.com/suPer8Hu/momento/internal/httpapi"
	"github.com/suPer8Hu/momento/internal/httpapi/handlers"
	"github.com/suPer8Hu/momento/internal/metrics"
	"github.com/suPer8Hu/momento/internal/session"
	"github.com/suPer8Hu/momento/internal/worker"
)

func newServeCmd(a *app) *cobra.Command {
	var embeddedWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and coordinate prompt lifecycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, embeddedWorker)
		},
	}
	cmd.Flags().BoolVar(&embeddedWorker, "embedded-worker", false, "also run the reference worker in this process")
	return cmd
}

func (a *app) serve(ctx context.Context, embeddedWorker bool) error {
	cfg, log := a.cfg, a.logger
	fb := bootstrap.NewFirebase(cfg)

	st, err := bootstrap.OpenStore(ctx, cfg, fb, log)
	if err != nil {
		return err
	}
	defer st.Close()
	repo := chat.NewRepo(st)

	provider, err := bootstrap.IdentityProvider(ctx, cfg, fb, log)
	if err != nil {
		return err
	}
	events, closeEvents, err := bootstrap.Events(cfg, log)
	if err != nil {
		return err
	}
	defer closeEvents()

	rec := metrics.New()
	monitor := chat.NewServerMonitor(repo, log)
	if err := monitor.Start(ctx); err != nil {
		return err
	}
	defer monitor.Stop()

	opts := bootstrap.ChatOptions(cfg)
	opts.Metrics = rec
	opts.Logger = log
	if events != nil {
		opts.Events = events
	}
	svc := chat.NewService(repo, monitor, opts)

	sessions := session.NewManager(provider, svc, log)
	defer sessions.Close()

	h := handlers.NewHandler(sessions, svc, auth.NewTokenIssuer(cfg.SessionSecret, cfg.SessionTTL), monitor, log)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, rec, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	if embeddedWorker {
		p, err := ai.RegistryFromConfig(cfg).Get(ctx, cfg.AIProvider)
		if err != nil {
			return err
		}
		w := worker.New(repo, p, worker.Options{
			Concurrency:  cfg.WorkerConcurrency,
			PollInterval: cfg.WorkerPollInterval,
			SystemPrompt: cfg.WorkerSystemPrompt,
			Metrics:      rec,
			Logger:       log,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				log.Error("embedded worker stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	wg.Wait()
	return err
}
