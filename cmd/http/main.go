package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awmpietro/policy-flow/internal/app"
	"github.com/awmpietro/policy-flow/internal/config"
	"github.com/awmpietro/policy-flow/internal/logging"
	"github.com/awmpietro/policy-flow/internal/transport/httptransport"
)

func main() {
	cfg := config.Load()
	logger := logging.New(logging.ParseLevel(cfg.LogLevel))

	stack, err := app.NewStack(cfg, logger)
	if err != nil {
		logger.Error("failed to wire service", "error", err)
		os.Exit(1)
	}
	defer stack.Close()

	h := httptransport.NewHandler(stack.Service, logger)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.NewRouter(h, stack.Metrics.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.HTTPAddr, "evaluator", cfg.EvaluatorMode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
