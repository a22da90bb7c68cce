package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiaot623/gogo/assistant/internal/adapter/llm"
	"github.com/xiaot623/gogo/assistant/internal/config"
	"github.com/xiaot623/gogo/assistant/internal/logging"
	"github.com/xiaot623/gogo/assistant/internal/repository"
	"github.com/xiaot623/gogo/assistant/internal/service"
	"github.com/xiaot623/gogo/assistant/internal/stream"
	server "github.com/xiaot623/gogo/assistant/internal/transport/http"
	"github.com/xiaot623/gogo/assistant/policy"
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, cfg.LogLevel, false)

	logger.Info("starting assistant service",
		"port", cfg.HTTPPort,
		"database", cfg.DatabaseURL,
		"litellm_url", cfg.LiteLLMURL,
		"mode", cfg.Mode,
	)

	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		logger.Error("failed to initialize policy engine", "error", err)
		os.Exit(1)
	}

	backend := llm.NewBackend(cfg.Mode, cfg.LiteLLMURL, cfg.LiteLLMAPIKey, cfg.LLMTimeout, logger)
	streamer := stream.New(cfg.StreamBufferSize, logger)
	svc := service.New(db, backend, policyEngine, streamer, cfg, logger)

	// Runs left mid-flight by a previous process cannot resume.
	recovered, err := svc.Recover(ctx)
	if err != nil {
		logger.Error("failed to recover interrupted runs", "error", err)
		os.Exit(1)
	}
	if recovered > 0 {
		logger.Warn("marked interrupted runs failed", "count", recovered)
	}

	go svc.RunExpiryMonitor(ctx)

	e := server.NewServer(svc, logger)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()
	logger.Info("api started", "port", cfg.HTTPPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Open streams end once processing stops, so the server can drain.
	svc.Close()
	streamer.Shutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("stopped")
}
