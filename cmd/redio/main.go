// Package main запускает HTTP-сервер сервиса комиссионных выплат.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/redio/internal/config"
	"github.com/mmeshcher/redio/internal/handler"
	"github.com/mmeshcher/redio/internal/logging"
	"github.com/mmeshcher/redio/internal/middleware"
	"github.com/mmeshcher/redio/internal/notify"
	"github.com/mmeshcher/redio/internal/repository"
	"github.com/mmeshcher/redio/internal/service"
)

type store interface {
	service.Repository
	notify.EventSource
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo store
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg
	} else {
		sugar.Warn("DATABASE_URI is empty, using in-memory store")
		repo = repository.NewMemoryRepository()
	}

	svc := service.NewService(repo)
	defer svc.Close()

	var publishers []notify.Publisher
	if cfg.WebhookURL != "" {
		publishers = append(publishers, notify.NewWebhookClient(cfg.WebhookURL))
	}
	if cfg.RedisAddr != "" {
		stream, err := notify.NewStreamPublisher(ctx, cfg.RedisAddr, cfg.RedisStream, logger)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer stream.Close()
		publishers = append(publishers, stream)
	}

	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is empty, session tokens will not survive restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.FaucetEnabled)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Доставка уведомлений запускается, только если задан хотя бы один получатель
	if len(publishers) > 0 {
		dispatcher := notify.NewDispatcher(repo, cfg.DispatchInterval, logger.Named("dispatcher"), publishers...)
		g.Go(func() error {
			sugar.Infow("starting event dispatcher", "publishers", len(publishers), "interval", cfg.DispatchInterval)
			return dispatcher.Run(ctx)
		})
	}

	g.Go(func() error {
		sugar.Infow("starting redio server", "addr", cfg.RunAddress, "faucet", cfg.FaucetEnabled)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
