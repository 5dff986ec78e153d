// Package main запускает HTTP-сервер сервиса комиссий.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wetwo/commission-system/internal/affiliate"
	"github.com/wetwo/commission-system/internal/config"
	"github.com/wetwo/commission-system/internal/handler"
	"github.com/wetwo/commission-system/internal/middleware"
	"github.com/wetwo/commission-system/internal/repository"
	"github.com/wetwo/commission-system/internal/service"
	"github.com/wetwo/commission-system/internal/tier"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var affiliateClient *affiliate.Client
	if cfg.AffiliateSystemAddress != "" {
		affiliateClient = affiliate.NewClient(cfg.AffiliateSystemAddress, cfg.AffiliateAccessToken)
	}

	products := map[string]string{}
	if cfg.ProProductID != "" {
		products[cfg.ProProductID] = tier.Pro
	}
	if cfg.EliteProductID != "" {
		products[cfg.EliteProductID] = tier.Elite
	}

	svc := service.NewService(repo, repo, affiliateClient, products)
	defer svc.Close()

	adminAuth := middleware.NewAdminAuth(cfg.AdminKey)
	verifier := middleware.NewWebhookVerifier(cfg.CommerceWebhookSecret)
	h := handler.NewHandler(svc, logger, adminAuth, verifier)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой досинхронизации ставок с партнёрским сервисом
	g.Go(func() error {
		svc.StartAffiliateSync(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting commission server", "addr", cfg.RunAddress)
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
