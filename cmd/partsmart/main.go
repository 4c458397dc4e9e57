// Package main запускает HTTP-сервер маркетплейса PartSmart.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/partsmart-ledger/internal/config"
	"github.com/mmeshcher/partsmart-ledger/internal/events"
	"github.com/mmeshcher/partsmart-ledger/internal/handler"
	"github.com/mmeshcher/partsmart-ledger/internal/idempotency"
	"github.com/mmeshcher/partsmart-ledger/internal/middleware"
	"github.com/mmeshcher/partsmart-ledger/internal/payout"
	"github.com/mmeshcher/partsmart-ledger/internal/repository"
	"github.com/mmeshcher/partsmart-ledger/internal/service"
)

// storage хранилище сервиса, из которого также читается outbox событий.
type storage interface {
	service.Repository
	events.Store
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	repo, err := openStorage(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	var payouts service.PayoutProvider
	if cfg.PayoutProviderAddress != "" {
		payouts = payout.NewClient(cfg.PayoutProviderAddress, logger.Named("payout"))
	}

	svc := service.NewService(repo, payouts, service.Settings{
		Pricing:               cfg.Pricing(),
		ReturnWindowDays:      cfg.ReturnWindowDays,
		MinimumWithdrawal:     cfg.MinimumWithdrawal,
		CommissionRate:        cfg.CommissionRate,
		PlatformWalletOwnerID: cfg.PlatformWalletOwnerID,
	}, logger)
	defer svc.Close()

	if cfg.AdminEmail != "" {
		id, err := svc.EnsureAdmin(context.Background(), cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			sugar.Fatalw("admin bootstrap error", "error", err.Error())
		}
		sugar.Infow("admin account ready", "user_id", id)
	}

	idemStore, err := idempotency.Open(cfg.IdempotencyDBPath)
	if err != nil {
		sugar.Fatalw("idempotency store initialization error", "error", err.Error())
	}
	defer idemStore.Close()

	identity := func(r *http.Request) string {
		actor, ok := middleware.GetActorFromContext(r.Context())
		if !ok {
			return ""
		}
		return strconv.FormatInt(actor.UserID, 10)
	}

	if cfg.JWTSecret == "" {
		sugar.Warn("JWT_SECRET is not set, tokens will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, idempotency.NewMiddleware(idemStore, identity, logger.Named("idempotency")))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая передача заявок на вывод провайдеру выплат
	g.Go(func() error {
		svc.StartPayoutUpdates(ctx)
		return nil
	})

	// Очистка просроченных ключей идемпотентности
	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				n, err := idemStore.Cleanup(time.Now())
				if err != nil {
					sugar.Warnw("idempotency cleanup failed", "error", err)
					continue
				}
				sugar.Debugw("idempotency keys cleaned", "count", n)
			}
		}
	})

	// Публикация событий заказов
	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewPublisher(repo, events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic), logger.Named("events"))
		g.Go(func() error {
			defer publisher.Close()
			return publisher.Run(ctx)
		})
	} else {
		sugar.Info("KAFKA_BROKERS is not set, order events stay in the outbox")
	}

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting partsmart server", "addr", cfg.RunAddress)
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

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

// openStorage выбирает PostgreSQL, если задан адрес БД, иначе хранилище в памяти.
func openStorage(dsn string) (storage, error) {
	if dsn == "" {
		return repository.NewMemoryRepository(), nil
	}
	return repository.NewPostgresRepository(dsn)
}
