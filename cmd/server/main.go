// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/masumi-network/payment-coordinator/internal/cardano"
	"github.com/masumi-network/payment-coordinator/internal/chain"
	"github.com/masumi-network/payment-coordinator/internal/config"
	"github.com/masumi-network/payment-coordinator/internal/database"
	"github.com/masumi-network/payment-coordinator/internal/models"
	"github.com/masumi-network/payment-coordinator/internal/repository"
	"github.com/masumi-network/payment-coordinator/internal/router"
	"github.com/masumi-network/payment-coordinator/internal/services"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	if cfg.Environment == "development" {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.Close(db)

	if err := database.RunMigrations(db); err != nil {
		logrus.WithError(err).Fatal("Failed to run migrations")
	}

	store := repository.New(db)
	adapters := adapterFactory(cfg)

	syncService := services.NewSyncService(store, cfg, adapters)
	dispatchService := services.NewDispatchService(store, cfg, adapters, cardano.HexSeedProvider{})
	scheduler := services.NewSchedulerService(syncService, dispatchService, cfg)

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	scheduler.Start(schedulerCtx)

	r := router.Initialize(store, cfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server")

	stopScheduler()
	scheduler.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}

	logrus.Info("Server exited")
}

// adapterFactory builds one Blockfrost client per payment source, keyed by
// source id so the rate limiter and latest-block cache are shared across
// sync and dispatch cycles.
func adapterFactory(cfg *config.Config) services.AdapterFactory {
	var mtx sync.Mutex
	cache := make(map[uuid.UUID]chain.Adapter)

	return func(source *models.PaymentSource) chain.Adapter {
		mtx.Lock()
		defer mtx.Unlock()

		if adapter, ok := cache[source.ID]; ok {
			return adapter
		}

		baseURL := cfg.Chain.PreprodIndexerURL
		if source.Network == models.NetworkMainnet {
			baseURL = cfg.Chain.MainnetIndexerURL
		}

		adapter := chain.NewBlockfrostAdapter(chain.BlockfrostConfig{
			BaseURL:        baseURL,
			ProjectID:      source.RPCProviderAPIKey,
			RequestTimeout: cfg.Chain.RequestTimeout,
			RatePerSecond:  cfg.Chain.RateLimitPerSec,
		})
		cache[source.ID] = adapter
		return adapter
	}
}
