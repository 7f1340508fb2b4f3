package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/adamw/Draft-Commander/internal/api"
	"github.com/adamw/Draft-Commander/internal/config"
	"github.com/adamw/Draft-Commander/internal/jobs"
	"github.com/adamw/Draft-Commander/internal/logger"
	"github.com/adamw/Draft-Commander/internal/marketplace"
	natsbus "github.com/adamw/Draft-Commander/internal/nats"
	"github.com/adamw/Draft-Commander/internal/pipeline"
	"github.com/adamw/Draft-Commander/internal/queue"
	"github.com/adamw/Draft-Commander/internal/store"
	"github.com/adamw/Draft-Commander/internal/templates"
	"github.com/adamw/Draft-Commander/internal/websocket"
)

func main() {
	cfg := config.Load()

	if err := logger.Init("draft-commander", filepath.Join(cfg.DataDir, "logs")); err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Close()

	log := logger.Logger
	log.Info().Str("store", cfg.StoreBackend).Str("port", cfg.Port).Msg("Starting Draft Commander")

	jobStore, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open job store")
	}
	defer jobStore.Close()

	tpl, err := templates.NewStore(filepath.Join(cfg.DataDir, "templates.json"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open template store")
	}

	drafter := marketplace.NewHTTPDrafter(cfg.DrafterURL, cfg.StageTimeout)
	client := marketplace.NewHTTPClient(marketplace.ClientConfig{
		Token:             cfg.UserToken,
		TaxonomyURL:       cfg.TaxonomyURL,
		InventoryURL:      cfg.InventoryURL,
		MediaURL:          cfg.MediaURL,
		MarketplaceID:     cfg.MarketplaceID,
		FulfillmentPolicy: cfg.FulfillmentPolicy,
		PaymentPolicy:     cfg.PaymentPolicy,
		ReturnPolicy:      cfg.ReturnPolicy,
		MerchantLocation:  cfg.MerchantLocation,
	})

	exec := pipeline.NewExecutor(drafter, client, pipeline.Config{
		MaxAttempts:      cfg.MaxAttempts,
		RetryBaseDelay:   cfg.RetryBaseDelay,
		RetryMaxDelay:    cfg.RetryMaxDelay,
		StageTimeout:     cfg.StageTimeout,
		MaxImages:        cfg.MaxImages,
		DefaultPrice:     cfg.DefaultPrice,
		DefaultCondition: cfg.DefaultCondition,
	})

	manager := queue.NewManager(jobStore, exec, tpl, queue.Config{
		WorkerCount:        cfg.WorkerCount,
		PollInterval:       cfg.PollInterval,
		MaxAttempts:        cfg.MaxAttempts,
		DefaultAutoPublish: cfg.AutoPublish,
	})

	hub := websocket.NewHub()
	go hub.Run()
	manager.OnUpdate(func(job *jobs.Job) {
		websocket.BroadcastJobUpdate(hub, job)
	})

	manager.Start()
	defer manager.Stop()

	service := queue.NewService(manager)

	if cfg.UseNATS {
		natsServer, err := natsbus.NewServer(cfg.NATSURL, service)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		if err := natsServer.Subscribe(); err != nil {
			log.Fatal().Err(err).Msg("Failed to subscribe to NATS")
		}
		defer natsServer.Close()
		log.Info().Str("url", cfg.NATSURL).Msg("NATS submission bus enabled")
	}

	server := api.NewServer(service, tpl, hub, cfg.InboxDir, cfg.Port)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("API server shutdown error")
	}
	log.Info().Msg("Server stopped")
}

func openStore(cfg config.Config) (store.JobStore, error) {
	if cfg.StoreBackend == "postgres" {
		db, err := store.Connect(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(db, cfg.MigrationsDir); err != nil {
			db.Close()
			return nil, err
		}
		api.SetStorePing(db.Ping)
		return store.NewPgStore(db)
	}
	return store.NewFileStore(filepath.Join(cfg.DataDir, "queue_state.json"))
}
