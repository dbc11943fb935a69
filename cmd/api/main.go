package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bookcatalog/internal/app"
	"bookcatalog/internal/config"
	"bookcatalog/internal/server"
	"bookcatalog/internal/util"
	"bookcatalog/pkg/outbox"
	"bookcatalog/pkg/search"
	"bookcatalog/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	index, err := search.NewElastic(search.ElasticConfig{
		Addresses: cfg.ElasticAddresses,
		CloudID:   cfg.ElasticCloudID,
		Username:  cfg.ElasticUsername,
		Password:  cfg.ElasticPassword,
		Index:     cfg.ElasticIndex,
	})
	if err != nil {
		log.Fatalf("failed to init search index: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := index.EnsureIndex(ctx); err != nil {
		log.Fatalf("failed to ensure search index: %v", err)
	}

	ob, err := outbox.NewRedisOutbox(outbox.Config{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.OutboxStream,
		Group:      cfg.OutboxGroup,
		MaxRetries: cfg.OutboxMaxRetries,
	})
	if err != nil {
		log.Fatalf("failed to init outbox: %v", err)
	}

	appCore, err := app.New(app.Config{Store: dataStore, Index: index, Outbox: ob})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{App: appCore, AllowedOrigin: cfg.ClientOrigin})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	ob.Start(ctx, cfg.OutboxConcurrency, appCore.ReplayIndexIntent)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("api server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
