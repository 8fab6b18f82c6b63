package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bridgeguard/api"
	"bridgeguard/config"
	"bridgeguard/core/appbootstrap"
	"bridgeguard/core/store"
	"bridgeguard/core/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", os.Getenv("BG_CONFIG"), "path to the yaml config file")
	flag.Parse()

	logger := utils.NewLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}

	db, err := store.NewDB(cfg, logger)
	if err != nil {
		logger.Errorf("store: open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		logger.Errorf("store: migrations: %v", err)
		os.Exit(1)
	}

	runtime, err := appbootstrap.ComposeRuntime(cfg, db, logger)
	if err != nil {
		logger.Errorf("bootstrap: %v", err)
		os.Exit(1)
	}

	for _, w := range runtime.Workers {
		w.Start()
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(runtime.ServerDeps).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.ListenAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Infof("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http server: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("http shutdown: %v", err)
	}
	for _, w := range runtime.Workers {
		w.Stop()
	}
	logger.Infof("stopped")
}
