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

	"github.com/x402kamiyo/x402resolve/observability/logging"
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	env := cfg.Environment
	logger := logging.Setup("escrow-gateway", env)
	if err != nil {
		logger.Error("load configuration", "error", err)
		os.Exit(1)
	}

	journal, err := OpenJournal(cfg.JournalPath, logger)
	if err != nil {
		logger.Error("open journal", "error", err)
		os.Exit(1)
	}
	defer journal.Close()

	server, err := NewServer(cfg, logger, journal)
	if err != nil {
		logger.Error("construct server", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("escrow gateway listening", "addr", cfg.ListenAddress)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "error", err)
			os.Exit(1)
		}
	}
}
