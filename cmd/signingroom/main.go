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

	"github.com/jonboulle/clockwork"
	"github.com/scarlin90/signingroom/api"
	"github.com/scarlin90/signingroom/internal/config"
	"github.com/scarlin90/signingroom/internal/license"
	"github.com/scarlin90/signingroom/internal/logger"
	"github.com/scarlin90/signingroom/internal/payment"
	"github.com/scarlin90/signingroom/internal/room"
	"github.com/scarlin90/signingroom/internal/sales"
	"github.com/scarlin90/signingroom/internal/storage"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	envPath := flag.String("env", ".env", "path to a .env file")
	flag.Parse()

	if err := run(*configPath, *envPath); err != nil {
		logger.Log.WithError(err).Error("signingroom stopped")
		os.Exit(1)
	}
}

func run(configPath, envPath string) error {
	if err := config.LoadEnvFile(envPath); err != nil {
		return err
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := logger.InitLogger(cfg.Logger); err != nil {
		return err
	}

	store, err := storage.InitDB(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	licenses := license.NewManager(store, clock)
	counter, err := sales.NewCounter(ctx, store)
	if err != nil {
		return err
	}
	defer counter.Close()

	oracle := payment.FromConfig(cfg.Payment)
	if oracle == nil {
		logger.Log.Warn("no payment backend configured, paid features are disabled")
	}

	hub := room.NewHub(store, licenses, clock)
	restored, err := hub.Bootstrap(ctx)
	if err != nil {
		return err
	}
	logger.Log.WithField("rooms", restored).Info("restored rooms")

	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: api.SetupRouter(api.Deps{
			Server:   cfg.Server,
			Store:    store,
			Hub:      hub,
			Licenses: licenses,
			Sales:    counter,
			Oracle:   oracle,
			Clock:    clock,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("shutting down")
		// Rooms go first so their sockets get a going-away close.
		hub.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
