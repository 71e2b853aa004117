package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"peanutpal/internal/api"
	"peanutpal/internal/config"
	"peanutpal/internal/events"
	"peanutpal/internal/keys"
	"peanutpal/internal/mint"
	"peanutpal/internal/relay"
	"peanutpal/internal/storage/walletbolt"
	"peanutpal/internal/wallet"
)

const maintenanceInterval = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("load config")
	}

	log := newLogger(cfg.Debug)
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := walletbolt.Open(cfg.DBPath())
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath()).Msg("open wallet db")
	}
	defer store.Close()

	km := keys.NewManager(store)
	var identity keys.Identity
	if cfg.RestorePhrase != "" {
		identity, err = km.CreateFromPhrase(cfg.RestorePhrase)
	} else {
		identity, err = km.GetOrCreate()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("identity")
	}
	log.Info().Str("public_key", identity.Public).Msg("identity ready")

	settings := wallet.NewSettings(store)
	router := mint.NewRouter(identity.Seed, mint.HTTPFactory(store))
	bus := events.NewBus()

	svc := wallet.NewService(wallet.ServiceConfig{
		Logger:   log,
		Ledger:   store,
		Dedup:    store,
		Router:   router,
		Settings: settings,
		Bus:      bus,
	})

	relays, err := settings.Relays()
	if err != nil {
		log.Fatal().Err(err).Msg("relay list")
	}
	messenger, err := relay.NewMessenger(relays, identity.Secret, log)
	if err != nil {
		log.Fatal().Err(err).Msg("relay messenger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	intake := svc.StartIntake(ctx, messenger, identity.Public)
	defer intake.Cancel()

	go func() {
		svc.Maintenance()
		t := time.NewTicker(maintenanceInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				svc.Maintenance()
			}
		}
	}()

	srv := &http.Server{
		Addr:    cfg.Bind,
		Handler: api.NewServer(log, svc, identity, messenger, ctx).Router(),
	}
	go func() {
		log.Info().Str("addr", cfg.Bind).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("api server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	var out = zerolog.New(os.Stdout)
	if debug {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return out.Level(level).With().Timestamp().Str("service", "peanutpald").Logger()
}
