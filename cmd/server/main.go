// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/jamspot/jamspot/internal/app/room"
	"github.com/jamspot/jamspot/internal/infra/config"
	"github.com/jamspot/jamspot/internal/infra/logger"
	"github.com/jamspot/jamspot/internal/infra/persistence"
	"github.com/jamspot/jamspot/internal/infra/providergw"
	"github.com/jamspot/jamspot/internal/transport/httpapi"
	"github.com/jamspot/jamspot/internal/transport/wsedge"
)

var (
	app        = kingpin.New("jamspot-server", "jamspot shared listening room server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	zlog.Info().Str("path", *configPath).Msg("loading config")
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}

	if err := run(cfg); err != nil {
		zlog.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := persistence.New(cfg.Server.DataDir)
	if err != nil {
		return fmt.Errorf("opening persistence store: %w", err)
	}

	gw := providergw.New(providergw.Config{
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		RedirectURL:  cfg.Provider.RedirectURL,
		Market:       cfg.Provider.Market,
	})

	mgr := room.NewManager(room.Config{
		PollInterval:        time.Duration(cfg.Room.PollIntervalMs) * time.Millisecond,
		HeartbeatTimeout:    time.Duration(cfg.Room.HeartbeatTimeoutMs) * time.Millisecond,
		AllowList:           cfg.Room.AllowList,
		FallbackPlaylistURI: cfg.Room.FallbackPlaylistURI,
		Debug:               cfg.Room.Debug,
	}, gw, store)

	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("loading persisted room state: %w", err)
	}

	mgr.SetLoopContext(ctx)
	mgr.StartLoop()
	defer mgr.StopLoop()

	go mgr.RunCleanupLoop(ctx)
	go mgr.RunCredentialRefreshLoop(ctx)

	router := chi.NewRouter()
	router.Mount("/", httpapi.New(mgr, gw, cfg.Airhorns, []byte(cfg.Server.JWTSecret), cfg.Server.FrontendRedirectURL, cfg.Server.RateLimitRPS))
	router.Handle("/ws", wsedge.New(mgr))

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		zlog.Info().Msg("received shutdown signal")
	case err := <-serverErrCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Millisecond
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("failed to shut down server cleanly")
	}

	zlog.Info().Msg("server stopped")
	return nil
}
