// Command braindumpd runs the calendar sync and scheduling daemon: it
// serves the webhook receiver and JSON API, keeps watch channels renewed,
// and applies provider deltas to the local task store.
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

	"github.com/nhle/brain-dumper/internal/calsync"
	"github.com/nhle/brain-dumper/internal/credential"
	"github.com/nhle/brain-dumper/internal/log"
	"github.com/nhle/brain-dumper/internal/model"
	"github.com/nhle/brain-dumper/internal/proposal"
	"github.com/nhle/brain-dumper/internal/provider"
	"github.com/nhle/brain-dumper/internal/store"
	"github.com/nhle/brain-dumper/internal/watch"
	"github.com/nhle/brain-dumper/internal/web"
)

const shutdownTimeout = 10 * time.Second

type flagConfig struct {
	configPath string
	listen     string
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		log.SetLevel(log.LevelDebug)
	}

	cfg, err := model.LoadConfig(flags.configPath)
	if err != nil {
		log.Error("loading config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		cfg.Listen = flags.listen
	}

	log.Info("braindumpd starting",
		"listen", cfg.Listen,
		"database", cfg.DatabasePath,
		"timezone", cfg.Scheduling.Timezone,
		"horizon_days", cfg.Scheduling.HorizonDays,
	)

	st, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		log.Error("opening store", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer st.Close()

	token, err := credential.Get(credential.ProviderTokenKey(cfg.DefaultUserID))
	if err != nil {
		log.Error("loading calendar API token from keyring", err,
			"user_id", cfg.DefaultUserID)
		os.Exit(1)
	}

	api := provider.NewClient(cfg.Provider.BaseURL, token,
		time.Duration(cfg.Provider.TimeoutSec)*time.Second)

	loc := time.Local
	if tz := cfg.Scheduling.Timezone; tz != "" && tz != "Local" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			log.Error("loading configured timezone", err, "timezone", tz)
			os.Exit(1)
		}
	}

	watches := watch.NewManager(st, api, cfg.Provider.WebhookURL)
	renewer := watch.NewRenewer(watches, st,
		time.Duration(cfg.RenewalThresholdHours)*time.Hour)
	if err := renewer.Start(cfg.RenewalCron); err != nil {
		log.Error("starting renewal schedule", err, "cron", cfg.RenewalCron)
		os.Exit(1)
	}
	defer renewer.Stop()

	processor := calsync.NewProcessor(st, api, renewer, loc)

	coordinator, err := proposal.NewCoordinator(st, api, cfg.Scheduling)
	if err != nil {
		log.Error("creating schedule coordinator", err)
		os.Exit(1)
	}

	server := web.NewServer(cfg, st, processor, coordinator, watches)
	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.Handler(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", "http://"+cfg.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", err)
			os.Exit(1)
		}
	}

	log.Info("braindumpd exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", model.DefaultConfigPath(), "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
