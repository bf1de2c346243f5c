// Package main implements kiosk-supervisord, the autonomous video-kiosk
// supervisor daemon.
//
// kiosk-supervisord polls a remote livestream provider on a fixed cadence
// and keeps exactly one full-screen display process alive: a live HLS
// player, a holding still-image viewer, or a failure still-image viewer,
// depending on provider health. It is designed for 24/7 unattended
// operation on a single-board computer and exposes Prometheus-format
// health metrics for external scraping.
//
// Usage:
//
//	kiosk-supervisord [options]
//
// Options:
//
//	--config=PATH      Path to an optional YAML configuration file
//	--lock-path=PATH   Path to the single-instance guard lock file
//	--help             Show this help message
//
// Configuration is primarily loaded from KIOSK_*-prefixed environment
// variables; the YAML file, if given, is a lower-precedence layer
// underneath them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/picommcapp/kiosk-supervisor/internal/config"
	"github.com/picommcapp/kiosk-supervisor/internal/display"
	"github.com/picommcapp/kiosk-supervisor/internal/healthtracker"
	"github.com/picommcapp/kiosk-supervisor/internal/lock"
	"github.com/picommcapp/kiosk-supervisor/internal/logging"
	"github.com/picommcapp/kiosk-supervisor/internal/metrics"
	"github.com/picommcapp/kiosk-supervisor/internal/probe"
	"github.com/picommcapp/kiosk-supervisor/internal/provider"
	"github.com/picommcapp/kiosk-supervisor/internal/supervisor"
	"github.com/picommcapp/kiosk-supervisor/internal/tick"
)

// Exit codes, one per configuration-field family so a service manager can
// tell what kind of misconfiguration refused startup. Keyed by the
// leading segment of a *config.ValidationError's Field.
const (
	exitOK              = 0
	exitGenericError    = 1
	exitInvalidProvider = 2
	exitInvalidDisplay  = 3
	exitInvalidPoll     = 4
	exitInvalidScrape   = 5
	exitInvalidProbes   = 6
	exitInvalidPlayer   = 7
	exitLockHeld        = 8
)

var (
	configPath = flag.String("config", "", "Path to an optional YAML configuration file")
	lockPath   = flag.String("lock-path", "/run/kiosk-supervisord.lock", "Path to the single-instance guard lock file")
	showHelp   = flag.Bool("help", false, "Show help message")
)

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(exitOK)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kiosk-supervisord: configuration error: %v\n", err)
		os.Exit(exitCodeForValidationError(err))
	}

	logger, closeLog := logging.New(cfg.Log)
	defer func() { _ = closeLog() }()

	fl, err := lock.NewFileLock(*lockPath)
	if err != nil {
		logger.Error("failed to construct single-instance lock", "err", err)
		os.Exit(exitGenericError)
	}
	if err := fl.Acquire(5 * time.Second); err != nil {
		logger.Error("another kiosk-supervisord instance holds the lock, refusing to start", "lock_path", *lockPath, "err", err)
		os.Exit(exitLockHeld)
	}
	defer func() { _ = fl.Close() }()

	collector := metrics.New()

	client := provider.NewClient(cfg.Provider, cfg.Poll.RequestTimeout)
	healthCfg := healthtracker.Config{
		FailureThreshold:   cfg.Poll.FailureThreshold,
		StabilityThreshold: cfg.Poll.StabilityThreshold,
		PollInterval:       cfg.Poll.Interval,
		MinRetry:           cfg.Poll.MinRetry,
		MaxRetry:           cfg.Poll.MaxRetry,
		BackoffEnabled:     cfg.Poll.BackoffEnabled,
	}
	tracker := healthtracker.New(healthCfg)
	controller := display.NewController(cfg.Player, cfg.Display, logger)

	tickTask := tick.New(client, tracker, controller, collector, cfg.Poll, logger)

	sup := supervisor.New(supervisor.Config{
		Name:   "kiosk-supervisord",
		Logger: logger,
	})

	if err := sup.Add(tickTask); err != nil {
		logger.Error("failed to register supervisor tick", "err", err)
		os.Exit(exitGenericError)
	}

	if cfg.Probes.System.Enabled {
		systemProbe := probe.NewSystem(cfg.Probes.System, nil, collector, logger)
		mustAdd(sup, logger, supervisor.WrapPanicSafe(systemProbe))
	}
	if cfg.Probes.Network.Enabled {
		networkProbe := probe.NewNetwork(cfg.Probes.Network, collector, logger)
		mustAdd(sup, logger, supervisor.WrapPanicSafe(networkProbe))
	}
	if cfg.Probes.Stream.Enabled {
		streamProbe := probe.NewStream(cfg.Probes.Stream, tickTask.CurrentURL, collector, logger)
		mustAdd(sup, logger, supervisor.WrapPanicSafe(streamProbe))
	}

	scrapeSvc := metrics.NewScrapeService(collector, cfg.Scrape.BindHost, cfg.Scrape.BindPort, cfg.Scrape.Path)
	mustAdd(sup, logger, scrapeSvc)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	logger.Info("kiosk-supervisord starting", "services", sup.ServiceCount(), "scrape_addr", fmt.Sprintf("%s:%d", cfg.Scrape.BindHost, cfg.Scrape.BindPort))

	runErr := sup.Run(ctx)

	// The display child, if any, must be torn down with the full graceful
	// termination sequence before exit. The supervision tree stopping the
	// tick task does not itself kill the display child.
	controller.Shutdown()

	if runErr != nil && runErr != context.Canceled {
		logger.Error("supervisor exited with error", "err", runErr)
		os.Exit(exitGenericError)
	}

	logger.Info("kiosk-supervisord shutdown complete")
	os.Exit(exitOK)
}

func mustAdd(sup *supervisor.Supervisor, logger interface {
	Error(msg string, args ...any)
}, svc supervisor.Service) {
	if err := sup.Add(svc); err != nil {
		logger.Error("failed to register service", "name", svc.Name(), "err", err)
		os.Exit(exitGenericError)
	}
}

func loadConfig(yamlPath string) (*config.Config, error) {
	var opts []config.Option
	if yamlPath != "" {
		opts = append(opts, config.WithYAMLFile(yamlPath))
	}

	kc, err := config.NewKoanfConfig(opts...)
	if err != nil {
		return nil, err
	}
	return kc.Load()
}

// exitCodeForValidationError maps a *config.ValidationError's field
// prefix onto its distinct non-zero exit code.
func exitCodeForValidationError(err error) int {
	var verr *config.ValidationError
	if !errors.As(err, &verr) {
		return exitGenericError
	}

	switch fieldFamily(verr.Field) {
	case "provider":
		return exitInvalidProvider
	case "display":
		return exitInvalidDisplay
	case "poll":
		return exitInvalidPoll
	case "scrape":
		return exitInvalidScrape
	case "probes":
		return exitInvalidProbes
	case "player":
		return exitInvalidPlayer
	default:
		return exitGenericError
	}
}

func fieldFamily(field string) string {
	for i, r := range field {
		if r == '.' {
			return field[:i]
		}
	}
	return field
}

func printUsage() {
	fmt.Println("kiosk-supervisord - autonomous video-kiosk supervisor")
	fmt.Println()
	fmt.Println("Usage: kiosk-supervisord [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Configuration is loaded from KIOSK_*-prefixed environment variables,")
	fmt.Println("optionally layered underneath an env-overridden --config YAML file.")
	fmt.Println()
	fmt.Println("Signals:")
	fmt.Println("  SIGINT, SIGTERM  Graceful shutdown")
}
