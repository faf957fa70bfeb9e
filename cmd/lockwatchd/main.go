// Lockwatchd watches cloud-managed locks for blocking violations and
// escalates repeat offenders through a three-tier strike scheme.
//
// The daemon polls lock state on a cron schedule, records strikes in a
// SQLite ledger, notifies members and supervisors by mail, and on a
// third strike revokes the card and removes the member from the
// spreadsheet directory.
//
// Usage:
//
//	# Start the daemon with the default config file
//	lockwatchd
//
//	# Run a single reconciliation cycle and exit
//	lockwatchd --once
//
//	# Use an explicit config file
//	lockwatchd --config /etc/lockwatchd/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lockwatchd/internal/config"
	"github.com/fyrsmithlabs/lockwatchd/internal/directory"
	"github.com/fyrsmithlabs/lockwatchd/internal/ledger"
	"github.com/fyrsmithlabs/lockwatchd/internal/lockcloud"
	"github.com/fyrsmithlabs/lockwatchd/internal/logging"
	"github.com/fyrsmithlabs/lockwatchd/internal/notify"
	"github.com/fyrsmithlabs/lockwatchd/internal/orchestrator"
	"github.com/fyrsmithlabs/lockwatchd/internal/telemetry"
	"github.com/fyrsmithlabs/lockwatchd/pkg/server"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	once := flag.Bool("once", false, "run one reconciliation cycle and exit")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  lockwatchd           Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  lockwatchd --once    Run a single cycle and exit\n")
			fmt.Fprintf(os.Stderr, "  lockwatchd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath, *once); err != nil {
		log.Fatalf("lockwatchd error: %v", err)
	}

	log.Println("Shutdown complete")
}

func printVersion() {
	fmt.Printf("lockwatchd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run initializes everything and blocks until the context is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes the logger
//  3. Opens the strike ledger and adapters (lock cloud, directory, mail)
//  4. Wires the orchestrator
//  5. Runs once, or schedules cron jobs and serves HTTP
func run(ctx context.Context, configPath string, once bool) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting lockwatchd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Strings("units", cfg.Monitor.Units),
		zap.Bool("once", once))

	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Telemetry.Enabled
	if telCfg.Enabled {
		telCfg.Endpoint = cfg.Telemetry.Endpoint
		telCfg.Protocol = cfg.Telemetry.Protocol
		telCfg.Insecure = cfg.Telemetry.Insecure
		telCfg.SamplingRate = cfg.Telemetry.SamplingRate
		telCfg.MetricsEnabled = cfg.Telemetry.MetricsEnabled
		telCfg.ExportInterval = cfg.Telemetry.ExportInterval.Duration()
		telCfg.ServiceVersion = version
	}
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	orch, err := orchestrator.New(orchestrator.Config{
		Units:              cfg.Monitor.Units,
		ViolationThreshold: cfg.Monitor.ViolationThreshold.Duration(),
		CooldownWindow:     cfg.Monitor.CooldownWindow.Duration(),
		DecayWindow:        cfg.Monitor.DecayWindow.Duration(),
	}, deps.locks, deps.dir, deps.notifier, deps.led, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	if once {
		report, err := orch.RunCycle(ctx)
		if err != nil {
			return err
		}
		logger.Info("Single cycle finished",
			zap.String("cycle_id", report.CycleID),
			zap.Int("violations_found", report.ViolationsFound),
			zap.Int("violations_processed", report.ViolationsProcessed),
			zap.Int("errors", len(report.Errors)))
		return nil
	}

	// Cron jobs never overlap themselves: a slow cycle delays the next
	// run instead of doubling up.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.Monitor.CheckSchedule, func() {
		if _, err := orch.RunCycle(context.Background()); err != nil {
			logger.Error("scheduled cycle failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule lock check: %w", err)
	}
	if _, err := c.AddFunc(cfg.Monitor.DecaySchedule, func() {
		if _, err := orch.RunDecaySweep(context.Background()); err != nil {
			logger.Error("scheduled decay sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule decay sweep: %w", err)
	}
	c.Start()
	defer c.Stop()

	logger.Info("Scheduler started",
		zap.String("check_schedule", cfg.Monitor.CheckSchedule),
		zap.String("decay_schedule", cfg.Monitor.DecaySchedule))

	srv := server.New(server.Config{
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
	}, deps.led, orch, logger)

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"))

	if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// dependencies holds the ledger and external adapters.
type dependencies struct {
	led      ledger.Service
	locks    *lockcloud.Client
	dir      *directory.Directory
	notifier *notify.Notifier
}

// Close releases held resources.
func (d *dependencies) Close() {
	if d.led != nil {
		_ = d.led.Close()
	}
}

func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	led, err := ledger.New(&ledger.Config{Path: cfg.Database.Path}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open strike ledger: %w", err)
	}
	logger.Info("Strike ledger opened", zap.String("path", cfg.Database.Path))

	locks, err := lockcloud.NewClient(lockcloud.Config{
		BaseURL:            cfg.LockCloud.BaseURL,
		Email:              cfg.LockCloud.Email,
		Password:           cfg.LockCloud.Password.Value(),
		WhitelistLocations: cfg.LockCloud.WhitelistLocations,
	}, logger)
	if err != nil {
		led.Close()
		return nil, fmt.Errorf("failed to create lock service client: %w", err)
	}

	dir, err := directory.New(cfg.Directory, logger)
	if err != nil {
		led.Close()
		return nil, fmt.Errorf("failed to open member directory: %w", err)
	}
	logger.Info("Member directory validated",
		zap.String("path", cfg.Directory.Path),
		zap.Strings("worksheets", cfg.Directory.Worksheets))

	notifier, err := notify.NewNotifier(cfg.Notify, nil, logger)
	if err != nil {
		led.Close()
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}
	if cfg.Notify.TestMode {
		logger.Warn("Notifier running in test mode",
			zap.String("redirect_to", cfg.Notify.TestRecipient))
	}

	return &dependencies{
		led:      led,
		locks:    locks,
		dir:      dir,
		notifier: notifier,
	}, nil
}
