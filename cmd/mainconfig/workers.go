package mainconfig

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/loan-sales-assistant/internal/app/bootstrap"
	appconfig "github.com/wolfman30/loan-sales-assistant/internal/config"
	"github.com/wolfman30/loan-sales-assistant/internal/statestore"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// DefaultStateFile is the snapshot the chat CLI and the worker CLIs share
// when nothing else is configured.
const DefaultStateFile = "conversation_state.json"

// WorkerFlags are the flags every background worker binary accepts.
func WorkerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "state_file",
			Value:   DefaultStateFile,
			Usage:   "shared state file to poll",
			EnvVars: []string{"STATE_FILE"},
		},
		&cli.StringFlag{
			Name:  "state_dir",
			Usage: "poll every session snapshot under this directory instead of one file",
		},
		&cli.BoolFlag{
			Name:  "sessions",
			Usage: "poll every session in the configured STATE_BACKEND",
		},
		&cli.DurationFlag{
			Name:    "interval",
			Value:   5 * time.Second,
			Usage:   "poll interval",
			EnvVars: []string{"POLL_INTERVAL"},
		},
		&cli.BoolFlag{
			Name:  "watch",
			Usage: "also cycle as soon as the state file changes",
		},
		&cli.StringFlag{
			Name:    "log_file",
			Usage:   "rotate logs into this file as well as stdout",
			EnvVars: []string{"LOG_FILE"},
		},
		&cli.StringFlag{
			Name:    "log_level",
			Value:   "info",
			EnvVars: []string{"LOG_LEVEL"},
		},
	}
}

// WorkerApp is a CLI that runs the named background workers until SIGINT
// or SIGTERM.
func WorkerApp(name, usage string, workers ...string) *cli.App {
	return &cli.App{
		Name:  name,
		Usage: usage,
		Flags: WorkerFlags(),
		Action: func(c *cli.Context) error {
			return RunWorkers(c, workers...)
		},
	}
}

// RunWorkers resolves the state source from the flags and runs one polling
// loop per worker.
func RunWorkers(c *cli.Context, workers ...string) error {
	cfg := appconfig.Load()
	cfg.PollInterval = c.Duration("interval")

	logger, err := logging.NewWithFile(c.String("log_level"), c.String("log_file"))
	if err != nil {
		return cli.Exit("failed to open log file: "+err.Error(), 1)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return cli.Exit("failed to load AWS config: "+err.Error(), 1)
	}

	stateFile := c.String("state_file")
	if dir := c.String("state_dir"); dir != "" {
		cfg.StateBackend, cfg.StateDir = "file", dir
		stateFile = ""
	} else if c.Bool("sessions") {
		stateFile = ""
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}
	stores, err := bootstrap.BuildSessionStores(cfg, awsCfg, redisClient, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	source, file := bootstrap.BuildStateSource(stores, stateFile, logger)
	logger.Info("workers starting", "workers", workers, "state_file", stateFile, "interval", cfg.PollInterval.String())

	g, gctx := errgroup.WithContext(ctx)
	for _, runner := range bootstrap.BuildRunners(cfg, awsCfg, source, nil, logger, workers...) {
		runner := runner
		if c.Bool("watch") {
			if wake := watch(gctx, file, logger); wake != nil {
				runner = runner.WithWake(wake)
			}
		}
		g.Go(func() error {
			runner.Run(gctx)
			return nil
		})
	}
	return g.Wait()
}

func watch(ctx context.Context, file *statestore.FileStore, logger *logging.Logger) <-chan struct{} {
	if file == nil {
		logger.Warn("--watch needs a single state file; polling only")
		return nil
	}
	wake, err := file.Watch(ctx)
	if err != nil {
		logger.Warn("file watch unavailable; polling only", "error", err)
		return nil
	}
	return wake
}
