package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/zonelog/internal/bus"
	"github.com/srg/zonelog/internal/profile"
	"github.com/srg/zonelog/internal/session"
	"github.com/srg/zonelog/internal/sink"
	"github.com/srg/zonelog/internal/supervisor"
	"github.com/srg/zonelog/internal/trace"
	"github.com/srg/zonelog/internal/transport/goble"
	"github.com/srg/zonelog/pkg/config"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Monitor both devices and log training metrics",
	Long: `Discovers the treadmill and the heart-rate strap, streams their metrics,
prints a live summary, and appends everything to a session CSV file.

Runs until interrupted (Ctrl+C) or until --duration elapses. Either device
may come and go; the logger keeps serving whichever one is present.

Examples:
  # Log with defaults to the current directory
  zonelog run

  # One-hour session with a config file
  zonelog run --config zonelog.yaml --duration 1h --csv-dir ~/training`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runConfigPath string
	runCSVDir     string
	runDuration   time.Duration
)

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Path to YAML config file")
	runCmd.Flags().StringVar(&runCSVDir, "csv-dir", "", "Directory for session CSV files (overrides config)")
	runCmd.Flags().DurationVar(&runDuration, "duration", 0, "Stop after this long (0 = run until interrupted)")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}
	if runCSVDir != "" {
		cfg.CSVDir = runCSVDir
	}

	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runDuration)
		defer cancel()
	}

	return runMonitor(ctx, cfg, logger)
}

// runMonitor wires the pipeline and blocks until ctx is done.
func runMonitor(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	metricBus := bus.New(cfg.BusCapacity)
	tap := trace.NewFrameTap(cfg.FrameTapSize)

	csvWriter, err := sink.NewCSVWriter(cfg.CSVDir, time.Now(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := csvWriter.Close(); err != nil {
			logger.WithField("error", err).Warn("Failed to close CSV log")
		}
	}()

	printer := sink.NewConsolePrinter(os.Stdout, sink.Zone2{
		MinBPM: cfg.Zone2.MinBPM,
		MaxBPM: cfg.Zone2.MaxBPM,
	}, cfg.PrintInterval)

	sup := supervisor.New(supervisor.Config{
		Transport: goble.New(logger),
		Bus:       metricBus,
		Logger:    logger,
		Tap:       tap,
		Families: []supervisor.ProfileFactory{
			func() profile.Profile { return profile.NewTreadmill(cfg.Treadmill.PollInterval) },
			func() profile.Profile { return profile.NewHeartRate(cfg.HeartRate.BatteryInterval) },
		},
		SearchingInterval: cfg.Discovery.SearchingInterval,
		ConnectTimeout:    cfg.Discovery.ConnectTimeout,
		Backoff: session.BackoffConfig{
			InitialInterval: cfg.Reconnect.InitialInterval,
			MaxInterval:     cfg.Reconnect.MaxInterval,
			Multiplier:      cfg.Reconnect.Multiplier,
			Jitter:          cfg.Reconnect.Jitter,
		},
	})

	logger.Info("Scanning for devices...")

	var wg sync.WaitGroup
	printerDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		printer.Run(printerDone)
	}()

	// Consume the ordered metric stream. The loop ends when the
	// supervisor closes the bus after all sessions stop.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(printerDone)
		for ev := range metricBus.Events() {
			printer.Observe(ev)
			if err := csvWriter.Append(ev); err != nil {
				logger.WithField("error", err).Error("Failed to append CSV row")
			}
		}
	}()

	err = sup.Run(ctx)
	wg.Wait()

	tap.Dump(logger)
	logger.WithFields(logrus.Fields{
		"events": metricBus.Published(),
		"csv":    csvWriter.Path(),
	}).Info("Session finished")

	// A deadline expiry is a completed --duration run, not a failure.
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
