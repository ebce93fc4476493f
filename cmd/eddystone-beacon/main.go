package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/eddystone-beacon/internal/beacon"
	"github.com/chaz8081/eddystone-beacon/internal/ble"
	"github.com/chaz8081/eddystone-beacon/internal/button"
	"github.com/chaz8081/eddystone-beacon/internal/config"
	"github.com/chaz8081/eddystone-beacon/internal/eventloop"
	"github.com/chaz8081/eddystone-beacon/internal/logging"
	"github.com/chaz8081/eddystone-beacon/internal/storage"
	"github.com/chaz8081/eddystone-beacon/internal/telemetry"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/eddystone-beacon/config.yaml)")
	writeConfig := flag.Bool("write-config", false, "write the default config file and exit")
	flag.Parse()

	if *writeConfig {
		path, err := config.WriteDefault()
		if err != nil {
			fatal("write config", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Default config written to %s\n", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("config", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("config validation", err)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	slog.SetDefault(logging.New(level, cfg.LogFormat, os.Stderr))

	printBanner(cfg)

	if err := run(cfg); err != nil {
		fatal("beacon", err)
	}
	slog.Info("Goodbye!")
	// Exit directly to avoid gohook's C cleanup crash.
	// The OS reclaims the event hook on process exit.
	os.Exit(0)
}

func run(cfg *config.Config) error {
	defaults, err := cfg.SlotDefaults()
	if err != nil {
		return err
	}

	radio, err := ble.NewPeripheral(cfg.RadioLimits())
	if err != nil {
		return err
	}

	loop := eventloop.New(nil)
	sensors := telemetry.NewSource(cfg.Telemetry.SensorKey, cfg.Telemetry.BatteryMV)

	svc, err := beacon.New(loop, radio, beacon.Options{
		Defaults:          defaults,
		Levels:            cfg.PowerLevels(),
		UnlockKey:         cfg.Key(),
		RemainConnectable: cfg.RemainConnectable,
		DeviceName:        cfg.DeviceName,
		ConfigInterval:    cfg.ConfigInterval(),
		ConfigTimeout:     cfg.ConfigTimeout(),
		Telemetry:         sensors,
		Params:            storage.NewFileStore(cfg.ParamsPath),
	})
	if err != nil {
		return err
	}

	// The loop is not running yet, so Start runs on this goroutine.
	if err := svc.Start(); err != nil {
		return err
	}

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	listener := button.NewListener(cfg.Button.Keys, loop, svc.ToggleBeacon)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := loop.Run(loopCtx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return listener.Start(gctx)
	})
	g.Go(func() error {
		return sensors.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down...")
		err := loop.Call(context.Background(), svc.Shutdown)
		stopLoop()
		if errors.Is(err, eventloop.ErrStopped) {
			return nil
		}
		return err
	})

	slog.Info("Ready! Press " + strings.Join(cfg.Button.Keys, "+") + " to toggle the beacon. Ctrl+C to quit.")
	return g.Wait()
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Info("Config loaded", "path", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	slog.Info("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== eddystone-beacon ===")
	fmt.Printf("  Name:    %s\n", cfg.DeviceName)
	fmt.Printf("  Slots:   %d\n", len(cfg.Slots))
	for i, s := range cfg.Slots {
		fmt.Printf("    [%d] %-3s every %d ms at %d dBm\n", i, strings.ToUpper(s.Type), s.IntervalMS, s.RadioTxPower)
	}
	fmt.Printf("  Config:  %d ms for %d s\n", cfg.ConfigMode.IntervalMS, cfg.ConfigMode.TimeoutS)
	fmt.Printf("  Button:  %s\n", strings.Join(cfg.Button.Keys, "+"))
	fmt.Printf("  Params:  %s\n", cfg.ParamsPath)
	fmt.Printf("  Log:     %s (%s)\n", cfg.LogLevel, cfg.LogFormat)
	fmt.Println("========================")
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
