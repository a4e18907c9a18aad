package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/ble-logger/internal/ble"
	"github.com/chaz8081/ble-logger/internal/capture"
	"github.com/chaz8081/ble-logger/internal/command"
	"github.com/chaz8081/ble-logger/internal/config"
	"github.com/chaz8081/ble-logger/internal/console"
	"github.com/chaz8081/ble-logger/internal/metrics"
	"github.com/chaz8081/ble-logger/internal/session"
	"github.com/chaz8081/ble-logger/internal/sink"
	"github.com/chaz8081/ble-logger/internal/supervisor"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/ble-logger/config.yaml)")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	setupLogging(cfg.LogLevel)
	printBanner(cfg)

	if err := run(cfg); err != nil {
		slog.Error("ble-logger stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	fileSink, err := sink.NewFileSink(cfg.OutputDirectory(), cfg.Output.Extension)
	if err != nil {
		return fmt.Errorf("output: %w", err)
	}

	sess := session.New()
	input := console.NewReader(os.Stdin)

	flusher := capture.NewFlusher(fileSink, cfg.Output.FlushQueue, m)
	rec := capture.NewRecorder(capture.NewBuffer(cfg.Output.BufferCapacity), flusher, sess, m)

	mgr := ble.NewManager(ble.NewTinyGoAdapter(), sess, input, ble.Handlers{
		Notification: rec.Handle,
		Disconnect:   rec.Discard,
	}, ble.ManagerOptions{
		ServiceUUID:    cfg.BLE.ServiceUUID,
		ReadCharUUID:   cfg.BLE.ReadCharacteristic,
		WriteCharUUID:  cfg.BLE.WriteCharacteristic,
		ScanTimeout:    cfg.BLE.ScanTimeout,
		ConnectTimeout: cfg.BLE.ConnectTimeout,
		Warmup:         cfg.BLE.Warmup,
		PollInterval:   cfg.BLE.PollInterval,
		Cooldown:       cfg.BLE.Cooldown,
		Metrics:        m,
	})

	router := command.NewRouter(sess, input, rec, command.Options{
		StopKeyword:   cfg.Command.StopKeyword,
		IdleInterval:  cfg.Command.IdleInterval,
		MaxWriteBytes: cfg.BLE.MaxWriteBytes,
		Metrics:       m,
	})

	sup, err := supervisor.New(supervisor.Options{
		Manager:           mgr,
		Router:            router,
		Recorder:          rec,
		Flusher:           flusher,
		Keys:              sess,
		Metrics:           m,
		MetricsAddr:       cfg.MetricsAddr,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})
	if err != nil {
		return err
	}

	return sup.Run(ctx)
}

// setupLogging installs a text slog handler on stderr so log lines do not
// interleave with the operator prompts on stdout.
func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
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
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	service := cfg.BLE.ServiceUUID
	if service == "" {
		service = "(any)"
	}
	metricsAddr := cfg.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = "disabled"
	}
	fmt.Println("=== ble-logger ===")
	fmt.Printf("  Service: %s\n", service)
	fmt.Printf("  Read:    %s\n", cfg.BLE.ReadCharacteristic)
	fmt.Printf("  Write:   %s\n", cfg.BLE.WriteCharacteristic)
	fmt.Printf("  Output:  %s/*%s (batch %d)\n", cfg.OutputDirectory(), cfg.Output.Extension, cfg.Output.BufferCapacity)
	fmt.Printf("  Stop:    %q\n", cfg.Command.StopKeyword)
	fmt.Printf("  Metrics: %s\n", metricsAddr)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("==================")
}
