// Command lss-sim simulates a CAN segment with LSS capable nodes and an
// LSS master.
//
// The nodes, their LSS addresses and factory settings are read from a YAML
// configuration file. Each node keeps its LSS configuration and its
// parameters in a non-volatile medium, a file per node when a storage
// directory is configured.
//
// Usage:
//
//	lss-sim [flags]
//
// Flags:
//
//	-config string        Configuration file path (default "lss-sim.yaml")
//	-log-level string     Log level: debug, info, warn, error
//	-protocol-log string  Capture frames and state changes to a file
//	-storage-dir string   Directory for node media (overrides the config)
//	-interactive          Enable interactive command mode (default true)
//	-assign               Assign node ids to unconfigured nodes at start
//	-reset                Clear node media and assignments before starting
//
// Examples:
//
//	# Start the shell with the example configuration
//	lss-sim -config cmd/lss-sim/lss-sim.yaml
//
//	# Assign node ids, capture the traffic and keep running
//	lss-sim -interactive=false -assign -protocol-log sim.clog
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

	"github.com/martinwag/CANopenNode/cmd/lss-sim/interactive"
	"github.com/martinwag/CANopenNode/cmd/lss-sim/sim"
	"github.com/martinwag/CANopenNode/internal/config"
	canlog "github.com/martinwag/CANopenNode/pkg/log"
	"github.com/martinwag/CANopenNode/pkg/persistence"
)

// Flags holds the command line options.
type Flags struct {
	ConfigFile  string
	LogLevel    string
	ProtocolLog string
	StorageDir  string
	Interactive bool
	Assign      bool
	Reset       bool
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "lss-sim.yaml", "Configuration file path")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides the config)")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Capture frames and state changes to a file (overrides the config)")
	flag.StringVar(&flags.StorageDir, "storage-dir", "", "Directory for node media (overrides the config)")
	flag.BoolVar(&flags.Interactive, "interactive", true, "Enable interactive command mode")
	flag.BoolVar(&flags.Assign, "assign", false, "Assign node ids to unconfigured nodes at start")
	flag.BoolVar(&flags.Reset, "reset", false, "Clear node media and assignments before starting")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)
	setupLogging(cfg.Log.Level)

	log.Println("LSS Simulator")
	log.Println("=============")
	log.Printf("Config: %s (%s)", flags.ConfigFile, cfg.Summary())

	if flags.Reset {
		resetState(cfg)
	}

	protocol, closeProtocol, err := setupProtocolLog(cfg)
	if err != nil {
		log.Fatalf("Failed to create protocol logger: %v", err)
	}
	defer closeProtocol()

	s, err := sim.New(cfg, slog.Default(), protocol)
	if err != nil {
		log.Fatalf("Failed to create simulator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		log.Fatalf("Failed to start simulator: %v", err)
	}

	if flags.Assign {
		done, err := s.Assign(ctx)
		if err != nil {
			log.Printf("Warning: assignment incomplete: %v", err)
		}
		log.Printf("Assigned %d node id(s)", len(done))
	}

	if flags.Interactive {
		sh, err := interactive.New(s)
		if err != nil {
			log.Fatalf("Failed to create interactive shell: %v", err)
		}
		// Redirect log output through readline to avoid interfering with input
		log.SetOutput(sh.Stdout())
		go sh.Run(ctx, cancel)
	}

	// Wait for shutdown signal or context cancellation
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	cancel()
	if err := s.Close(); err != nil {
		log.Printf("Error closing simulator: %v", err)
	}
	log.Println("Goodbye!")
}

func applyFlags(cfg *config.Config) {
	if flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
	}
	if flags.ProtocolLog != "" {
		cfg.Log.ProtocolFile = flags.ProtocolLog
	}
	if flags.StorageDir != "" {
		cfg.Storage.Dir = flags.StorageDir
	}
}

// setupLogging routes slog through the standard logger, so redirecting
// the standard logger also moves component logs.
func setupLogging(level string) {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	switch level {
	case "debug":
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
		slog.SetLogLoggerLevel(slog.LevelDebug)
	case "warn":
		log.SetFlags(log.Ltime)
		slog.SetLogLoggerLevel(slog.LevelWarn)
	case "error":
		log.SetFlags(log.Ltime)
		slog.SetLogLoggerLevel(slog.LevelError)
	default:
		slog.SetLogLoggerLevel(slog.LevelInfo)
	}
}

// setupProtocolLog opens the capture file. At debug level protocol events
// are also written to the log.
func setupProtocolLog(cfg *config.Config) (canlog.Logger, func(), error) {
	var loggers []canlog.Logger
	closeFn := func() {}

	if cfg.Log.ProtocolFile != "" {
		fl, err := canlog.NewFileLogger(cfg.Log.ProtocolFile)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Protocol logging to: %s", cfg.Log.ProtocolFile)
		loggers = append(loggers, fl)
		closeFn = func() {
			if n := fl.Dropped(); n > 0 {
				log.Printf("Warning: %d protocol events were not written", n)
			}
			fl.Close()
		}
	}
	if cfg.Log.Level == "debug" {
		loggers = append(loggers, canlog.NewSlogAdapter(slog.Default()))
	}

	if len(loggers) == 0 {
		return nil, closeFn, nil
	}
	return canlog.NewMultiLogger(loggers...), closeFn, nil
}

func resetState(cfg *config.Config) {
	log.Println("Resetting persisted state...")
	if err := sim.ClearMedia(cfg); err != nil {
		log.Printf("Warning: Failed to clear node media: %v", err)
	}
	if cfg.Master.AssignmentsFile != "" {
		if err := persistence.NewAssignmentStore(cfg.Master.AssignmentsFile).Clear(); err != nil {
			log.Printf("Warning: Failed to clear assignments: %v", err)
		}
	}
}
