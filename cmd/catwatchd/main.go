// catwatchd is the catalytic converter monitoring daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/catwatch/internal/config"
	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/logging"
	"github.com/xtxerr/catwatch/internal/server"
	"github.com/xtxerr/catwatch/internal/source"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	profile := flag.String("profile", "", "device profile: generic, bike, car (overrides config)")
	kind := flag.String("source", "", "sample source: synthetic, serial, stdin, mqtt, snmp (overrides config)")
	serialPort := flag.String("serial-port", "", "serial device (overrides config)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "log as JSON")
	listPorts := flag.Bool("list-ports", false, "list serial ports and exit")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("catwatchd", Version)
		return
	}

	if *listPorts {
		ports, err := source.SerialPorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list ports: %v\n", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	// Load config
	usingDefaults := false
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg = config.DefaultConfig()
			usingDefaults = true
		} else {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *listen != "" {
		cfg.HTTP.Listen = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *profile != "" {
		cfg.Profile = *profile
	}
	if *kind != "" {
		cfg.Source.Kind = *kind
	}
	if *serialPort != "" {
		cfg.Source.Serial.Port = *serialPort
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logJSON {
		cfg.Logging.JSON = true
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON)
	log := logging.Component("main")

	if usingDefaults {
		log.Info("no config file found, using defaults", "path", *cfgPath)
	}

	// Overrides can break an otherwise valid file.
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log.Info("catwatchd starting", "version", Version, "profile", cfg.Profile, "source", cfg.Source.Kind)

	srv, err := server.New(&server.Config{Config: cfg})
	if err != nil {
		log.Error("create server", "error", err)
		os.Exit(1)
	}

	// =========================================================================
	// Signal Handling and Graceful Shutdown
	// =========================================================================

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Error("server stopped", "error", err)
		stop()
		os.Exit(1)
	}
}
