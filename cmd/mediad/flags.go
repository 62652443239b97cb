package main

import (
	"flag"
	"fmt"
	"os"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

type cliConfig struct {
	configPath  string
	logLevel    string
	localCPU    string
	runtimeDir  string
	tcpPort     int
	metricsAddr string
	showVersion bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("mediad", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.configPath, "config", "", "Path to a YAML configuration file (optional; defaults are used if absent)")
	fs.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config file)")
	fs.StringVar(&cfg.localCPU, "local-cpu", "", "Local CPU identity for md:<cpu_name> sockets (overrides config file)")
	fs.StringVar(&cfg.runtimeDir, "runtime-dir", "", "Directory for AF_UNIX socket files (overrides config file)")
	fs.IntVar(&cfg.tcpPort, "tcp-port", 0, "Optional AF_INET listen port; 0 means use config file value")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (overrides config file)")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.logLevel != "" {
		switch cfg.logLevel {
		case "debug", "info", "warn", "error":
		default:
			return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
		}
	}

	return cfg, nil
}
