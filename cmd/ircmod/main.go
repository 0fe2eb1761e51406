// Package main is the entry point for the ircmod daemon.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/artpar/ircmod/bootstrap"
	"github.com/artpar/ircmod/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "ircmod.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	validate := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ircmod %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if *validate {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration valid\n")
		fmt.Printf("  Server:  %s (%s)\n", cfg.Server.Name, cfg.Server.Network)
		fmt.Printf("  Modules: %s\n", strings.Join(cfg.Modules, ", "))
		fmt.Printf("  History: %s\n", cfg.History.Backend)
		os.Exit(0)
	}

	app, err := bootstrap.New(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		os.Exit(1)
	}
	if err := app.Start(); err != nil {
		app.Logger.Error().Err(err).Msg("not all modules loaded")
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
