package main

import (
	"context"
	"fmt"
	"os"

	"github.com/paularlott/cli"
	"github.com/paularlott/cli/env"

	"github.com/ElZetto/espisy/cmd/device"
	"github.com/ElZetto/espisy/cmd/scan"
	"github.com/ElZetto/espisy/cmd/serve"
	"github.com/ElZetto/espisy/cmd/setup"
	"github.com/ElZetto/espisy/internal/config"
	"github.com/ElZetto/espisy/internal/log"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Load .env file if it exists
	env.Load()

	// Initialize structured logging
	log.Configure("info", "console", "")

	rootCmd := &cli.Command{
		Name:        "espisy",
		Version:     version,
		Usage:       "Control ESP Easy devices from the command line or over HTTP",
		Description: "Discovers ESP Easy units on the local network and drives them through a CLI, a REST API and an MCP server",
		Flags:       config.GlobalFlags(),
		PreRun: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			log.Configure(cmd.GetString("log-level"), cmd.GetString("log-format"), cmd.GetString("log-file"))
			return ctx, nil
		},
		Commands: append(device.Commands(),
			scan.Command(),
			setup.Command(),
			serve.Command(),
			versionCommand(),
		),
	}

	if err := rootCmd.Execute(context.Background()); err != nil {
		log.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Run: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Printf("espisy %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}
