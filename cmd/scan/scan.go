// Package scan implements the one-shot discovery command.
package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/paularlott/cli"

	"github.com/ElZetto/espisy/internal/history"
	"github.com/ElZetto/espisy/internal/log"
	"github.com/ElZetto/espisy/internal/model"
	"github.com/ElZetto/espisy/internal/registry"
	"github.com/ElZetto/espisy/internal/scanner"
	"github.com/ElZetto/espisy/internal/settings"
	"github.com/ElZetto/espisy/internal/transport"
)

// Command returns the scan command.
func Command() *cli.Command {
	return &cli.Command{
		Name:        "scan",
		Usage:       "Discover devices on the local network",
		Description: "Probe every host in a CIDR range for ESP Easy units and persist what answers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "network",
				Usage:   "CIDR range to scan, e.g. 192.168.1.0/24 (default: persisted setting)",
				EnvVars: []string{"ESPISY_NETWORK"},
			},
			&cli.IntFlag{
				Name:         "concurrency",
				Usage:        "Maximum parallel probes",
				DefaultValue: scanner.DefaultMaxConcurrent,
			},
			&cli.StringFlag{
				Name:         "data-dir",
				Usage:        "Directory holding the scan archive",
				DefaultValue: "./data",
				EnvVars:      []string{"ESPISY_DATA_DIR"},
			},
			&cli.BoolFlag{
				Name:  "history",
				Usage: "List archived scans instead of scanning",
			},
			&cli.IntFlag{
				Name:         "limit",
				Usage:        "Number of archived scans to list with --history",
				DefaultValue: 20,
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.GetBool("history") {
				return listHistory(ctx, cmd)
			}
			return runScan(ctx, cmd)
		},
	}
}

func runScan(ctx context.Context, cmd *cli.Command) error {
	sets, err := settings.Open(cmd.GetString("settings"))
	if err != nil {
		return err
	}

	network := cmd.GetString("network")
	if network == "" {
		network = sets.Network()
	}
	if network == "" {
		return fmt.Errorf("no network given and none persisted; pass --network or run setup")
	}

	// The archive is nice to have for a one-shot scan, not required.
	var hist scanner.History
	if store, err := history.Open(cmd.GetString("data-dir")); err != nil {
		log.Warn("scan archive unavailable", "error", err)
	} else {
		defer store.Close()
		hist = store
	}

	timeout := time.Duration(cmd.GetInt("timeout")) * time.Second
	reg := registry.New()
	eng := scanner.New(reg, transport.NewClient(timeout), sets, hist)
	eng.SetMaxConcurrent(cmd.GetInt("concurrency"))
	eng.SetProbeTimeout(timeout)

	fmt.Printf("Scanning %s ...\n", network)
	report, err := eng.ScanNetwork(ctx, network)
	if err != nil {
		return err
	}
	printReport(report)

	// Persist what answered so the device commands know it by name.
	for _, rec := range reg.List() {
		sets.Update(rec)
	}
	if err := sets.Save(); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func printReport(report *model.ScanReport) {
	fmt.Printf("Probed %d hosts in %s: %d answered, %d added, %d skipped\n",
		report.Probed, report.Duration().Round(10*time.Millisecond),
		report.Found, report.Added, report.Skipped)
	for _, h := range report.Hosts {
		fmt.Printf("  %-15s  %-24s  %s\n", h.Address, h.Name, h.Outcome)
	}
}

func listHistory(ctx context.Context, cmd *cli.Command) error {
	store, err := history.Open(cmd.GetString("data-dir"))
	if err != nil {
		return err
	}
	defer store.Close()

	scans, err := store.ListScans(ctx, cmd.GetInt("limit"))
	if err != nil {
		return err
	}
	if len(scans) == 0 {
		fmt.Println("No archived scans")
		return nil
	}
	for _, r := range scans {
		network := r.Network
		if network == "" {
			network = "(address list)"
		}
		fmt.Printf("%s  %-18s  probed=%-4d found=%-3d added=%-3d skipped=%-3d  %s\n",
			r.StartedAt.Format("2006-01-02 15:04"), network,
			r.Probed, r.Found, r.Added, r.Skipped, r.ID)
	}
	return nil
}
