// Package worker runs the periodic rescan in serve mode.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ElZetto/espisy/internal/log"
	"github.com/ElZetto/espisy/internal/scanner"
	"github.com/ElZetto/espisy/internal/settings"
)

const (
	// scanTimeout bounds one rescan run. A /24 with default concurrency
	// finishes well within this.
	scanTimeout = 10 * time.Minute

	// stopTimeout bounds the wait for an in-flight scan on shutdown.
	stopTimeout = 30 * time.Second
)

// Rescanner triggers discovery scans on a cron schedule so renamed and
// re-flashed units converge without operator action.
type Rescanner struct {
	cron     *cron.Cron
	engine   *scanner.Engine
	settings *settings.Store
	network  string
}

// NewRescanner creates a rescanner. network may be empty; the settings
// default is read at trigger time, so a network configured after startup is
// picked up.
func NewRescanner(engine *scanner.Engine, sets *settings.Store, network string) *Rescanner {
	return &Rescanner{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{}))),
		engine:   engine,
		settings: sets,
		network:  network,
	}
}

// Start registers the scan job and starts the schedule. spec takes the
// standard five-field cron syntax or descriptors like @hourly and @every 1h.
func (r *Rescanner) Start(spec string) error {
	if _, err := r.cron.AddFunc(spec, r.runScan); err != nil {
		return fmt.Errorf("invalid rescan schedule %q: %w", spec, err)
	}
	r.cron.Start()
	log.Info("periodic rescan scheduled", "spec", spec)
	return nil
}

// Stop halts the schedule and waits for an in-flight scan to finish.
func (r *Rescanner) Stop() {
	ctx := r.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(stopTimeout):
		log.Warn("periodic rescan did not finish before shutdown")
	}
}

func (r *Rescanner) runScan() {
	network := r.network
	if network == "" && r.settings != nil {
		network = r.settings.Network()
	}
	if network == "" {
		log.Warn("periodic rescan skipped, no network configured")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	report, err := r.engine.ScanNetwork(ctx, network)
	if err != nil {
		log.Error("periodic rescan failed", "network", network, "error", err)
		return
	}
	log.Info("periodic rescan finished",
		"network", network,
		"probed", report.Probed,
		"found", report.Found,
		"added", report.Added,
		"skipped", report.Skipped,
	)
}

// cronLogger adapts the process logger to the cron scheduler. Skip notices
// land on debug; they are routine when a scan outlasts its interval.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error(msg, append(keysAndValues, "error", err)...)
}
