// Package scanner walks address ranges looking for ESP Easy nodes. A host
// counts as a hit when it answers GET /json with a parseable state document;
// everything else on the subnet is expected to fail and does so silently.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ElZetto/espisy/internal/log"
	"github.com/ElZetto/espisy/internal/model"
	"github.com/ElZetto/espisy/internal/registry"
	"github.com/ElZetto/espisy/internal/settings"
	"github.com/ElZetto/espisy/internal/transport"
)

// DefaultMaxConcurrent allows one in-flight probe per host of a /24, so a
// full sweep of the common home subnet runs in a single wave.
const DefaultMaxConcurrent = 254

// History receives completed scan reports for archival.
type History interface {
	RecordScan(ctx context.Context, report *model.ScanReport) error
}

// Engine probes addresses over client and registers responders into reg.
type Engine struct {
	registry  *registry.Registry
	transport *transport.Client
	settings  *settings.Store // nil disables GPIO reconciliation
	history   History         // nil disables archival

	maxConcurrent int
	probeTimeout  time.Duration
}

// New returns an engine with default concurrency and probe timeout. settings
// and history may be nil.
func New(reg *registry.Registry, client *transport.Client, sets *settings.Store, hist History) *Engine {
	return &Engine{
		registry:      reg,
		transport:     client,
		settings:      sets,
		history:       hist,
		maxConcurrent: DefaultMaxConcurrent,
		probeTimeout:  transport.DefaultTimeout,
	}
}

// SetMaxConcurrent caps the number of in-flight probes. Values below 1
// restore the default.
func (e *Engine) SetMaxConcurrent(n int) {
	if n < 1 {
		n = DefaultMaxConcurrent
	}
	e.maxConcurrent = n
}

// SetProbeTimeout bounds each host probe. Values of zero or below restore
// the transport default.
func (e *Engine) SetProbeTimeout(d time.Duration) {
	if d <= 0 {
		d = transport.DefaultTimeout
	}
	e.probeTimeout = d
}

// ScanNetwork probes every usable host address in the CIDR range.
func (e *Engine) ScanNetwork(ctx context.Context, cidr string) (*model.ScanReport, error) {
	addrs, err := expandCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("expand %q: %w", cidr, err)
	}
	return e.scan(ctx, cidr, addrs), nil
}

// ScanAddresses probes an explicit address list. Entries may carry a port
// (host:port), which also ends up as the registered device address.
func (e *Engine) ScanAddresses(ctx context.Context, addrs []string) *model.ScanReport {
	return e.scan(ctx, "", addrs)
}

func (e *Engine) scan(ctx context.Context, network string, addrs []string) *model.ScanReport {
	report := &model.ScanReport{
		ID:        generateID(),
		Network:   network,
		StartedAt: time.Now(),
	}

	log.Info("starting discovery scan", "scan_id", report.ID, "network", network, "hosts", len(addrs))

	sem := make(chan struct{}, e.maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, addr := range addrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			// A cancelled scan stops launching probes but still joins
			// on the ones already running.
			select {
			case <-ctx.Done():
				return
			default:
			}

			probeCtx, cancel := context.WithTimeout(ctx, e.probeTimeout)
			defer cancel()

			state, err := e.transport.FetchState(probeCtx, addr)

			mu.Lock()
			report.Probed++
			if report.Probed%50 == 0 {
				log.Info("discovery progress", "scan_id", report.ID, "probed", report.Probed, "total", len(addrs))
			}
			mu.Unlock()

			if err != nil {
				log.Debug("host probe failed", "address", addr, "error", err)
				return
			}

			mu.Lock()
			report.Found++
			mu.Unlock()

			rec, err := e.registry.Add(addr, state)
			if err != nil {
				host := model.HostResult{Address: addr, Name: state.System.Name, Outcome: model.HostInvalid}
				if errors.Is(err, registry.ErrNameCollision) {
					host.Outcome = model.HostCollision
					log.Warn("unit name collision, host skipped", "address", addr, "name", state.System.Name)
				} else {
					log.Error("failed to register discovered host", "address", addr, "error", err)
				}
				mu.Lock()
				report.Skipped++
				report.Hosts = append(report.Hosts, host)
				mu.Unlock()
				return
			}

			mu.Lock()
			report.Added++
			report.Hosts = append(report.Hosts, model.HostResult{Address: addr, Name: rec.Name, Outcome: model.HostAdded})
			mu.Unlock()

			log.Debug("device registered", "address", addr, "name", rec.Name)

			if e.settings != nil {
				if err := e.settings.Reconcile(e.registry, addr); err != nil {
					log.Warn("settings reconciliation failed", "address", addr, "error", err)
				}
			}
		}(addr)
	}

	wg.Wait()

	report.CompletedAt = time.Now()
	sort.Slice(report.Hosts, func(i, j int) bool { return report.Hosts[i].Address < report.Hosts[j].Address })

	log.Info("discovery scan completed",
		"scan_id", report.ID,
		"probed", report.Probed,
		"found", report.Found,
		"added", report.Added,
		"skipped", report.Skipped,
		"duration", report.Duration().String())

	if e.history != nil {
		// The report is worth keeping even when the scan context is
		// already gone.
		archiveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.history.RecordScan(archiveCtx, report); err != nil {
			log.Error("failed to archive scan report", "scan_id", report.ID, "error", err)
		}
	}

	return report
}

// expandCIDR lists all host addresses in a CIDR range. For /30 and wider the
// network and broadcast addresses are left out.
func expandCIDR(cidr string) ([]string, error) {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}

	var ips []string
	for ip := cloneIP(ipNet.IP); ipNet.Contains(ip); inc(ip) {
		ones, _ := ipNet.Mask.Size()
		if ones <= 30 {
			// Skip the network and broadcast addresses.
			if ip.Equal(ipNet.IP) {
				continue
			}
			broadcast := cloneIP(ipNet.IP)
			for i := range ipNet.Mask {
				broadcast[i] |= ^ipNet.Mask[i]
			}
			if ip.Equal(broadcast) {
				continue
			}
		}
		ips = append(ips, ip.String())
	}

	return ips, nil
}

func cloneIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

// inc increments an IP address in place.
func inc(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}

func generateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
