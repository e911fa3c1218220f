package model

import "time"

// Host outcomes recorded for addresses that answered a probe.
const (
	HostAdded     = "added"
	HostCollision = "collision"
	HostInvalid   = "invalid"
)

// HostResult is the outcome of a single probe that got an answer. Addresses
// that timed out or refused the connection are counted but not listed.
type HostResult struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	Outcome string `json:"outcome"`
}

// ScanReport summarizes one discovery run over an address range.
type ScanReport struct {
	ID          string       `json:"id"`
	Network     string       `json:"network"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
	Probed      int          `json:"probed"`
	Found       int          `json:"found"`
	Added       int          `json:"added"`
	Skipped     int          `json:"skipped"`
	Hosts       []HostResult `json:"hosts,omitempty"`
}

// Duration is the wall time the scan took.
func (r *ScanReport) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}
