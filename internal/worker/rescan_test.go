package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ElZetto/espisy/internal/model"
	"github.com/ElZetto/espisy/internal/registry"
	"github.com/ElZetto/espisy/internal/scanner"
	"github.com/ElZetto/espisy/internal/transport"
)

type captureHistory struct {
	mu   sync.Mutex
	runs int
}

func (c *captureHistory) RecordScan(ctx context.Context, report *model.ScanReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
	return nil
}

func (c *captureHistory) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func TestRescannerBadSpec(t *testing.T) {
	eng := scanner.New(registry.New(), transport.NewClient(time.Second), nil, nil)
	r := NewRescanner(eng, nil, "127.0.0.1/32")

	if err := r.Start("not a schedule"); err == nil {
		t.Fatal("Start() accepted a bogus schedule")
	}
}

func TestRescannerRunsOnSchedule(t *testing.T) {
	capture := &captureHistory{}
	eng := scanner.New(registry.New(), transport.NewClient(200*time.Millisecond), nil, capture)
	eng.SetProbeTimeout(100 * time.Millisecond)

	r := NewRescanner(eng, nil, "127.0.0.1/32")
	if err := r.Start("@every 50ms"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for capture.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no scan ran within 5s")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
