// Package telemetrytest provides controllable telemetry probes for tests.
package telemetrytest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cuemby/compactor/pkg/telemetry"
	"github.com/cuemby/compactor/pkg/types"
)

// Probe returns whatever queue lengths were last set
type Probe struct {
	compaction atomic.Int64
	flush      atomic.Int64
	reads      atomic.Int64
	closed     atomic.Bool
}

// Set changes the reported queue lengths
func (p *Probe) Set(compaction, flush int) {
	p.compaction.Store(int64(compaction))
	p.flush.Store(int64(flush))
}

// Reads returns how many samples were taken
func (p *Probe) Reads() int {
	return int(p.reads.Load())
}

// Closed reports whether Close was called
func (p *Probe) Closed() bool {
	return p.closed.Load()
}

func (p *Probe) Sample(ctx context.Context) telemetry.Reading {
	p.reads.Add(1)
	return telemetry.Reading{
		CompactionQueueLength: int(p.compaction.Load()),
		FlushQueueLength:      int(p.flush.Load()),
	}
}

func (p *Probe) Close() error {
	p.closed.Store(true)
	return nil
}

// Factory hands out one Probe per node, creating it on first use
type Factory struct {
	mu     sync.Mutex
	probes map[types.NodeID]*Probe
}

// NewFactory creates an empty factory
func NewFactory() *Factory {
	return &Factory{probes: make(map[types.NodeID]*Probe)}
}

// Probe returns the probe for node
func (f *Factory) Probe(node types.NodeID) *Probe {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.probes[node]
	if !ok {
		p = &Probe{}
		f.probes[node] = p
	}
	return p
}

// Open implements telemetry.Factory
func (f *Factory) Open(node types.NodeID) telemetry.Probe {
	return f.Probe(node)
}
