package telemetry

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"github.com/cuemby/compactor/pkg/config"
	"github.com/cuemby/compactor/pkg/log"
	"github.com/cuemby/compactor/pkg/metrics"
	"github.com/cuemby/compactor/pkg/types"
)

// Probe reports a node's live queue depths. A Probe belongs to a single
// node worker and is not safe for concurrent use.
type Probe interface {
	// Sample reads both queues of the node at once. The result is
	// meaningless once ctx is done.
	Sample(ctx context.Context) Reading
	Close() error
}

// Factory opens a probe for a node
type Factory interface {
	Open(node types.NodeID) Probe
}

// Reading is one sample of a node's queues
type Reading struct {
	CompactionQueueLength int
	FlushQueueLength      int
	PercentFilesLocal     float64
}

// Source reads raw telemetry from a node
type Source interface {
	Read(ctx context.Context) (Reading, error)
	Close() error
}

// SourceFunc opens a Source for a node
type SourceFunc func(node types.NodeID) Source

// Policy decides what a probe reports when its source fails
type Policy struct {
	// FailClosed reports an unbounded queue on failure so the gate holds.
	// Otherwise the probe reports an empty queue.
	FailClosed bool
	// EscalateAfter consecutive failures are logged at error level
	EscalateAfter int
}

// PolicyFromConfig builds the failure policy from configuration
func PolicyFromConfig(cfg config.TelemetryConfig) Policy {
	return Policy{FailClosed: cfg.FailClosed, EscalateAfter: cfg.EscalateAfter}
}

// GuardedFactory wraps every opened source with a failure Policy
type GuardedFactory struct {
	open   SourceFunc
	policy Policy
}

// NewFactory creates a factory whose probes apply policy to source errors
func NewFactory(open SourceFunc, policy Policy) *GuardedFactory {
	return &GuardedFactory{open: open, policy: policy}
}

// Open implements Factory
func (f *GuardedFactory) Open(node types.NodeID) Probe {
	return &guardedProbe{
		node:   node,
		src:    f.open(node),
		policy: f.policy,
		logger: log.WithNodeID("telemetry", string(node)),
	}
}

type guardedProbe struct {
	node     types.NodeID
	src      Source
	policy   Policy
	failures int
	logger   zerolog.Logger
}

func (p *guardedProbe) Close() error {
	metrics.TelemetryDegraded.DeleteLabelValues(string(p.node))
	return p.src.Close()
}

func (p *guardedProbe) Sample(ctx context.Context) Reading {
	node := string(p.node)

	r, err := p.src.Read(ctx)
	if err != nil {
		// an abandoned read says nothing about the node
		if ctx.Err() != nil {
			return Reading{}
		}

		p.failures++
		metrics.TelemetryFailures.WithLabelValues(node).Inc()
		metrics.TelemetryDegraded.WithLabelValues(node).Set(1)

		event := p.logger.Warn()
		if p.policy.EscalateAfter > 0 && p.failures >= p.policy.EscalateAfter {
			event = p.logger.Error()
		}
		if p.policy.FailClosed {
			event.Err(err).Int("failures", p.failures).Msg("Node telemetry unavailable, holding admission")
			return Reading{CompactionQueueLength: math.MaxInt, FlushQueueLength: math.MaxInt}
		}
		event.Err(err).Int("failures", p.failures).Msg("Node telemetry unavailable, queue lengths not taken into account")
		return Reading{}
	}

	if p.failures > 0 {
		p.logger.Info().Int("failures", p.failures).Msg("Node telemetry recovered")
		p.failures = 0
		metrics.TelemetryDegraded.WithLabelValues(node).Set(0)
	}

	metrics.NodeQueueLength.WithLabelValues(node, "compaction").Set(float64(r.CompactionQueueLength))
	metrics.NodeQueueLength.WithLabelValues(node, "flush").Set(float64(r.FlushQueueLength))
	return r
}
