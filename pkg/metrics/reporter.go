package metrics

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/compactor/pkg/log"
	"github.com/cuemby/compactor/pkg/types"
)

// StatusSource provides per-node progress snapshots
type StatusSource interface {
	Status() []types.NodeStatus
}

// Reporter periodically logs every node's cycle progress and weight
// statistics and mirrors progress into gauges
type Reporter struct {
	source   StatusSource
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewReporter creates a reporter for source
func NewReporter(source StatusSource, interval time.Duration) *Reporter {
	return &Reporter{
		source:   source,
		interval: interval,
		logger:   log.WithComponent("monitoring"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic reporting
func (r *Reporter) Start() {
	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Report()
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop stops periodic reporting
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Report logs one status line per node
func (r *Reporter) Report() {
	statuses := r.source.Status()
	if len(statuses) == 0 {
		r.logger.Info().Msg("No node workers running")
		return
	}

	for _, s := range statuses {
		CycleProgress.WithLabelValues(string(s.Node)).Set(s.Percent)
		RegionsPlanned.WithLabelValues(string(s.Node)).Set(float64(s.Planned))

		r.logger.Info().
			Str("node_id", string(s.Node)).
			Str("mode", string(s.Mode)).
			Str("state", string(s.State)).
			Int("cycle", s.Cycle).
			Int("failed", s.Failed).
			Int64("compacted_mb", s.CompactedMB).
			Str("compaction_queue", string(s.Severity)).
			Str("statistic", s.Statistic).
			Msgf("%s: %s", s.Node, s.Progress)
	}
}
