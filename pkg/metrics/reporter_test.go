package metrics

import (
	"bytes"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/cuemby/compactor/pkg/log"
	"github.com/cuemby/compactor/pkg/types"
)

type staticSource struct {
	calls    atomic.Int32
	statuses []types.NodeStatus
}

func (s *staticSource) Status() []types.NodeStatus {
	s.calls.Add(1)
	return s.statuses
}

func TestReporterReport(t *testing.T) {
	var buf bytes.Buffer
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: &buf})

	src := &staticSource{statuses: []types.NodeStatus{
		{
			Node:      "report-rs1",
			Planned:   11,
			Done:      3,
			Percent:   types.Percent(3, 11),
			Progress:  types.ProgressString(3, 11),
			Statistic: "Not calculated",
		},
	}}

	NewReporter(src, time.Hour).Report()

	assert.Contains(t, buf.String(), "report-rs1: 27.27% (  3 of  11)")
	assert.InDelta(t, 27.27, testutil.ToFloat64(CycleProgress.WithLabelValues("report-rs1")), 0.01)
	assert.Equal(t, 11.0, testutil.ToFloat64(RegionsPlanned.WithLabelValues("report-rs1")))
}

func TestReporterEmpty(t *testing.T) {
	var buf bytes.Buffer
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: &buf})

	NewReporter(&staticSource{}, time.Hour).Report()
	assert.True(t, strings.Contains(buf.String(), "No node workers running"))
}

func TestReporterStartStop(t *testing.T) {
	src := &staticSource{}
	r := NewReporter(src, 10*time.Millisecond)
	r.Start()

	assert.Eventually(t, func() bool { return src.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	r.Stop()
	r.Stop()
}
