package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/compactor/pkg/cluster/clustertest"
	"github.com/cuemby/compactor/pkg/config"
	"github.com/cuemby/compactor/pkg/events"
	"github.com/cuemby/compactor/pkg/telemetry/telemetrytest"
	"github.com/cuemby/compactor/pkg/types"
	"github.com/cuemby/compactor/pkg/worker"
)

const (
	nodeX = types.NodeID("rs-x:16020")
	nodeY = types.NodeID("rs-y:16020")
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Worker.StatusDelay = time.Millisecond
	cfg.Worker.AdditionDelay = time.Millisecond
	cfg.Worker.GateBackoff = 5 * time.Millisecond
	cfg.Worker.IdleTimeout = 10 * time.Millisecond
	cfg.Worker.DrainTimeout = time.Second
	cfg.Scheduler.RefreshInterval = 10 * time.Millisecond
	cfg.Scheduler.ShutdownTimeout = 2 * time.Second
	return cfg
}

func heavy() *types.RegionMetrics {
	return &types.RegionMetrics{StoreFileCount: 8, StoreFileSizeMB: 2048, Locality: 0.2}
}

func place(admin *clustertest.Admin, region types.RegionID, table types.TableName, node types.NodeID) types.RegionLocation {
	admin.AddNode(node)
	loc := types.RegionLocation{Region: region, Table: table, Node: node}
	admin.AddRegion(loc, heavy())
	return loc
}

func newScheduler(t *testing.T, admin *clustertest.Admin, opts ...Option) (*Scheduler, *telemetrytest.Factory) {
	t.Helper()
	probes := telemetrytest.NewFactory()
	s := New(testConfig(), admin, probes, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s, probes
}

func TestCompactRegionsAcrossNodes(t *testing.T) {
	admin := clustertest.NewAdmin()
	r1 := place(admin, "r1", "default:t1", nodeX)
	r2 := place(admin, "r2", "default:t1", nodeY)
	s, probes := newScheduler(t, admin)

	require.NoError(t, s.CompactRegions(context.Background(), []types.RegionLocation{r1, r2}))

	assert.ElementsMatch(t, []types.RegionID{"r1", "r2"}, admin.Requests())
	assert.Empty(t, s.Status())
	assert.True(t, probes.Probe(nodeX).Closed())
	assert.True(t, probes.Probe(nodeY).Closed())
}

func TestCompactRegionsAggregatesFailures(t *testing.T) {
	admin := clustertest.NewAdmin()
	r1 := place(admin, "r1", "default:t1", nodeX)
	r2 := place(admin, "r2", "default:t1", nodeY)
	admin.FailCompaction("r2", errors.New("region server aborted"))
	s, _ := newScheduler(t, admin)

	err := s.CompactRegions(context.Background(), []types.RegionLocation{r1, r2})

	require.Error(t, err)
	assert.ErrorIs(t, err, worker.ErrTasksFailed)
	assert.Contains(t, err.Error(), string(nodeY))
	assert.NotContains(t, err.Error(), string(nodeX))
	assert.ElementsMatch(t, []types.RegionID{"r1", "r2"}, admin.Requests())
}

func TestCompactTablesAndNamespaces(t *testing.T) {
	tests := []struct {
		name string
		run  func(s *Scheduler) error
		want []types.RegionID
	}{
		{
			name: "single table",
			run: func(s *Scheduler) error {
				return s.CompactTables(context.Background(), []types.TableName{"default:t1"})
			},
			want: []types.RegionID{"a1", "a2"},
		},
		{
			name: "two tables",
			run: func(s *Scheduler) error {
				return s.CompactTables(context.Background(), []types.TableName{"default:t1", "ops:t2"})
			},
			want: []types.RegionID{"a1", "a2", "b1"},
		},
		{
			name: "namespace",
			run: func(s *Scheduler) error {
				return s.CompactNamespaces(context.Background(), []string{"ops"})
			},
			want: []types.RegionID{"b1"},
		},
		{
			name: "empty namespace",
			run: func(s *Scheduler) error {
				return s.CompactNamespaces(context.Background(), []string{"missing"})
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admin := clustertest.NewAdmin()
			place(admin, "a1", "default:t1", nodeX)
			place(admin, "a2", "default:t1", nodeY)
			place(admin, "b1", "ops:t2", nodeY)
			s, _ := newScheduler(t, admin)

			require.NoError(t, tt.run(s))
			assert.ElementsMatch(t, tt.want, admin.Requests())
		})
	}
}

func TestCompactTablesUnknownTable(t *testing.T) {
	admin := clustertest.NewAdmin()
	place(admin, "a1", "default:t1", nodeX)
	s, _ := newScheduler(t, admin)

	err := s.CompactTables(context.Background(), []types.TableName{"default:nope"})
	require.Error(t, err)
	assert.Empty(t, admin.Requests())
}

func TestCompactNode(t *testing.T) {
	admin := clustertest.NewAdmin()
	place(admin, "a1", "default:t1", nodeX)
	place(admin, "a2", "default:t1", nodeX)
	place(admin, "b1", "default:t1", nodeY)
	s, _ := newScheduler(t, admin)

	require.NoError(t, s.CompactNode(context.Background(), nodeX))
	assert.ElementsMatch(t, []types.RegionID{"a1", "a2"}, admin.Requests())

	err := s.CompactNode(context.Background(), "rs-z:16020")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestParallelismPerNodeUnderBurst(t *testing.T) {
	admin := clustertest.NewAdmin()
	admin.CompactPolls = 3
	var regions []types.RegionLocation
	for i := range 8 {
		regions = append(regions,
			place(admin, types.RegionID(fmt.Sprintf("x%d", i)), "default:t1", nodeX),
			place(admin, types.RegionID(fmt.Sprintf("y%d", i)), "default:t1", nodeY),
		)
	}

	cfg := testConfig()
	cfg.Worker.Parallelism = 3
	cfg.Worker.AdditionDelay = 0
	s := New(cfg, admin, telemetrytest.NewFactory())
	defer s.Close()

	require.NoError(t, s.CompactRegions(context.Background(), regions))
	assert.Len(t, admin.Requests(), 16)
	assert.LessOrEqual(t, admin.MaxActive(nodeX), 3)
	assert.LessOrEqual(t, admin.MaxActive(nodeY), 3)
}

func TestClose(t *testing.T) {
	admin := clustertest.NewAdmin()
	r1 := place(admin, "r1", "default:t1", nodeX)
	s := New(testConfig(), admin, telemetrytest.NewFactory())

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Close(), ErrAlreadyClosed)

	ctx := context.Background()
	assert.ErrorIs(t, s.CompactRegions(ctx, []types.RegionLocation{r1}), ErrClosed)
	assert.ErrorIs(t, s.CompactTables(ctx, []types.TableName{"default:t1"}), ErrClosed)
	assert.ErrorIs(t, s.CompactNamespaces(ctx, []string{"default"}), ErrClosed)
	assert.ErrorIs(t, s.CompactNode(ctx, nodeX), ErrClosed)
	assert.ErrorIs(t, s.Enqueue(ctx, []types.RegionLocation{r1}), ErrClosed)
	assert.ErrorIs(t, s.RunContinuous(ctx), ErrClosed)
	assert.Empty(t, admin.Requests())
}

func TestCloseStopsBoundedOperation(t *testing.T) {
	admin := clustertest.NewAdmin()
	r1 := place(admin, "r1", "default:t1", nodeX)
	r2 := place(admin, "r2", "default:t1", nodeX)
	s, probes := newScheduler(t, admin)
	probes.Probe(nodeX).Set(500, 0)

	errCh := make(chan error, 1)
	go func() { errCh <- s.CompactRegions(context.Background(), []types.RegionLocation{r1, r2}) }()

	require.Eventually(t, func() bool {
		st, ok := s.NodeStatus(nodeX)
		return ok && st.State == types.WorkerStateGated
	}, time.Second, time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, worker.ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("bounded operation kept running after Close")
	}
	assert.Empty(t, admin.Requests())
}

func TestRunContinuous(t *testing.T) {
	admin := clustertest.NewAdmin()
	place(admin, "a1", "default:t1", nodeX)

	b := events.NewBroker()
	b.Start()
	defer b.Stop()
	sub := b.Subscribe()
	var joined atomic.Int32
	go func() {
		for ev := range sub {
			if ev.Type == events.EventNodeJoined {
				joined.Add(1)
			}
		}
	}()

	s, _ := newScheduler(t, admin, WithEvents(b))
	errCh := make(chan error, 1)
	go func() { errCh <- s.RunContinuous(context.Background()) }()

	require.Eventually(t, func() bool { return len(admin.Requests()) == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.RunContinuous(context.Background()), ErrAlreadyRunning)

	// a node joining later gets its own worker
	place(admin, "b1", "default:t1", nodeY)
	require.Eventually(t, func() bool { return len(admin.Requests()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return joined.Load() == 2 }, time.Second, 5*time.Millisecond)

	st, ok := s.NodeStatus(nodeY)
	require.True(t, ok)
	assert.Equal(t, types.ModeContinuous, st.Mode)
	statuses := s.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, nodeX, statuses[0].Node)
	assert.Equal(t, nodeY, statuses[1].Node)

	require.NoError(t, s.Close())
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunContinuous did not return after Close")
	}
}

func TestRunContinuousNodeRestart(t *testing.T) {
	admin := clustertest.NewAdmin()
	place(admin, "a1", "default:t1", nodeX)
	s, _ := newScheduler(t, admin)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.RunContinuous(ctx) }()

	require.Eventually(t, func() bool { return len(admin.Requests()) == 1 }, time.Second, 5*time.Millisecond)

	admin.RemoveNode(nodeX)
	require.Eventually(t, func() bool {
		_, ok := s.NodeStatus(nodeX)
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	admin.AddNode(nodeX)
	require.Eventually(t, func() bool {
		_, ok := s.NodeStatus(nodeX)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	// the recent-compaction cache survives the restart
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, admin.Requests(), 1)

	cancel()
	require.NoError(t, <-errCh)
}

func TestRunContinuousStopsWorkerOfLeftNode(t *testing.T) {
	admin := clustertest.NewAdmin()
	place(admin, "a1", "default:t1", nodeX)
	cfg := testConfig()
	cfg.Worker.IdleTimeout = time.Hour
	s := New(cfg, admin, telemetrytest.NewFactory())
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.RunContinuous(ctx) }()

	require.Eventually(t, func() bool { return len(admin.Requests()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		st, ok := s.NodeStatus(nodeX)
		return ok && st.State == types.WorkerStateIdle
	}, time.Second, 5*time.Millisecond)

	// the worker would otherwise sit out its idle timeout
	admin.RemoveNode(nodeX)
	require.Eventually(t, func() bool {
		_, ok := s.NodeStatus(nodeX)
		return !ok
	}, 500*time.Millisecond, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
}

func TestResumeOnlyAfterContinuousWorker(t *testing.T) {
	admin := clustertest.NewAdmin()
	r1 := place(admin, "r1", "default:t1", nodeX)
	s, _ := newScheduler(t, admin)

	// a bounded run leaves a recent-compaction cache behind
	require.NoError(t, s.CompactRegions(context.Background(), []types.RegionLocation{r1}))

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Contains(t, s.caches, nodeX)
	assert.False(t, s.markContinuous(nodeX))
	assert.True(t, s.markContinuous(nodeX))
	assert.False(t, s.markContinuous(nodeY))
}

func TestRunContinuousSurvivesMembershipErrors(t *testing.T) {
	admin := clustertest.NewAdmin()
	place(admin, "a1", "default:t1", nodeX)
	admin.FailListing(errors.New("master unreachable"))
	s, _ := newScheduler(t, admin)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.RunContinuous(ctx) }()

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, admin.Requests())

	admin.FailListing(nil)
	require.Eventually(t, func() bool { return len(admin.Requests()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
}

type staticLister []types.NodeID

func (l staticLister) ListLiveNodes(context.Context) ([]types.NodeID, error) {
	return l, nil
}

func TestWithMembership(t *testing.T) {
	admin := clustertest.NewAdmin()
	place(admin, "a1", "default:t1", nodeX)
	place(admin, "b1", "default:t1", nodeY)
	s, _ := newScheduler(t, admin, WithMembership(staticLister{nodeY}))

	assert.ErrorIs(t, s.CompactNode(context.Background(), nodeX), ErrUnknownNode)
	require.NoError(t, s.CompactNode(context.Background(), nodeY))
	assert.Equal(t, []types.RegionID{"b1"}, admin.Requests())
}

func TestEnqueue(t *testing.T) {
	admin := clustertest.NewAdmin()
	r1 := place(admin, "r1", "default:t1", nodeX)
	r2 := place(admin, "r2", "default:t1", nodeY)
	s, _ := newScheduler(t, admin)

	require.NoError(t, s.Enqueue(context.Background(), []types.RegionLocation{r1, r2}))
	require.Eventually(t, func() bool { return len(admin.Requests()) == 2 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		st, ok := s.NodeStatus(nodeX)
		return ok && st.Done == 1
	}, time.Second, 5*time.Millisecond)
	st, _ := s.NodeStatus(nodeX)
	assert.Equal(t, types.ModeQueued, st.Mode)
	assert.Equal(t, int64(0), st.CompactedMB)
	assert.Zero(t, admin.MetricsCalls(nodeX))

	// later regions reuse the running queued worker
	require.NoError(t, s.Enqueue(context.Background(), []types.RegionLocation{r1}))
	require.Eventually(t, func() bool {
		st, _ := s.NodeStatus(nodeX)
		return st.Done == 2 && st.Planned == 2
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, s.Status(), 2)
}
