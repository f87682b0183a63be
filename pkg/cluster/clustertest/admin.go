// Package clustertest provides an in-memory cluster.Admin for tests.
package clustertest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/cuemby/compactor/pkg/types"
)

// Admin is an in-memory cluster. A requested compaction keeps reporting
// IsCompacting for CompactPolls polls, then settles.
type Admin struct {
	CompactPolls int

	mu           sync.Mutex
	live         map[types.NodeID]bool
	order        []types.RegionID
	locations    map[types.RegionID]types.RegionLocation
	metrics      map[types.RegionID]types.RegionMetrics
	failures     map[types.RegionID]error
	listErr      error
	compacting   map[types.RegionID]int
	requests     []types.RegionID
	metricsCalls map[types.NodeID]int
	active       map[types.NodeID]int
	maxActive    map[types.NodeID]int
}

// NewAdmin creates an empty cluster
func NewAdmin() *Admin {
	return &Admin{
		live:         make(map[types.NodeID]bool),
		locations:    make(map[types.RegionID]types.RegionLocation),
		metrics:      make(map[types.RegionID]types.RegionMetrics),
		failures:     make(map[types.RegionID]error),
		compacting:   make(map[types.RegionID]int),
		metricsCalls: make(map[types.NodeID]int),
		active:       make(map[types.NodeID]int),
		maxActive:    make(map[types.NodeID]int),
	}
}

// AddNode marks node live
func (a *Admin) AddNode(node types.NodeID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.live[node] = true
}

// RemoveNode marks node dead
func (a *Admin) RemoveNode(node types.NodeID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.live, node)
}

// AddRegion places a region on a node. A nil metrics pointer leaves the
// region without published metrics.
func (a *Admin) AddRegion(loc types.RegionLocation, m *types.RegionMetrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.locations[loc.Region]; !ok {
		a.order = append(a.order, loc.Region)
	}
	a.locations[loc.Region] = loc
	if m != nil {
		mm := *m
		mm.Region = loc.Region
		mm.Table = loc.Table
		a.metrics[loc.Region] = mm
	}
}

// SetMetrics replaces the metrics of an existing region
func (a *Admin) SetMetrics(m types.RegionMetrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics[m.Region] = m
}

// FailCompaction makes requests for region fail with err
func (a *Admin) FailCompaction(region types.RegionID, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[region] = err
}

// FailListing makes ListLiveNodes fail with err until cleared with nil
func (a *Admin) FailListing(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listErr = err
}

// Requests returns every region a compaction was requested for, in order
func (a *Admin) Requests() []types.RegionID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.requests)
}

// MetricsCalls returns how many times metrics were fetched for node
func (a *Admin) MetricsCalls(node types.NodeID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metricsCalls[node]
}

// MaxActive returns the highest number of simultaneously running
// compactions seen on node
func (a *Admin) MaxActive(node types.NodeID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxActive[node]
}

func (a *Admin) ListLiveNodes(ctx context.Context) ([]types.NodeID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listErr != nil {
		return nil, a.listErr
	}
	nodes := make([]types.NodeID, 0, len(a.live))
	for n := range a.live {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	return nodes, nil
}

func (a *Admin) ListNodeRegions(ctx context.Context, node types.NodeID) ([]types.RegionLocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []types.RegionLocation
	for _, r := range a.order {
		if loc := a.locations[r]; loc.Node == node {
			out = append(out, loc)
		}
	}
	return out, nil
}

func (a *Admin) GetRegionMetrics(ctx context.Context, node types.NodeID) (map[types.RegionID]types.RegionMetrics, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metricsCalls[node]++
	out := make(map[types.RegionID]types.RegionMetrics)
	for r, m := range a.metrics {
		if a.locations[r].Node == node {
			out[r] = m
		}
	}
	return out, nil
}

func (a *Admin) GetRegionsForTable(ctx context.Context, table types.TableName) ([]types.RegionLocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []types.RegionLocation
	for _, r := range a.order {
		if loc := a.locations[r]; loc.Table == table {
			out = append(out, loc)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}
	return out, nil
}

func (a *Admin) ListTablesByNamespace(ctx context.Context, namespace string) ([]types.TableName, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var tables []types.TableName
	for _, r := range a.order {
		t := a.locations[r].Table
		if t.Namespace() == namespace && !slices.Contains(tables, t) {
			tables = append(tables, t)
		}
	}
	return tables, nil
}

func (a *Admin) RequestMajorCompaction(ctx context.Context, region types.RegionID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, region)
	if err := a.failures[region]; err != nil {
		return err
	}
	loc, ok := a.locations[region]
	if !ok {
		return fmt.Errorf("region %s not found", region)
	}
	a.compacting[region] = a.CompactPolls + 1
	a.active[loc.Node]++
	if a.active[loc.Node] > a.maxActive[loc.Node] {
		a.maxActive[loc.Node] = a.active[loc.Node]
	}
	return nil
}

func (a *Admin) IsCompacting(ctx context.Context, region types.RegionID) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	left, ok := a.compacting[region]
	if !ok {
		return false, nil
	}
	left--
	if left > 0 {
		a.compacting[region] = left
		return true, nil
	}
	delete(a.compacting, region)
	a.active[a.locations[region].Node]--
	return false, nil
}
