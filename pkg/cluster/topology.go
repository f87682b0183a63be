package cluster

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/cuemby/compactor/pkg/types"
)

// Snapshot is an immutable set of live nodes. Refreshes replace the whole
// snapshot; a Snapshot is never modified after creation.
type Snapshot struct {
	nodes map[types.NodeID]struct{}
	Taken time.Time
}

// NewSnapshot builds a snapshot from a node list
func NewSnapshot(nodes []types.NodeID) *Snapshot {
	s := &Snapshot{
		nodes: make(map[types.NodeID]struct{}, len(nodes)),
		Taken: time.Now(),
	}
	for _, n := range nodes {
		s.nodes[n] = struct{}{}
	}
	return s
}

// Live reports whether node was live when the snapshot was taken
func (s *Snapshot) Live(node types.NodeID) bool {
	_, ok := s.nodes[node]
	return ok
}

// Nodes returns the live nodes in sorted order
func (s *Snapshot) Nodes() []types.NodeID {
	nodes := make([]types.NodeID, 0, len(s.nodes))
	for n := range s.nodes {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	return nodes
}

// Len returns the number of live nodes
func (s *Snapshot) Len() int {
	return len(s.nodes)
}

// Diff returns nodes present in s but not prev (joined) and present in
// prev but not s (left)
func (s *Snapshot) Diff(prev *Snapshot) (joined, left []types.NodeID) {
	for _, n := range s.Nodes() {
		if !prev.Live(n) {
			joined = append(joined, n)
		}
	}
	for _, n := range prev.Nodes() {
		if !s.Live(n) {
			left = append(left, n)
		}
	}
	return joined, left
}

// Topology holds the current live-node snapshot, shared read-only by all
// node workers
type Topology struct {
	lister  NodeLister
	current atomic.Pointer[Snapshot]
}

// NewTopology creates a topology with an empty initial snapshot
func NewTopology(lister NodeLister) *Topology {
	t := &Topology{lister: lister}
	t.current.Store(NewSnapshot(nil))
	return t
}

// Refresh lists live nodes and swaps in a new snapshot. It returns the new
// and the replaced snapshot. On error the current snapshot is kept.
func (t *Topology) Refresh(ctx context.Context) (next, prev *Snapshot, err error) {
	nodes, err := t.lister.ListLiveNodes(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list live nodes: %w", err)
	}
	next = NewSnapshot(nodes)
	prev = t.current.Swap(next)
	return next, prev, nil
}

// Current returns the latest snapshot
func (t *Topology) Current() *Snapshot {
	return t.current.Load()
}

// Live reports whether node is in the latest snapshot
func (t *Topology) Live(node types.NodeID) bool {
	return t.Current().Live(node)
}
