package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/compactor/pkg/types"
)

const seedYAML = `
nodes:
  - id: "rs1:16020"
    live: true
    compaction_queue: 2
    flush_queue: 4
  - id: "rs2:16020"
    live: false
regions:
  - id: "r1"
    table: events
    node: "rs1:16020"
    store_file_count: 9
    store_file_size_mb: 4096
    locality: 0.4
  - id: "r2"
    table: "ops:audit"
    node: "rs1:16020"
    store_file_count: 3
    store_file_size_mb: 512
    locality: 0.9
  - id: "r3"
    table: events
    node: "rs2:16020"
    store_file_count: 2
    store_file_size_mb: 128
    locality: 1
  - id: "r4"
    table: "ops:audit"
    node: "rs1:16020"
    unreported: true
`

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time      { return c.t }
func (c *clock) add(d time.Duration) { c.t = c.t.Add(d) }

func newCatalog(t *testing.T) (*Catalog, *clock) {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "data", "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := NewCatalog(store, 30*time.Second)
	c.now = clk.now

	seed, err := ParseSeed([]byte(seedYAML))
	require.NoError(t, err)
	require.NoError(t, c.Import(seed))
	return c, clk
}

func TestBoltStoreNodes(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.PutNode(&Node{ID: "rs1:16020", Live: true}))
	node, err := store.GetNode("rs1:16020")
	require.NoError(t, err)
	assert.True(t, node.Live)

	node.Live = false
	require.NoError(t, store.PutNode(node))
	nodes, err := store.ListNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.False(t, nodes[0].Live)

	require.NoError(t, store.DeleteNode("rs1:16020"))
	_, err = store.GetNode("rs1:16020")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStoreRegions(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer store.Close()

	for _, id := range []types.RegionID{"c", "a", "b"} {
		require.NoError(t, store.PutRegion(&Region{ID: id, Table: "default:t", Node: "rs1:16020"}))
	}

	regions, err := store.ListRegions()
	require.NoError(t, err)
	require.Len(t, regions, 3)
	assert.Equal(t, types.RegionID("a"), regions[0].ID)
	assert.Equal(t, types.RegionID("c"), regions[2].ID)

	require.NoError(t, store.DeleteRegion("b"))
	_, err = store.GetRegion("b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	store, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, store.PutNode(&Node{ID: "rs1:16020", Live: true}))
	require.NoError(t, store.Close())

	store, err = NewBoltStore(path)
	require.NoError(t, err)
	defer store.Close()
	_, err = store.GetNode("rs1:16020")
	assert.NoError(t, err)
}

func TestBoltStoreBackup(t *testing.T) {
	c, _ := newCatalog(t)

	var buf bytes.Buffer
	n, err := c.Backup(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	path := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))
	restored, err := NewBoltStore(path)
	require.NoError(t, err)
	defer restored.Close()

	regions, err := restored.ListRegions()
	require.NoError(t, err)
	assert.Len(t, regions, 4)
}

func TestParseSeed(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "valid", yaml: seedYAML},
		{name: "node without id", yaml: "nodes:\n  - live: true\n", wantErr: "without id"},
		{
			name:    "region on unknown node",
			yaml:    "nodes:\n  - id: a\nregions:\n  - id: r\n    table: t\n    node: b\n",
			wantErr: "unknown node",
		},
		{
			name:    "region without table",
			yaml:    "nodes:\n  - id: a\nregions:\n  - id: r\n    node: a\n",
			wantErr: "no table",
		},
		{
			name:    "locality out of range",
			yaml:    "nodes:\n  - id: a\nregions:\n  - id: r\n    table: t\n    node: a\n    locality: 1.5\n",
			wantErr: "locality",
		},
		{name: "not yaml", yaml: "nodes: [", wantErr: "failed to parse seed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seed, err := ParseSeed([]byte(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, seed.Nodes, 2)
			assert.Equal(t, types.TableName("default:events"), seed.Regions[0].Table)
			assert.Equal(t, types.TableName("ops:audit"), seed.Regions[1].Table)
		})
	}
}

func TestCatalogMetadata(t *testing.T) {
	c, _ := newCatalog(t)
	ctx := context.Background()

	live, err := c.ListLiveNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.NodeID{"rs1:16020"}, live)

	locs, err := c.ListNodeRegions(ctx, "rs1:16020")
	require.NoError(t, err)
	assert.Len(t, locs, 3)

	m, err := c.GetRegionMetrics(ctx, "rs1:16020")
	require.NoError(t, err)
	assert.Len(t, m, 2)
	assert.NotContains(t, m, types.RegionID("r4"))
	assert.Equal(t, int64(4096), m["r1"].StoreFileSizeMB)
	assert.Equal(t, 9, m["r1"].StoreFileCount)

	locs, err = c.GetRegionsForTable(ctx, "default:events")
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.RegionLocation{
		{Region: "r1", Table: "default:events", Node: "rs1:16020"},
		{Region: "r3", Table: "default:events", Node: "rs2:16020"},
	}, locs)

	_, err = c.GetRegionsForTable(ctx, "default:missing")
	assert.ErrorIs(t, err, ErrNotFound)

	tables, err := c.ListTablesByNamespace(ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, []types.TableName{"ops:audit"}, tables)
}

func TestCatalogCompaction(t *testing.T) {
	c, clk := newCatalog(t)
	ctx := context.Background()
	source := c.QueueSource()("rs1:16020")

	reading, err := source.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reading.CompactionQueueLength)
	assert.Equal(t, 4, reading.FlushQueueLength)

	require.NoError(t, c.RequestMajorCompaction(ctx, "r1"))
	compacting, err := c.IsCompacting(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, compacting)

	reading, err = source.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, reading.CompactionQueueLength)

	// a second request while running is a no-op
	require.NoError(t, c.RequestMajorCompaction(ctx, "r1"))

	clk.add(31 * time.Second)

	// metrics reflect the settled compaction even before it is polled
	m, err := c.GetRegionMetrics(ctx, "rs1:16020")
	require.NoError(t, err)
	assert.Equal(t, 1, m["r1"].StoreFileCount)
	assert.Equal(t, 1.0, m["r1"].Locality)

	compacting, err = c.IsCompacting(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, compacting)

	r, err := c.GetRegion("r1")
	require.NoError(t, err)
	assert.Equal(t, 1, r.StoreFileCount)
	assert.False(t, r.LastCompacted.IsZero())

	reading, err = source.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reading.CompactionQueueLength)

	history, err := c.ListCompactions()
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, types.RegionID("r1"), history[0].Region)
	assert.Equal(t, uint64(1), history[0].Seq)
	assert.False(t, history[0].SettledAt.IsZero())
}

func TestCatalogCompactionErrors(t *testing.T) {
	c, _ := newCatalog(t)
	ctx := context.Background()

	err := c.RequestMajorCompaction(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = c.RequestMajorCompaction(ctx, "r3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not serving")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, c.RequestMajorCompaction(cancelled, "r1"), context.Canceled)

	_, err = c.IsCompacting(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.QueueSource()("rs9:16020").Read(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}
