package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/compactor/pkg/types"
)

var (
	// Bucket names
	bucketNodes       = []byte("nodes")
	bucketRegions     = []byte("regions")
	bucketCompactions = []byte("compactions")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the catalog file at path
func NewBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketNodes, bucketRegions, bucketCompactions} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Backup writes a consistent snapshot of the database to w
func (s *BoltStore) Backup(w io.Writer) (int64, error) {
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		n, err = tx.WriteTo(w)
		return err
	})
	return n, err
}

// Node operations
func (s *BoltStore) PutNode(node *Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketNodes), []byte(node.ID), node)
	})
}

func (s *BoltStore) GetNode(id types.NodeID) (*Node, error) {
	var node Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(bucketNodes), []byte(id), &node, "node")
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*Node, error) {
	var nodes []*Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var node Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) DeleteNode(id types.NodeID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Delete([]byte(id))
	})
}

// Region operations
func (s *BoltStore) PutRegion(region *Region) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketRegions), []byte(region.ID), region)
	})
}

func (s *BoltStore) GetRegion(id types.RegionID) (*Region, error) {
	var region Region
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(bucketRegions), []byte(id), &region, "region")
	})
	if err != nil {
		return nil, err
	}
	return &region, nil
}

// ListRegions returns every region ordered by region name
func (s *BoltStore) ListRegions() ([]*Region, error) {
	var regions []*Region
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRegions).ForEach(func(k, v []byte) error {
			var region Region
			if err := json.Unmarshal(v, &region); err != nil {
				return err
			}
			regions = append(regions, &region)
			return nil
		})
	})
	return regions, err
}

func (s *BoltStore) DeleteRegion(id types.RegionID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRegions).Delete([]byte(id))
	})
}

// ListCompactions returns the compaction history, oldest first
func (s *BoltStore) ListCompactions() ([]*Compaction, error) {
	var history []*Compaction
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCompactions).ForEach(func(k, v []byte) error {
			var c Compaction
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			history = append(history, &c)
			return nil
		})
	})
	return history, err
}

// appendCompaction records a new history entry inside tx
func appendCompaction(tx *bolt.Tx, c *Compaction) error {
	b := tx.Bucket(bucketCompactions)
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	c.Seq = seq
	return put(b, seqKey(seq), c)
}

// settleCompaction stamps the latest open history entry of region
func settleCompaction(tx *bolt.Tx, region *Region) error {
	b := tx.Bucket(bucketCompactions)
	cur := b.Cursor()
	for k, v := cur.Last(); k != nil; k, v = cur.Prev() {
		var c Compaction
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}
		if c.Region != region.ID {
			continue
		}
		if !c.SettledAt.IsZero() {
			return nil
		}
		c.SettledAt = region.CompactingUntil
		return put(b, k, &c)
	}
	return nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func put(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func get(b *bolt.Bucket, key []byte, v any, kind string) error {
	data := b.Get(key)
	if data == nil {
		return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
	}
	return json.Unmarshal(data, v)
}
