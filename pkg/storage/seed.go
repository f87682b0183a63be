package storage

import (
	"errors"
	"fmt"
	"os"

	bolt "go.etcd.io/bbolt"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/compactor/pkg/types"
)

// Seed is a cluster description loaded into the catalog
type Seed struct {
	Nodes   []Node   `yaml:"nodes"`
	Regions []Region `yaml:"regions"`
}

// LoadSeed reads a YAML seed file
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates a YAML seed. Tables without a namespace
// are placed in the default namespace.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}

	nodes := make(map[types.NodeID]bool, len(seed.Nodes))
	for _, n := range seed.Nodes {
		if n.ID == "" {
			return nil, errors.New("seed node without id")
		}
		nodes[n.ID] = true
	}

	for i := range seed.Regions {
		r := &seed.Regions[i]
		switch {
		case r.ID == "":
			return nil, fmt.Errorf("seed region %d has no id", i)
		case r.Table == "":
			return nil, fmt.Errorf("seed region %s has no table", r.ID)
		case !nodes[r.Node]:
			return nil, fmt.Errorf("seed region %s is on unknown node %q", r.ID, r.Node)
		case r.Locality < 0 || r.Locality > 1:
			return nil, fmt.Errorf("seed region %s locality %.2f is outside [0, 1]", r.ID, r.Locality)
		}
		r.Table = types.QualifiedTableName(string(r.Table))
	}
	return &seed, nil
}

// Import writes every node and region of seed in one transaction,
// replacing records with the same id
func (c *Catalog) Import(seed *Seed) error {
	now := c.now()
	err := c.db.Update(func(tx *bolt.Tx) error {
		for i := range seed.Nodes {
			n := seed.Nodes[i]
			n.UpdatedAt = now
			if err := put(tx.Bucket(bucketNodes), []byte(n.ID), &n); err != nil {
				return err
			}
		}
		for i := range seed.Regions {
			r := seed.Regions[i]
			if err := put(tx.Bucket(bucketRegions), []byte(r.ID), &r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to import seed: %w", err)
	}

	c.logger.Info().Int("nodes", len(seed.Nodes)).Int("regions", len(seed.Regions)).
		Dur("compaction_duration", c.duration).Msg("Imported cluster seed")
	return nil
}
