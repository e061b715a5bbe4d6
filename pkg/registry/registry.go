// Package registry persists partition bookkeeping (oid -> config,
// epoch, attached pids) across daemon restarts. It is intentionally
// not the object store: the object store's superblock-ring/B-tree
// layout is hand-built elsewhere (pkg/store) to match an exact on-disk
// format, while the registry is a small embedded BoltDB database that
// only keeps this bookkeeping.
package registry

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/sls-project/sls/pkg/types"
)

var bucketPartitions = []byte("partitions")

// Registry is a BoltDB-backed store of Partition records, keyed by oid.
type Registry struct {
	db *bolt.DB
}

// Open opens (creating if absent) the registry database under dataDir.
func Open(dataDir string) (*Registry, error) {
	dbPath := filepath.Join(dataDir, "sls-registry.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPartitions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Registry{db: db}, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

func oidKey(oid types.OID) []byte {
	return []byte(fmt.Sprintf("%020d", uint64(oid)))
}

// Put creates or replaces the partition record for oid.
func (r *Registry) Put(p *types.Partition) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPartitions)
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put(oidKey(p.OID), data)
	})
}

// Get returns the partition record for oid.
func (r *Registry) Get(oid types.OID) (*types.Partition, error) {
	var p types.Partition
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPartitions)
		data := b.Get(oidKey(oid))
		if data == nil {
			return fmt.Errorf("partition not found: %d", oid)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns every partition record in oid order.
func (r *Registry) List() ([]types.Partition, error) {
	var out []types.Partition
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPartitions)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var p types.Partition
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// Delete removes the partition record for oid.
func (r *Registry) Delete(oid types.OID) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPartitions)
		return b.Delete(oidKey(oid))
	})
}
