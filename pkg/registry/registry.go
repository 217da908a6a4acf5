// Package registry is a local BoltDB-backed index: active service
// names (so a name collision can be rejected before a round-trip to
// the container engine) and a queryable mirror of structured audit
// records. It is never the source of truth for request progress — the
// manifest is (I1-I3) — this is purely an accelerator and a local
// query surface.
package registry

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketServiceNames = []byte("service_names")
	bucketAuditRecords = []byte("audit_records")
)

// Registry is a single node's local index.
type Registry struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the registry database under dataDir.
func Open(dataDir string) (*Registry, error) {
	dbPath := filepath.Join(dataDir, "vifinode.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketServiceNames, bucketAuditRecords} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Registry{db: db}, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error { return r.db.Close() }

// NameConflict reports whether a service name is already registered
// as active, without consulting the container engine.
func (r *Registry) NameConflict(name string) (bool, error) {
	var exists bool
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServiceNames)
		exists = b.Get([]byte(name)) != nil
		return nil
	})
	return exists, err
}

// RegisterName marks a service name as active.
func (r *Registry) RegisterName(name string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServiceNames).Put([]byte(name), []byte{1})
	})
}

// ReleaseName marks a service name inactive, typically after the
// engine has deleted the service.
func (r *Registry) ReleaseName(name string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServiceNames).Delete([]byte(name))
	})
}

// AuditRecord is the structured shape mirrored into the registry for
// local querying; it matches the record written to the per-request
// YAML audit log (pkg/audit).
type AuditRecord struct {
	Request   string `json:"request"`
	Domain    string `json:"domain"`
	Service   string `json:"service"`
	Iteration int    `json:"iteration"`
	Event     string `json:"event"`
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
}

func recordKey(rec AuditRecord, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s/%s/%020d", rec.Domain, rec.Request, seq))
}

// PutAuditRecord mirrors one structured audit record into the registry.
func (r *Registry) PutAuditRecord(rec AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuditRecords)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next audit sequence: %w", err)
		}
		return b.Put(recordKey(rec, seq), data)
	})
}

// AuditRecordsForRequest returns every mirrored record for one request,
// in insertion order.
func (r *Registry) AuditRecordsForRequest(domain, request string) ([]AuditRecord, error) {
	prefix := []byte(fmt.Sprintf("%s/%s/", domain, request))
	var records []AuditRecord
	err := r.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAuditRecords).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var rec AuditRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal audit record: %w", err)
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
