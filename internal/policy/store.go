package policy

import (
	"encoding/json"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	cgerrors "github.com/callguardhq/callguard/internal/errors"
)

var policyBucket = []byte("policies")

// Store persists policies in a local bbolt database so a supervisor can
// reload them mid-call without touching the filesystem layout.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if needed) the policy database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, cgerrors.Wrap(cgerrors.ErrorTypeStorage, cgerrors.SeverityHigh, "failed to create policy store directory", err)
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.ErrorTypeStorage, cgerrors.SeverityHigh, "failed to open policy store", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(policyBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, cgerrors.Wrap(cgerrors.ErrorTypeStorage, cgerrors.SeverityHigh, "failed to init policy bucket", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts a policy keyed by its ID (falling back to Name when the ID
// is empty).
func (s *Store) Save(p *Policy) error {
	key := p.ID
	if key == "" {
		key = p.Name
	}
	if key == "" {
		return cgerrors.New(cgerrors.ErrorTypeStorage, cgerrors.SeverityMedium, "policy has neither id nor name")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return cgerrors.Wrap(cgerrors.ErrorTypeStorage, cgerrors.SeverityMedium, "failed to encode policy", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(policyBucket).Put([]byte(key), raw)
	})
}

// Load fetches a policy by id.
func (s *Store) Load(id string) (*Policy, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(policyBucket).Get([]byte(id))
		if v == nil {
			return cgerrors.New(cgerrors.ErrorTypeStorage, cgerrors.SeverityLow, "policy not found: "+id)
		}
		raw = append(raw, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, cgerrors.Wrap(cgerrors.ErrorTypeStorage, cgerrors.SeverityMedium, "failed to decode policy "+id, err)
	}
	return &p, nil
}

// List returns every stored policy, ordered by key.
func (s *Store) List() ([]*Policy, error) {
	var out []*Policy
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(policyBucket).ForEach(func(_, v []byte) error {
			var p Policy
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, &p)
			return nil
		})
	})
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.ErrorTypeStorage, cgerrors.SeverityMedium, "failed to list policies", err)
	}
	return out, nil
}

// Delete removes a policy. Deleting a missing id is a no-op.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(policyBucket).Delete([]byte(id))
	})
}
