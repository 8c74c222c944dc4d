package incident

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Store persists incident snapshots and generated postmortems to an
// embedded key-value store, so a control plane restart doesn't lose
// in-flight correlation state or already-written postmortems.
type Store struct {
	db *badger.DB
}

// OpenStore opens (creating if absent) a badger database at path for
// incident/postmortem persistence.
func OpenStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open incident store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemoryStore opens a Store backed by an in-memory badger instance,
// for tests and short-lived tooling that don't need durability.
func OpenInMemoryStore() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory incident store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func incidentKey(id string) []byte   { return []byte("incident:" + id) }
func postmortemKey(id string) []byte { return []byte("postmortem:" + id) }

// SaveIncident persists a snapshot of inc, overwriting any prior snapshot
// under the same ID.
func (s *Store) SaveIncident(snap Incident) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal incident %s: %w", snap.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(incidentKey(snap.ID), payload)
	})
}

// LoadIncident retrieves a previously saved incident snapshot by ID.
func (s *Store) LoadIncident(id string) (Incident, error) {
	var snap Incident
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(incidentKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return Incident{}, fmt.Errorf("load incident %s: %w", id, err)
	}
	return snap, nil
}

// ListIncidents returns every persisted incident snapshot, in no
// particular order.
func (s *Store) ListIncidents() ([]Incident, error) {
	var out []Incident
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("incident:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var snap Incident
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			}); err != nil {
				return err
			}
			out = append(out, snap)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return out, nil
}

// SavePostmortem persists a generated postmortem, overwriting any prior
// postmortem for the same incident.
func (s *Store) SavePostmortem(pm Postmortem) error {
	payload, err := json.Marshal(pm)
	if err != nil {
		return fmt.Errorf("marshal postmortem %s: %w", pm.IncidentID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(postmortemKey(pm.IncidentID), payload)
	})
}

// LoadPostmortem retrieves a previously saved postmortem by incident ID.
func (s *Store) LoadPostmortem(incidentID string) (Postmortem, error) {
	var pm Postmortem
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(postmortemKey(incidentID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &pm)
		})
	})
	if err != nil {
		return Postmortem{}, fmt.Errorf("load postmortem %s: %w", incidentID, err)
	}
	return pm, nil
}
