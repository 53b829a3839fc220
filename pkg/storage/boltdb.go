package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketFacts = []byte("facts")
	bucketRuns  = []byte("runs")
)

// RunRecord describes one completed playbook run
type RunRecord struct {
	ID         string
	Playbook   string
	Status     string
	StartedAt  time.Time
	Duration   time.Duration
	HostIDs    []string
}

// FactStore persists the structured fact cache produced by playbook runs,
// keyed by host, plus a log of run records.
type FactStore struct {
	db *bolt.DB
}

// NewFactStore opens (or creates) a fact store in dataDir
func NewFactStore(dataDir string) (*FactStore, error) {
	dbPath := filepath.Join(dataDir, "ainur.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketFacts, bucketRuns} {
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

	return &FactStore{db: db}, nil
}

// Close closes the database
func (s *FactStore) Close() error {
	return s.db.Close()
}

// PutFacts stores the fact map gathered for a host, replacing any previous one
func (s *FactStore) PutFacts(hostID string, facts map[string]any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFacts)
		data, err := json.Marshal(facts)
		if err != nil {
			return err
		}
		return b.Put([]byte(hostID), data)
	})
}

// Facts returns the cached fact map for a host, or nil if none is cached
func (s *FactStore) Facts(hostID string) (map[string]any, error) {
	var facts map[string]any
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFacts)
		data := b.Get([]byte(hostID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &facts)
	})
	if err != nil {
		return nil, err
	}
	return facts, nil
}

// HostIDs returns the IDs of all hosts with cached facts
func (s *FactStore) HostIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFacts)
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// RecordRun appends a playbook run record
func (s *FactStore) RecordRun(rec RunRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.ID), data)
	})
}

// Runs returns all recorded playbook runs
func (s *FactStore) Runs() ([]RunRecord, error) {
	var runs []RunRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		return b.ForEach(func(_, v []byte) error {
			var rec RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			runs = append(runs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}
