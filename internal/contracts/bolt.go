package contracts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	bolt "go.etcd.io/bbolt"

	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
)

// SchemaVersion is the version of the persisted entry layout. Entries with
// any other version are treated as corrupt.
const SchemaVersion = 1

// Bucket names
var (
	bucketContractTypes = []byte("contract_types")
	bucketSources       = []byte("sources")
)

// envelope is the on-disk form of one contract type.
type envelope struct {
	Schema       int             `json:"schema"`
	SourceHash   string          `json:"source_hash"`
	Checksum     string          `json:"checksum"`
	ContractType json.RawMessage `json:"contract_type"`
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore opens (or creates) the cache database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open contract cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketContractTypes, bucketSources} {
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

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Get loads and verifies the entry stored under key.
func (s *BoltStore) Get(_ context.Context, key string) (*chain.ContractType, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketContractTypes).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// Values are only valid inside the transaction.
		data = bytes.Clone(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return openEnvelope(key, data)
}

func openEnvelope(key string, data []byte) (*chain.ContractType, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &CacheCorruptionError{Key: key, Reason: "undecodable envelope", Err: err}
	}
	if env.Schema != SchemaVersion {
		return nil, &CacheCorruptionError{Key: key, Reason: fmt.Sprintf("schema version %d, want %d", env.Schema, SchemaVersion)}
	}
	if env.SourceHash != key {
		return nil, &CacheCorruptionError{Key: key, Reason: fmt.Sprintf("entry belongs to %s", env.SourceHash)}
	}
	if got := checksum(env.ContractType); got != env.Checksum {
		return nil, &CacheCorruptionError{Key: key, Reason: "checksum mismatch"}
	}

	var ct chain.ContractType
	if err := json.Unmarshal(env.ContractType, &ct); err != nil {
		return nil, &CacheCorruptionError{Key: key, Reason: "undecodable contract type", Err: err}
	}
	if ct.Name == "" {
		return nil, &CacheCorruptionError{Key: key, Reason: "contract type has no name"}
	}
	return &ct, nil
}

// Put stores ct under key, replacing any existing entry.
func (s *BoltStore) Put(_ context.Context, key string, ct *chain.ContractType) error {
	body, err := json.Marshal(ct)
	if err != nil {
		return fmt.Errorf("failed to encode contract type: %w", err)
	}
	data, err := json.Marshal(envelope{
		Schema:       SchemaVersion,
		SourceHash:   key,
		Checksum:     checksum(body),
		ContractType: body,
	})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketContractTypes).Put([]byte(key), data); err != nil {
			return fmt.Errorf("failed to store contract type: %w", err)
		}
		return nil
	})
}

// Delete removes the entry under key. Deleting a missing key is not an error.
func (s *BoltStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContractTypes).Delete([]byte(key))
	})
}

// PutSource records rec, replacing the previous record for its path.
func (s *BoltStore) PutSource(_ context.Context, rec SourceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode source record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSources).Put([]byte(rec.Path), data)
	})
}

// Source returns the record for path.
func (s *BoltStore) Source(_ context.Context, path string) (SourceRecord, error) {
	var rec SourceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSources).Get([]byte(path))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

// Sources returns every record ordered by path. Undecodable records are
// skipped.
func (s *BoltStore) Sources(_ context.Context) ([]SourceRecord, error) {
	var out []SourceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSources).ForEach(func(_, v []byte) error {
			var rec SourceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// DeleteSource forgets path.
func (s *BoltStore) DeleteSource(_ context.Context, path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSources).Delete([]byte(path))
	})
}

func checksum(body []byte) string {
	return crypto.Keccak256Hash(body).Hex()
}

// IsNotFound reports whether err is a cache miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
