package broker

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

var epochBucket = []byte("topic_epochs")

// BoltEpochStore keeps epochs in a bolt database, one key per topic with
// the epoch as a big-endian uint64. Increments read and write in a single
// update transaction, so concurrent increments never hand out the same
// epoch twice.
type BoltEpochStore struct {
	db *bolt.DB
}

// OpenBoltEpochStore opens (or creates) the database at path.
func OpenBoltEpochStore(path string) (*BoltEpochStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create epoch store directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open epoch store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(epochBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create epoch bucket: %w", err)
	}
	return &BoltEpochStore{db: db}, nil
}

func encodeEpoch(e uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, e)
	return buf
}

func decodeEpoch(b []byte) (uint64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}

func (s *BoltEpochStore) LoadEpoch(ctx context.Context, topic string) (uint64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	var (
		epoch uint64
		ok    bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		epoch, ok = decodeEpoch(tx.Bucket(epochBucket).Get([]byte(topic)))
		return nil
	})
	return epoch, ok, err
}

func (s *BoltEpochStore) SetEpoch(ctx context.Context, topic string, epoch uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(epochBucket).Put([]byte(topic), encodeEpoch(epoch))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store epoch for %s: %w", topic, err)
	}
	return epoch, nil
}

func (s *BoltEpochStore) IncrementEpoch(ctx context.Context, topic string, current *uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var next uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(epochBucket)
		stored, ok := decodeEpoch(b.Get([]byte(topic)))
		next = nextEpoch(current, stored, ok)
		return b.Put([]byte(topic), encodeEpoch(next))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment epoch for %s: %w", topic, err)
	}
	return next, nil
}

func (s *BoltEpochStore) DeleteEpoch(ctx context.Context, topic string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(epochBucket).Delete([]byte(topic))
	})
}

func (s *BoltEpochStore) Close() error {
	return s.db.Close()
}
