package broker

import (
	"context"
	"sync"
)

// EpochStore persists the producer fencing epoch of each topic.
//
// Persistent topics keep their epoch across restarts (BoltEpochStore);
// non-persistent topics only need it for the lifetime of the process
// (MemoryEpochStore). The admission controller calls the store outside the
// topic lock.
type EpochStore interface {
	// LoadEpoch returns the stored epoch, if the topic has one.
	LoadEpoch(ctx context.Context, topic string) (epoch uint64, ok bool, err error)

	// SetEpoch stores a caller-carried epoch and returns the epoch now
	// current.
	SetEpoch(ctx context.Context, topic string, epoch uint64) (uint64, error)

	// IncrementEpoch returns a new epoch one past current. A nil current
	// means the topic has no epoch yet; the first epoch is 1.
	IncrementEpoch(ctx context.Context, topic string, current *uint64) (uint64, error)

	// DeleteEpoch forgets the topic.
	DeleteEpoch(ctx context.Context, topic string) error

	Close() error
}

func nextEpoch(current *uint64, stored uint64, hasStored bool) uint64 {
	base := uint64(0)
	if current != nil {
		base = *current
	}
	if hasStored && stored > base {
		base = stored
	}
	return base + 1
}

// MemoryEpochStore keeps epochs in process memory.
type MemoryEpochStore struct {
	mu     sync.Mutex
	epochs map[string]uint64
}

func NewMemoryEpochStore() *MemoryEpochStore {
	return &MemoryEpochStore{epochs: make(map[string]uint64)}
}

func (s *MemoryEpochStore) LoadEpoch(ctx context.Context, topic string) (uint64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.epochs[topic]
	return e, ok, nil
}

func (s *MemoryEpochStore) SetEpoch(ctx context.Context, topic string, epoch uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epochs[topic] = epoch
	return epoch, nil
}

func (s *MemoryEpochStore) IncrementEpoch(ctx context.Context, topic string, current *uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.epochs[topic]
	e := nextEpoch(current, stored, ok)
	s.epochs[topic] = e
	return e, nil
}

func (s *MemoryEpochStore) DeleteEpoch(ctx context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.epochs, topic)
	return nil
}

func (s *MemoryEpochStore) Close() error { return nil }
