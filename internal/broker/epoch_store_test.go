package broker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

func epochStores(t *testing.T) map[string]EpochStore {
	t.Helper()
	bolt, err := OpenBoltEpochStore(filepath.Join(t.TempDir(), "epochs", "epochs.db"))
	if err != nil {
		t.Fatalf("OpenBoltEpochStore failed: %v", err)
	}
	t.Cleanup(func() { bolt.Close() })
	return map[string]EpochStore{
		"memory": NewMemoryEpochStore(),
		"bolt":   bolt,
	}
}

func TestEpochStore_Increment(t *testing.T) {
	const topic = "persistent://public/default/epochs"
	ctx := context.Background()

	for name, store := range epochStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := store.LoadEpoch(ctx, topic); err != nil || ok {
				t.Fatalf("LoadEpoch on empty store = ok=%v err=%v", ok, err)
			}

			e, err := store.IncrementEpoch(ctx, topic, nil)
			if err != nil || e != 1 {
				t.Fatalf("first IncrementEpoch = %d, %v; want 1", e, err)
			}

			cur := e
			e, err = store.IncrementEpoch(ctx, topic, &cur)
			if err != nil || e != 2 {
				t.Fatalf("second IncrementEpoch = %d, %v; want 2", e, err)
			}

			// A stale current value never hands out an epoch twice.
			stale := uint64(0)
			e, err = store.IncrementEpoch(ctx, topic, &stale)
			if err != nil || e != 3 {
				t.Fatalf("IncrementEpoch from stale value = %d, %v; want 3", e, err)
			}

			loaded, ok, err := store.LoadEpoch(ctx, topic)
			if err != nil || !ok || loaded != 3 {
				t.Fatalf("LoadEpoch = %d, %v, %v; want 3", loaded, ok, err)
			}
		})
	}
}

func TestEpochStore_SetAndDelete(t *testing.T) {
	const topic = "persistent://public/default/set"
	ctx := context.Background()

	for name, store := range epochStores(t) {
		t.Run(name, func(t *testing.T) {
			e, err := store.SetEpoch(ctx, topic, 42)
			if err != nil || e != 42 {
				t.Fatalf("SetEpoch = %d, %v; want 42", e, err)
			}
			if err := store.DeleteEpoch(ctx, topic); err != nil {
				t.Fatalf("DeleteEpoch failed: %v", err)
			}
			if _, ok, _ := store.LoadEpoch(ctx, topic); ok {
				t.Error("epoch still present after DeleteEpoch")
			}
			// Deleting twice is fine.
			if err := store.DeleteEpoch(ctx, topic); err != nil {
				t.Errorf("second DeleteEpoch failed: %v", err)
			}
		})
	}
}

func TestEpochStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, store := range epochStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.IncrementEpoch(ctx, "t", nil); !errors.Is(err, context.Canceled) {
				t.Errorf("IncrementEpoch err = %v, want context.Canceled", err)
			}
			if _, _, err := store.LoadEpoch(ctx, "t"); !errors.Is(err, context.Canceled) {
				t.Errorf("LoadEpoch err = %v, want context.Canceled", err)
			}
		})
	}
}

func TestEpochStore_ConcurrentIncrementsAreUnique(t *testing.T) {
	const workers = 16
	ctx := context.Background()

	for name, store := range epochStores(t) {
		t.Run(name, func(t *testing.T) {
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				seen = make(map[uint64]bool)
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					e, err := store.IncrementEpoch(ctx, "concurrent", nil)
					if err != nil {
						t.Errorf("IncrementEpoch failed: %v", err)
						return
					}
					mu.Lock()
					defer mu.Unlock()
					if seen[e] {
						t.Errorf("epoch %d handed out twice", e)
					}
					seen[e] = true
				}()
			}
			wg.Wait()
			if len(seen) != workers {
				t.Errorf("distinct epochs = %d, want %d", len(seen), workers)
			}
		})
	}
}

func TestBoltEpochStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "epochs.db")
	ctx := context.Background()

	store, err := OpenBoltEpochStore(path)
	if err != nil {
		t.Fatalf("OpenBoltEpochStore failed: %v", err)
	}
	if _, err := store.IncrementEpoch(ctx, "persistent://a/b/c", nil); err != nil {
		t.Fatalf("IncrementEpoch failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenBoltEpochStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	e, ok, err := reopened.LoadEpoch(ctx, "persistent://a/b/c")
	if err != nil || !ok || e != 1 {
		t.Fatalf("LoadEpoch after reopen = %d, %v, %v; want 1", e, ok, err)
	}
}

func TestNextEpoch(t *testing.T) {
	five := uint64(5)
	tests := []struct {
		name      string
		current   *uint64
		stored    uint64
		hasStored bool
		want      uint64
	}{
		{"fresh topic", nil, 0, false, 1},
		{"current only", &five, 0, false, 6},
		{"stored ahead of current", &five, 9, true, 10},
		{"stored behind current", &five, 2, true, 6},
		{"stored only", nil, 3, true, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextEpoch(tt.current, tt.stored, tt.hasStored); got != tt.want {
				t.Errorf("nextEpoch = %d, want %d", got, tt.want)
			}
		})
	}
}
