// =============================================================================
// ADMISSION CONTROLLER - PRODUCER ACCESS MODES AND EPOCH FENCING
// =============================================================================
//
// WHAT THIS FILE DOES:
// Decides whether a producer may attach to a topic given the access modes of
// the producers already there, and assigns the topic epoch that fences out
// stale exclusive producers.
//
// STATE:
//   exclusive  {held, holder}   one atomically swapped record
//   epoch      *uint64          nil until the first exclusive grant
//   waiting    FIFO             WaitForExclusive producers, served in order
//
// DECISIONS (taken under the topic write lock):
//
//   Shared            exclusive held or anyone queued → ProducerBusy
//                     otherwise admitted with the current epoch
//
//   Exclusive         exclusive held or anyone queued → ProducerFenced
//                     any producer registered         → ProducerFenced
//                     carried epoch < current         → ProducerFenced
//                     otherwise grant, then assign epoch
//
//   WaitForExclusive  exclusive held, anyone registered or queued → queue
//                     otherwise same path as Exclusive
//
// EPOCH ASSIGNMENT (outside the lock):
//
//   grant ──► store.SetEpoch(carried) or store.IncrementEpoch(current)
//               │
//               ├── ok   ──► epoch becomes current, producer registered
//               │            under the lock, caller gets the epoch
//               └── fail ──► grant rolled back, next waiter promoted,
//                            caller gets the store error
//
// Registration always happens in the same locked section as the final
// decision, so no other admission can interleave between the two.
//
// RELEASE:
//   When the holder leaves, or the last producer leaves while producers
//   wait, the head of the queue is granted and its epoch assigned. Waiters
//   are failed with the teardown error when the topic goes away.
//
// =============================================================================

package broker

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// exclusiveState is never mutated; a change stores a new record.
type exclusiveState struct {
	held   bool
	holder string
}

var noExclusive = &exclusiveState{}

type admissionResult struct {
	epoch *uint64
	err   error
}

type waitingProducer struct {
	producer *Producer
	register RegisterFunc
	result   chan admissionResult // buffered, receives exactly one result
	elem     *list.Element        // nil once dequeued; guarded by the topic lock
}

// AdmissionController runs the access mode state machine of one topic.
type AdmissionController struct {
	topic     string
	mu        *sync.RWMutex
	producers *ProducerRegistry
	store     EpochStore
	logger    *slog.Logger

	exclusive atomic.Pointer[exclusiveState]
	epoch     atomic.Pointer[uint64]

	waiting  *list.List // guarded by mu
	queued   atomic.Int32
	closeErr error // guarded by mu

	// ctx bounds epoch assignments started on behalf of promoted waiters.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewAdmissionController creates a controller sharing the topic's write
// lock and producer registry. initial is the epoch loaded from the store.
func NewAdmissionController(topic string, mu *sync.RWMutex, producers *ProducerRegistry,
	store EpochStore, initial *uint64, logger *slog.Logger) *AdmissionController {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &AdmissionController{
		topic:     topic,
		mu:        mu,
		producers: producers,
		store:     store,
		logger:    logger.With("component", "admission"),
		waiting:   list.New(),
		ctx:       ctx,
		cancel:    cancel,
	}
	a.exclusive.Store(noExclusive)
	a.epoch.Store(copyEpoch(initial))
	return a
}

func copyEpoch(e *uint64) *uint64 {
	if e == nil {
		return nil
	}
	v := *e
	return &v
}

// RegisterFunc inserts an admitted producer into the topic. It runs under
// the topic write lock with the epoch the producer is admitted with.
type RegisterFunc func(epoch *uint64) error

// Admit runs the admission decision for p, the epoch assignment for
// exclusive modes, and finally register. It returns the topic epoch p was
// admitted with, nil when the topic has none yet.
//
// A WaitForExclusive producer that must queue calls onQueued once and then
// blocks until it is promoted or the topic is torn down. Cancelling ctx
// withdraws a producer that is still queued; once promoted, the outcome of
// the promotion is returned.
func (a *AdmissionController) Admit(ctx context.Context, p *Producer, register RegisterFunc, onQueued func()) (*uint64, error) {
	a.mu.Lock()
	if a.closeErr != nil {
		err := a.closeErr
		a.mu.Unlock()
		return nil, err
	}

	switch p.AccessMode() {
	case AccessShared:
		defer a.mu.Unlock()
		if ex := a.exclusive.Load(); ex.held {
			return nil, fmt.Errorf("%w: topic has an exclusive producer %q", ErrProducerBusy, ex.holder)
		}
		if a.waiting.Len() > 0 {
			return nil, fmt.Errorf("%w: %d producers waiting for exclusive access", ErrProducerBusy, a.waiting.Len())
		}
		epoch := copyEpoch(a.epoch.Load())
		if err := register(epoch); err != nil {
			return nil, err
		}
		return epoch, nil

	case AccessExclusive:
		if ex := a.exclusive.Load(); ex.held || a.waiting.Len() > 0 {
			a.mu.Unlock()
			return nil, fmt.Errorf("%w: topic has an existing exclusive producer", ErrProducerFenced)
		}
		if n := a.producers.Len(); n > 0 {
			a.mu.Unlock()
			return nil, fmt.Errorf("%w: topic has %d existing shared producers", ErrProducerFenced, n)
		}
		if err := a.checkFencedLocked(p); err != nil {
			a.mu.Unlock()
			return nil, err
		}
		a.grantLocked(p)
		a.mu.Unlock()
		return a.assign(ctx, p, register)

	case AccessWaitForExclusive:
		if err := a.checkFencedLocked(p); err != nil {
			a.mu.Unlock()
			return nil, err
		}
		if a.exclusive.Load().held || a.producers.Len() > 0 || a.waiting.Len() > 0 {
			w := a.enqueueLocked(p, register)
			position := a.waiting.Len()
			a.mu.Unlock()

			a.logger.Info("producer queued for exclusive access",
				"topic", a.topic, "producer", p.Name(), "position", position)
			if onQueued != nil {
				onQueued()
			}
			return a.await(ctx, w)
		}
		a.grantLocked(p)
		a.mu.Unlock()
		return a.assign(ctx, p, register)

	default:
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: unsupported access mode %s", ErrInvalidRequest, p.AccessMode())
	}
}

func (a *AdmissionController) checkFencedLocked(p *Producer) error {
	carried, ok := p.TopicEpoch()
	cur := a.epoch.Load()
	if ok && cur != nil && carried < *cur {
		return fmt.Errorf("%w: topic epoch %d is newer than producer epoch %d", ErrProducerFenced, *cur, carried)
	}
	return nil
}

func (a *AdmissionController) grantLocked(p *Producer) {
	a.exclusive.Store(&exclusiveState{held: true, holder: p.Name()})
}

// assign persists the epoch of a freshly granted producer and registers it.
// On failure the grant is rolled back before the error is returned.
func (a *AdmissionController) assign(ctx context.Context, p *Producer, register RegisterFunc) (*uint64, error) {
	var (
		epoch uint64
		err   error
	)
	if carried, ok := p.TopicEpoch(); ok {
		epoch, err = a.store.SetEpoch(ctx, a.topic, carried)
	} else {
		epoch, err = a.store.IncrementEpoch(ctx, a.topic, copyEpoch(a.epoch.Load()))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("failed to assign topic epoch: %w", err)
	} else if a.closeErr != nil {
		err = a.closeErr
	}
	if err != nil {
		a.logger.Warn("exclusive access rolled back",
			"topic", a.topic, "producer", p.Name(), "error", err)
		a.releaseLocked(p.Name())
		return nil, err
	}

	// The store has moved on, so the current epoch follows even if
	// registration fails below.
	if cur := a.epoch.Load(); cur == nil || epoch > *cur {
		a.epoch.Store(&epoch)
	}
	if err := register(&epoch); err != nil {
		a.releaseLocked(p.Name())
		return nil, err
	}
	a.logger.Info("exclusive access granted",
		"topic", a.topic, "producer", p.Name(), "epoch", epoch)
	return &epoch, nil
}

func (a *AdmissionController) enqueueLocked(p *Producer, register RegisterFunc) *waitingProducer {
	w := &waitingProducer{
		producer: p,
		register: register,
		result:   make(chan admissionResult, 1),
	}
	w.elem = a.waiting.PushBack(w)
	a.queued.Add(1)
	return w
}

func (a *AdmissionController) dequeueLocked(e *list.Element) *waitingProducer {
	w := a.waiting.Remove(e).(*waitingProducer)
	w.elem = nil
	a.queued.Add(-1)
	return w
}

// await blocks a queued producer until its result arrives or ctx is done.
func (a *AdmissionController) await(ctx context.Context, w *waitingProducer) (*uint64, error) {
	select {
	case res := <-w.result:
		return res.epoch, res.err
	case <-ctx.Done():
	}

	a.mu.Lock()
	if w.elem != nil {
		a.dequeueLocked(w.elem)
		a.promoteLocked()
		a.mu.Unlock()
		return nil, ctx.Err()
	}
	a.mu.Unlock()

	// Already promoted or failed; its result is on the way.
	res := <-w.result
	return res.epoch, res.err
}

// Release is called after p left the registry. It clears exclusivity if p
// held it and promotes the next waiter when the topic is free.
func (a *AdmissionController) Release(p *Producer) {
	if !a.exclusive.Load().held && a.queued.Load() == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releaseLocked(p.Name())
}

func (a *AdmissionController) releaseLocked(name string) {
	if ex := a.exclusive.Load(); ex.held {
		if ex.holder != name {
			return
		}
		a.exclusive.Store(noExclusive)
	}
	a.promoteLocked()
}

// promoteLocked grants exclusivity to the head of the queue once nothing
// holds it and no producer is registered. Waiters fenced while queued are
// failed and skipped.
func (a *AdmissionController) promoteLocked() {
	for a.closeErr == nil && !a.exclusive.Load().held && a.producers.Len() == 0 {
		front := a.waiting.Front()
		if front == nil {
			return
		}
		w := a.dequeueLocked(front)
		if err := a.checkFencedLocked(w.producer); err != nil {
			w.result <- admissionResult{err: err}
			continue
		}
		a.grantLocked(w.producer)
		a.logger.Info("promoting waiting producer",
			"topic", a.topic, "producer", w.producer.Name(), "remaining", a.waiting.Len())
		go func() {
			epoch, err := a.assign(a.ctx, w.producer, w.register)
			w.result <- admissionResult{epoch: epoch, err: err}
		}()
		return
	}
}

// FailWaiting tears the controller down: every queued producer receives
// err, exclusive access is cleared, and later Admit calls fail with err.
// It returns how many waiters were failed.
func (a *AdmissionController) FailWaiting(err error) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closeErr != nil {
		return 0
	}
	a.closeErr = err
	a.cancel()
	a.exclusive.Store(noExclusive)

	n := 0
	for e := a.waiting.Front(); e != nil; e = a.waiting.Front() {
		w := a.dequeueLocked(e)
		w.result <- admissionResult{err: err}
		n++
	}
	return n
}

// Exclusive returns the holder of exclusive access, if any.
func (a *AdmissionController) Exclusive() (string, bool) {
	ex := a.exclusive.Load()
	return ex.holder, ex.held
}

// Epoch returns the current topic epoch.
func (a *AdmissionController) Epoch() (uint64, bool) {
	e := a.epoch.Load()
	if e == nil {
		return 0, false
	}
	return *e, true
}

// Waiting returns the number of queued producers.
func (a *AdmissionController) Waiting() int {
	return int(a.queued.Load())
}

// WaitingNames returns queued producer names in queue order.
func (a *AdmissionController) WaitingNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, a.waiting.Len())
	for e := a.waiting.Front(); e != nil; e = e.Next() {
		names = append(names, e.Value.(*waitingProducer).producer.Name())
	}
	return names
}
