package broker

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
)

// ProducerRegistry maps producer names to live producers. Lookups, counts
// and iteration are lock-free; structural writes are made by the topic
// while it holds its write lock.
type ProducerRegistry struct {
	m     sync.Map // name -> *Producer
	count atomic.Int64
}

// PutIfAbsent registers p unless its name is taken, in which case the
// current holder is returned with loaded set.
func (r *ProducerRegistry) PutIfAbsent(p *Producer) (existing *Producer, loaded bool) {
	v, loaded := r.m.LoadOrStore(p.Name(), p)
	if loaded {
		return v.(*Producer), true
	}
	r.count.Add(1)
	return p, false
}

// Replace swaps old for p under the same name, only if old is still the
// registered producer.
func (r *ProducerRegistry) Replace(old, p *Producer) bool {
	return r.m.CompareAndSwap(p.Name(), old, p)
}

// Remove unregisters p only if p itself is registered under its name.
func (r *ProducerRegistry) Remove(p *Producer) bool {
	if !r.m.CompareAndDelete(p.Name(), p) {
		return false
	}
	r.count.Add(-1)
	return true
}

func (r *ProducerRegistry) Get(name string) (*Producer, bool) {
	v, ok := r.m.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*Producer), true
}

func (r *ProducerRegistry) Len() int {
	return int(r.count.Load())
}

// Range calls fn for each producer until fn returns false.
func (r *ProducerRegistry) Range(fn func(*Producer) bool) {
	r.m.Range(func(_, v any) bool {
		return fn(v.(*Producer))
	})
}

// CountAddress returns how many producers connect from addr.
func (r *ProducerRegistry) CountAddress(addr string) int {
	n := 0
	r.Range(func(p *Producer) bool {
		if p.ClientAddress() == addr {
			n++
		}
		return true
	})
	return n
}

// List returns the producers sorted by name.
func (r *ProducerRegistry) List() []*Producer {
	var out []*Producer
	r.Range(func(p *Producer) bool {
		out = append(out, p)
		return true
	})
	slices.SortFunc(out, func(a, b *Producer) int {
		return cmp.Compare(a.Name(), b.Name())
	})
	return out
}

// UsageCounter counts attached producers and consumers. It never goes
// below zero.
type UsageCounter struct {
	n atomic.Int64
}

func (c *UsageCounter) Increment() int64 {
	return c.n.Add(1)
}

func (c *UsageCounter) Decrement() int64 {
	for {
		cur := c.n.Load()
		if cur <= 0 {
			return 0
		}
		if c.n.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}

func (c *UsageCounter) Current() int64 {
	return c.n.Load()
}
