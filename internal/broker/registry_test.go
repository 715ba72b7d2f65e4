package broker

import (
	"sync"
	"testing"
)

func TestProducerRegistry(t *testing.T) {
	var r ProducerRegistry
	cnx := &fakeConn{addr: "10.0.0.1:6650"}

	a := NewProducer(ProducerConfig{Name: "a", Connection: cnx})
	b := NewProducer(ProducerConfig{Name: "b", Connection: cnx})

	if _, loaded := r.PutIfAbsent(b); loaded {
		t.Fatal("PutIfAbsent(b) reported existing")
	}
	if _, loaded := r.PutIfAbsent(a); loaded {
		t.Fatal("PutIfAbsent(a) reported existing")
	}

	dup := NewProducer(ProducerConfig{Name: "a"})
	existing, loaded := r.PutIfAbsent(dup)
	if !loaded || existing != a {
		t.Fatalf("PutIfAbsent(dup) = %p, %v; want a, true", existing, loaded)
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	if n := r.CountAddress("10.0.0.1:6650"); n != 2 {
		t.Errorf("CountAddress = %d, want 2", n)
	}

	list := r.List()
	if len(list) != 2 || list[0] != a || list[1] != b {
		t.Errorf("List not sorted by name")
	}

	// Removing a different handle with the same name does nothing.
	if r.Remove(dup) {
		t.Error("Remove(dup) = true")
	}
	if !r.Replace(a, dup) {
		t.Fatal("Replace(a, dup) = false")
	}
	if r.Replace(a, dup) {
		t.Error("second Replace(a, dup) = true")
	}
	if got, _ := r.Get("a"); got != dup {
		t.Error("Get(a) does not return the replacement")
	}
	if !r.Remove(dup) || r.Len() != 1 {
		t.Errorf("Remove(dup): Len = %d, want 1", r.Len())
	}
}

func TestUsageCounter(t *testing.T) {
	var c UsageCounter

	if got := c.Decrement(); got != 0 {
		t.Errorf("Decrement on zero = %d, want 0", got)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Increment()
		}()
	}
	wg.Wait()
	if got := c.Current(); got != 100 {
		t.Fatalf("Current = %d, want 100", got)
	}

	for i := 0; i < 150; i++ {
		c.Decrement()
	}
	if got := c.Current(); got != 0 {
		t.Errorf("Current after over-decrement = %d, want 0", got)
	}
}

func TestGenerateProducerName(t *testing.T) {
	a := GenerateProducerName("standalone")
	b := GenerateProducerName("standalone")
	if a == b {
		t.Fatal("generated names collide")
	}
	if len(a) <= len("standalone-") || a[:len("standalone-")] != "standalone-" {
		t.Errorf("name %q lacks prefix", a)
	}

	p := NewProducer(ProducerConfig{NamePrefix: "standalone"})
	if p.IsUserProvidedName() {
		t.Error("generated name reported as user provided")
	}
	if q := NewProducer(ProducerConfig{Name: "mine"}); !q.IsUserProvidedName() {
		t.Error("client name reported as generated")
	}
}

func TestParseAccessMode(t *testing.T) {
	tests := []struct {
		in      string
		want    AccessMode
		wantErr bool
	}{
		{"", AccessShared, false},
		{"Shared", AccessShared, false},
		{"exclusive", AccessExclusive, false},
		{"WaitForExclusive", AccessWaitForExclusive, false},
		{"wait_for_exclusive", AccessWaitForExclusive, false},
		{"exclusive-ish", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseAccessMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAccessMode(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseAccessMode(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
