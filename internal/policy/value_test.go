package policy

import (
	"sync"
	"testing"
)

func TestValue_PrecedenceAcrossAllCombinations(t *testing.T) {
	// Each bit says whether a tier is set: 1=broker, 2=namespace, 4=topic.
	for mask := 0; mask < 8; mask++ {
		var v Value[int]
		if mask&1 != 0 {
			v.Set(TierBroker, 1)
		}
		if mask&2 != 0 {
			v.Set(TierNamespace, 2)
		}
		if mask&4 != 0 {
			v.Set(TierTopic, 3)
		}

		got, ok := v.Get()
		want, wantOK := 0, mask != 0
		switch {
		case mask&4 != 0:
			want = 3
		case mask&2 != 0:
			want = 2
		case mask&1 != 0:
			want = 1
		}
		if ok != wantOK || got != want {
			t.Errorf("mask %03b: Get() = (%d, %v), want (%d, %v)", mask, got, ok, want, wantOK)
		}
	}
}

func TestValue_ZeroIsNotUnset(t *testing.T) {
	var v Value[int]
	v.Set(TierBroker, 10)
	v.Set(TierTopic, 0)

	if got := v.GetOr(-1); got != 0 {
		t.Errorf("GetOr = %d, want explicit topic value 0", got)
	}
	if src, _ := v.Source(); src != TierTopic {
		t.Errorf("Source = %s, want topic", src)
	}
}

func TestValue_ClearFallsThrough(t *testing.T) {
	var v Value[string]
	v.Set(TierBroker, "b")
	v.Set(TierNamespace, "ns")
	v.Clear(TierNamespace)

	if got, _ := v.Get(); got != "b" {
		t.Errorf("Get = %q, want broker value", got)
	}

	v.Update(TierTopic, nil)
	if src, _ := v.Source(); src != TierBroker {
		t.Errorf("Source = %s, want broker", src)
	}
}

func TestValue_UpdateCopiesValue(t *testing.T) {
	var v Value[RetentionPolicy]
	rp := RetentionPolicy{RetentionTimeMinutes: 5}
	v.Update(TierTopic, &rp)
	rp.RetentionTimeMinutes = 99

	if got, _ := v.Get(); got.RetentionTimeMinutes != 5 {
		t.Errorf("stored value changed with caller copy: %d", got.RetentionTimeMinutes)
	}
}

func TestValue_ConcurrentTierWriters(t *testing.T) {
	var v Value[int]
	v.Set(TierBroker, 0)

	var wg sync.WaitGroup
	for _, tier := range []Tier{TierBroker, TierNamespace, TierTopic} {
		wg.Add(1)
		go func(tier Tier) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				v.Set(tier, int(tier)*10000+i)
				if i%3 == 0 && tier != TierBroker {
					v.Clear(tier)
				}
			}
		}(tier)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 3000; i++ {
			got, ok := v.Get()
			if !ok || got < 0 || got >= 30000 {
				t.Errorf("torn read: %d, %v", got, ok)
				return
			}
		}
	}()
	wg.Wait()
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		in      string
		want    Tier
		wantErr bool
	}{
		{"broker", TierBroker, false},
		{"Namespace", TierNamespace, false},
		{"ns", TierNamespace, false},
		{" topic ", TierTopic, false},
		{"cluster", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTier(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTier(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseTier(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
