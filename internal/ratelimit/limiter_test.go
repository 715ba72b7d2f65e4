package ratelimit

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"topicgate/internal/policy"
)

func TestNew_SelectsImplementation(t *testing.T) {
	tests := []struct {
		name    string
		rate    policy.PublishRate
		precise bool
		want    Kind
	}{
		{"both zero", policy.PublishRate{}, true, KindDisabled},
		{"both negative", policy.PublishRate{MessagesPerSecond: -1, BytesPerSecond: -1}, false, KindDisabled},
		{"msgs only windowed", policy.PublishRate{MessagesPerSecond: 10}, false, KindWindowed},
		{"bytes only precise", policy.PublishRate{BytesPerSecond: 1024}, true, KindPrecise},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.rate, tt.precise, nil)
			defer l.Close()
			if l.Kind() != tt.want {
				t.Errorf("Kind = %s, want %s", l.Kind(), tt.want)
			}
		})
	}
}

func TestWindowedLimiter_ExceedAndReset(t *testing.T) {
	l := NewWindowedLimiter(policy.PublishRate{MessagesPerSecond: 10})

	l.IncrementPublishCount(10, 100)
	if err := l.CheckPublishRate(); err != nil {
		t.Fatalf("at the ceiling should pass, got %v", err)
	}

	l.IncrementPublishCount(1, 10)
	err := l.CheckPublishRate()
	if !errors.Is(err, ErrRateExceeded) {
		t.Fatalf("CheckPublishRate = %v, want ErrRateExceeded", err)
	}
	if !l.IsPublishRateExceeded() {
		t.Error("IsPublishRateExceeded = false after violation")
	}
	if l.TryAcquire(1, 0) {
		t.Error("TryAcquire admitted while exceeded")
	}

	if !l.ResetPublishCount() {
		t.Fatal("ResetPublishCount = false on enabled limiter")
	}
	if l.IsPublishRateExceeded() {
		t.Error("still exceeded after reset")
	}
	if !l.TryAcquire(5, 0) {
		t.Error("TryAcquire refused after reset")
	}
}

func TestWindowedLimiter_TryAcquireMarksExceeded(t *testing.T) {
	l := NewWindowedLimiter(policy.PublishRate{BytesPerSecond: 100})

	if !l.TryAcquire(1, 500) {
		t.Fatal("a fresh window should take its first batch")
	}
	l.IncrementPublishCount(1, 80)
	if l.TryAcquire(1, 30) {
		t.Fatal("batch past the ceiling admitted")
	}
	if !l.IsPublishRateExceeded() {
		t.Error("refusal should mark the window exceeded")
	}
}

func TestWindowedLimiter_DisabledNeverResets(t *testing.T) {
	l := NewWindowedLimiter(policy.PublishRate{})
	l.IncrementPublishCount(1000, 1000)
	if err := l.CheckPublishRate(); err != nil {
		t.Errorf("disabled limiter rejected: %v", err)
	}
	if l.ResetPublishCount() {
		t.Error("ResetPublishCount = true on disabled limiter")
	}
}

func TestPreciseLimiter_RejectsAndResumes(t *testing.T) {
	var resumed atomic.Int32
	done := make(chan struct{}, 1)
	l := NewPreciseLimiter(policy.PublishRate{MessagesPerSecond: 10}, func() {
		resumed.Add(1)
		done <- struct{}{}
	})
	defer l.Close()

	for i := 0; i < 10; i++ {
		if !l.TryAcquire(1, 0) {
			t.Fatalf("acquire %d refused within burst", i)
		}
	}
	if l.TryAcquire(1, 0) {
		t.Fatal("acquire past burst admitted")
	}
	if !l.IsPublishRateExceeded() {
		t.Error("IsPublishRateExceeded = false after refusal")
	}
	if err := l.CheckPublishRate(); !errors.Is(err, ErrRateExceeded) {
		t.Errorf("CheckPublishRate = %v, want ErrRateExceeded", err)
	}
	if l.ResetPublishCount() {
		t.Error("a precise limiter has no window to reset")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("resume callback never fired")
	}
	if l.IsPublishRateExceeded() {
		t.Error("still exceeded after resume")
	}
	if resumed.Load() != 1 {
		t.Errorf("resumed %d times, want 1", resumed.Load())
	}
}

func TestPreciseLimiter_OversizedBatchPassesOnFullBucket(t *testing.T) {
	l := NewPreciseLimiter(policy.PublishRate{BytesPerSecond: 100}, nil)
	defer l.Close()

	if !l.TryAcquire(1, 10_000) {
		t.Error("oversized batch should be charged one full bucket and pass")
	}
	if l.TryAcquire(1, 1) {
		t.Error("bucket should be empty after the oversized batch")
	}
}

func TestPreciseLimiter_CloseStopsResume(t *testing.T) {
	var resumed atomic.Bool
	l := NewPreciseLimiter(policy.PublishRate{MessagesPerSecond: 1}, func() { resumed.Store(true) })
	l.TryAcquire(1, 0)
	l.TryAcquire(1, 0)
	l.Close()

	time.Sleep(1200 * time.Millisecond)
	if resumed.Load() {
		t.Error("closed limiter fired resume")
	}
}
