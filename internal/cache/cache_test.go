package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type report struct {
	Station string `json:"station"`
	Liters  string `json:"liters"`
}

func TestMemoryReportCacheRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryReportCache()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "k", report{Station: "s1", Liters: "12.5"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got report
	ok, err := c.Get(ctx, "k", &got)
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%t err=%v", ok, err)
	}
	if got.Liters != "12.5" {
		t.Fatalf("unexpected payload %+v", got)
	}

	now = now.Add(2 * time.Minute)
	ok, err = c.Get(ctx, "k", &got)
	if err != nil || ok {
		t.Fatalf("expected expiry, ok=%t err=%v", ok, err)
	}
}

func TestMemoryReportCacheRevision(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryReportCache()

	rev, _ := c.Revision(ctx, "s1")
	if rev != 0 {
		t.Fatalf("expected revision 0, got %d", rev)
	}
	_ = c.Bump(ctx, "s1")
	_ = c.Bump(ctx, "s1")
	rev, _ = c.Revision(ctx, "s1")
	if rev != 2 {
		t.Fatalf("expected revision 2, got %d", rev)
	}
	other, _ := c.Revision(ctx, "s2")
	if other != 0 {
		t.Fatalf("revisions must be per scope, got %d", other)
	}
}

func TestNoopReportCacheNeverHits(t *testing.T) {
	var c ReportCache = NoopReportCache{}
	_ = c.Set(context.Background(), "k", report{}, time.Minute)
	ok, err := c.Get(context.Background(), "k", &report{})
	if ok || err != nil {
		t.Fatalf("noop cache should miss, ok=%t err=%v", ok, err)
	}
}

func TestLocalLockerSerialises(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()

	first, err := l.Obtain(ctx, "open:s1:2026-03-01", time.Second)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}

	_, err = l.Obtain(ctx, "open:s1:2026-03-01", 20*time.Millisecond)
	if !errors.Is(err, ErrLockNotObtained) {
		t.Fatalf("expected ErrLockNotObtained, got %v", err)
	}

	other, err := l.Obtain(ctx, "open:s2:2026-03-01", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("different key should not block: %v", err)
	}
	_ = other.Release(ctx)

	_ = first.Release(ctx)
	_ = first.Release(ctx)
	again, err := l.Obtain(ctx, "open:s1:2026-03-01", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("expected lock after release: %v", err)
	}
	_ = again.Release(ctx)
}

func TestLocalLockerConcurrentCounter(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock, err := l.Obtain(ctx, "k", 5*time.Second)
			if err != nil {
				t.Errorf("obtain: %v", err)
				return
			}
			counter++
			_ = lock.Release(ctx)
		}()
	}
	wg.Wait()

	if counter != 20 {
		t.Fatalf("expected 20 increments, got %d", counter)
	}
}
