package cache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/domain"
	"github.com/boddenberg/txn-risk-engine/internal/infra/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[*domain.RateTable](5 * time.Minute)
	defer c.Close()

	c.Set("USD", &domain.RateTable{Base: "USD"})
	rt, ok := c.Get("USD")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if rt.Base != "USD" {
		t.Errorf("expected base USD, got %q", rt.Base)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	if _, ok := c.Get("EUR"); ok {
		t.Fatal("expected cache miss for unknown key")
	}
}

func TestCache_ExpiresAtTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)}
	c := cache.NewWithClock[string](time.Minute, clock.Now)
	defer c.Close()

	c.Set("USD", "table")

	clock.Advance(59 * time.Second)
	if _, ok := c.Get("USD"); !ok {
		t.Fatal("expected entry before TTL")
	}

	clock.Advance(time.Second)
	if _, ok := c.Get("USD"); ok {
		t.Fatal("expected entry to expire exactly at TTL")
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("USD", "table")
	c.Delete("USD")

	if _, ok := c.Get("USD"); ok {
		t.Fatal("expected key to be deleted")
	}
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d entries", c.Len())
	}
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := cache.New[string](time.Minute)
	c.Close()
	c.Close()
}
