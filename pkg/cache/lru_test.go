package cache

import (
	"sync"
	"testing"
	"time"
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
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestLRUGetSet(t *testing.T) {
	c := New[string, int](4, time.Minute)
	c.Set("a", 1)

	got, ok := c.Get("a")
	if !ok || got != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("Get(missing) reported present")
	}

	c.Set("a", 2)
	if got, _ := c.Get("a"); got != 2 {
		t.Fatalf("Get(a) after overwrite = %d, want 2", got)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)

	// touch a so b becomes the eviction candidate
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to survive")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected c to be present")
	}
	if st := c.Stats(); st.Evictions != 1 {
		t.Fatalf("Evictions = %d, want 1", st.Evictions)
	}
}

func TestLRUExpiresLazily(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := New[string, string](8, time.Hour).WithClock(clock.Now)

	c.Set("k", "v")
	clock.Advance(59 * time.Minute)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry expired too early")
	}

	clock.Advance(2 * time.Minute)
	if c.Len() != 1 {
		t.Fatalf("Len() before access = %d, want 1 (expiry is lazy)", c.Len())
	}
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected entry to be expired")
	}
	if c.Len() != 0 {
		t.Fatalf("Len() after expired access = %d, want 0", c.Len())
	}
}

func TestLRUSetRefreshesInsertTime(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	c := New[int, int](2, 10*time.Second).WithClock(clock.Now)

	c.Set(1, 1)
	clock.Advance(8 * time.Second)
	c.Set(1, 2)
	clock.Advance(8 * time.Second)

	if got, ok := c.Get(1); !ok || got != 2 {
		t.Fatalf("Get(1) = %d, %v; want 2, true", got, ok)
	}
}

func TestLRUDeleteAndPurge(t *testing.T) {
	c := New[string, int](3, 0)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	c.Delete("nope")
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected a to be deleted")
	}

	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("Len() after purge = %d, want 0", c.Len())
	}
	c.Set("x", 9)
	if got, _ := c.Get("x"); got != 9 {
		t.Fatalf("Get(x) after purge = %d, want 9", got)
	}
}

func TestLRUMinimumCapacity(t *testing.T) {
	c := New[string, int](0, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestLRUConcurrentAccess(t *testing.T) {
	c := New[int, int](16, time.Minute)
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range 200 {
				c.Set((w*i)%32, i)
				c.Get(i % 32)
			}
		}(w)
	}
	wg.Wait()

	if c.Len() > 16 {
		t.Fatalf("Len() = %d exceeds capacity", c.Len())
	}
}
