package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/query-cache/internal/testutil"
)

func TestStore_SetAndGet(t *testing.T) {
	clock := testutil.NewClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	store := NewStore(WithClock(clock.Now))

	value := map[string]string{"name": "Ana"}
	written := store.Set("user:1", value, time.Second, time.Minute)

	got, ok := store.Get("user:1")
	if !ok {
		t.Fatal("Get() after Set() reported miss")
	}
	if got.Value.(map[string]string)["name"] != "Ana" {
		t.Errorf("Value = %v, want %v", got.Value, value)
	}
	if !got.FetchedAt.Equal(clock.Now()) {
		t.Errorf("FetchedAt = %v, want %v", got.FetchedAt, clock.Now())
	}
	if got.Key != "user:1" || written.Key != "user:1" {
		t.Errorf("Key = %q, want %q", got.Key, "user:1")
	}
	if got.StaleAfter != time.Second || got.EvictAfter != time.Minute {
		t.Errorf("windows = (%v, %v), want (1s, 1m)", got.StaleAfter, got.EvictAfter)
	}
}

func TestStore_SetOverwritesAndResetsFetchedAt(t *testing.T) {
	clock := testutil.NewClock(time.Now())
	store := NewStore(WithClock(clock.Now))

	store.Set("k", 1, time.Second, time.Minute)
	clock.Advance(10 * time.Second)
	store.Set("k", 2, time.Second, time.Minute)

	got, ok := store.Get("k")
	if !ok {
		t.Fatal("Get() reported miss")
	}
	if got.Value != 2 {
		t.Errorf("Value = %v, want 2", got.Value)
	}
	if !got.FetchedAt.Equal(clock.Now()) {
		t.Errorf("FetchedAt = %v, want %v", got.FetchedAt, clock.Now())
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestStore_GetMiss(t *testing.T) {
	store := NewStore()

	if _, ok := store.Get("missing"); ok {
		t.Error("Get() on empty store reported hit")
	}
	if _, err := store.Lookup("missing"); err != ErrCacheMiss {
		t.Errorf("Lookup() error = %v, want ErrCacheMiss", err)
	}
}

func TestStore_GetHidesExpired(t *testing.T) {
	clock := testutil.NewClock(time.Now())
	store := NewStore(WithClock(clock.Now))

	store.Set("k", "v", time.Second, time.Minute)
	clock.Advance(time.Minute)

	if _, ok := store.Get("k"); ok {
		t.Error("Get() returned an expired entry")
	}
	if _, ok := store.Peek("k"); !ok {
		t.Error("Peek() should still see the unswept entry")
	}
}

func TestStore_Delete(t *testing.T) {
	store := NewStore()
	store.Set("k", "v", time.Second, time.Minute)

	store.Delete("k")
	if _, ok := store.Get("k"); ok {
		t.Error("Get() after Delete() reported hit")
	}

	// Idempotent
	store.Delete("k")
	store.Delete("never-existed")
}

func TestStore_Sweep(t *testing.T) {
	clock := testutil.NewClock(time.Now())
	store := NewStore(WithClock(clock.Now))

	store.Set("short", 1, time.Second, 10*time.Second)
	store.Set("long", 2, time.Second, time.Hour)

	if removed := store.Sweep(clock.Now().Add(10*time.Second - time.Nanosecond)); removed != 0 {
		t.Errorf("Sweep() before boundary removed %d, want 0", removed)
	}
	if removed := store.Sweep(clock.Now().Add(10 * time.Second)); removed != 1 {
		t.Errorf("Sweep() at boundary removed %d, want 1", removed)
	}
	if got := store.Keys(); len(got) != 1 || got[0] != "long" {
		t.Errorf("Keys() = %v, want [long]", got)
	}
}

func TestStore_Clear(t *testing.T) {
	store := NewStore()
	store.Set("a", 1, time.Second, time.Minute)
	store.Set("b", 2, time.Second, time.Minute)

	store.Clear()
	if store.Len() != 0 {
		t.Errorf("Len() after Clear() = %d, want 0", store.Len())
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				store.Set("shared", i, time.Second, time.Minute)
				store.Get("shared")
				if j%10 == 0 {
					store.Delete("shared")
				}
			}
		}(i)
	}
	wg.Wait()
}
