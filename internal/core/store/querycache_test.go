package store

import "testing"

func TestCacheGetPutCopies(t *testing.T) {
	q := NewQueryCache()
	key := []uint64{1, 2}
	src := []uint64{10, 20, 30}

	q.Put(key, src)
	src[0] = 999
	got, ok := q.Get(key)
	if !ok {
		t.Fatal("expected a hit")
	}
	if got[0] != 10 {
		t.Fatalf("expected stored copy to be isolated, got %v", got)
	}
	got[1] = 888
	again, _ := q.Get(key)
	if again[1] != 20 {
		t.Fatalf("expected returned copy to be isolated, got %v", again)
	}
}

func TestCacheMiss(t *testing.T) {
	q := NewQueryCache()
	if _, ok := q.Get([]uint64{5}); ok {
		t.Fatal("expected a miss on an empty cache")
	}
	if q.Misses() != 1 {
		t.Fatalf("expected 1 miss, got %d", q.Misses())
	}
}

func TestInvalidateComponentDropsOnlyMatchingKeys(t *testing.T) {
	q := NewQueryCache()
	q.Put([]uint64{1, 2}, []uint64{100})
	q.Put([]uint64{2, 3}, []uint64{200})
	q.Put([]uint64{4}, []uint64{300})

	q.InvalidateComponent(2)

	if _, ok := q.Get([]uint64{1, 2}); ok {
		t.Fatal("expected {1,2} to be dropped")
	}
	if _, ok := q.Get([]uint64{2, 3}); ok {
		t.Fatal("expected {2,3} to be dropped")
	}
	if _, ok := q.Get([]uint64{4}); !ok {
		t.Fatal("expected {4} to survive")
	}
}

func TestInvalidateAllAndVersion(t *testing.T) {
	q := NewQueryCache()
	v0 := q.Version()
	q.Put([]uint64{1}, []uint64{1})
	q.InvalidateAll()
	if _, ok := q.Get([]uint64{1}); ok {
		t.Fatal("expected empty cache after invalidateAll")
	}
	if q.Version() <= v0 {
		t.Fatalf("expected version to advance, got %d", q.Version())
	}
	// Invalidating an already empty cache is not an event.
	v1 := q.Version()
	q.InvalidateAll()
	if q.Version() != v1 {
		t.Fatalf("expected version to hold at %d, got %d", v1, q.Version())
	}
}

func TestBeginTickClears(t *testing.T) {
	q := NewQueryCache()
	q.Put([]uint64{7}, []uint64{70})
	q.BeginTick()
	if q.Len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", q.Len())
	}
}

func TestEndTickBoundsEntries(t *testing.T) {
	q := NewQueryCache()
	q.limit = 2
	q.Put([]uint64{1}, nil)
	q.Put([]uint64{2}, nil)
	q.Put([]uint64{3}, nil)
	q.EndTick()
	if q.Len() != 0 {
		t.Fatalf("expected cache dropped past its limit, got %d entries", q.Len())
	}
	q.Put([]uint64{1}, nil)
	q.EndTick()
	if q.Len() != 1 {
		t.Fatalf("expected cache under its limit to survive, got %d entries", q.Len())
	}
}
