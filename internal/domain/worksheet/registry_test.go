package worksheet

import (
	"testing"

	"github.com/google/uuid"
)

func newSheet() *Worksheet {
	return &Worksheet{ID: uuid.New()}
}

func TestRegistry_PutGet(t *testing.T) {
	r := NewRegistry(4)
	ws := newSheet()
	if evicted := r.Put(ws); evicted != nil {
		t.Fatalf("expected no eviction, got %v", evicted.ID)
	}
	got, ok := r.Get(ws.ID)
	if !ok || got != ws {
		t.Fatal("expected to get the stored worksheet back")
	}
	if _, ok := r.Get(uuid.New()); ok {
		t.Fatal("expected unknown id to miss")
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", r.Len())
	}
}

func TestRegistry_EvictsOldestWhenFull(t *testing.T) {
	r := NewRegistry(2)
	a, b, c := newSheet(), newSheet(), newSheet()
	r.Put(a)
	r.Put(b)
	if evicted := r.Put(c); evicted != a {
		t.Fatal("expected the oldest session to be evicted")
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 sessions after eviction, got %d", r.Len())
	}
	if _, ok := r.Get(a.ID); ok {
		t.Fatal("expected evicted session to be gone")
	}
}

func TestRegistry_GetRefreshesOrder(t *testing.T) {
	r := NewRegistry(2)
	a, b, c := newSheet(), newSheet(), newSheet()
	r.Put(a)
	r.Put(b)
	if _, ok := r.Get(a.ID); !ok {
		t.Fatal("expected to find session a")
	}
	if evicted := r.Put(c); evicted != b {
		t.Fatal("expected the least recently accessed session to be evicted")
	}
	if _, ok := r.Get(a.ID); !ok {
		t.Fatal("expected the refreshed session to survive")
	}
}

func TestRegistry_RePutSameIDDoesNotEvict(t *testing.T) {
	r := NewRegistry(2)
	a, b := newSheet(), newSheet()
	r.Put(a)
	r.Put(b)
	if evicted := r.Put(a); evicted != nil {
		t.Fatal("expected re-put of a held session not to evict")
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", r.Len())
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry(4)
	ws := newSheet()
	r.Put(ws)
	got, ok := r.Remove(ws.ID)
	if !ok || got != ws {
		t.Fatal("expected removal to return the session")
	}
	if _, ok := r.Remove(ws.ID); ok {
		t.Fatal("expected second removal to miss")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestRegistry_AllOrdersLeastRecentFirst(t *testing.T) {
	r := NewRegistry(4)
	a, b, c := newSheet(), newSheet(), newSheet()
	r.Put(a)
	r.Put(b)
	r.Put(c)
	r.Get(a.ID)

	all := r.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(all))
	}
	want := []*Worksheet{b, c, a}
	for i, ws := range all {
		if ws != want[i] {
			t.Fatalf("position %d: expected session %v, got %v", i, want[i].ID, ws.ID)
		}
	}
}

func TestRegistry_ZeroMaxUsesDefault(t *testing.T) {
	r := NewRegistry(0)
	if r.max != DefaultMaxSessions {
		t.Fatalf("expected default max %d, got %d", DefaultMaxSessions, r.max)
	}
}
