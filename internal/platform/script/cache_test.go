package script

import (
	"strings"
	"testing"
	"time"
)

func TestCache_CompileHitReturnsSameProgram(t *testing.T) {
	c := NewCache(8)
	e := New(WithCache(c))

	p1, err := e.Compile("1 + 1")
	if err != nil {
		t.Fatalf("Compile unexpected error: %v", err)
	}
	p2, err := e.Compile("1 + 1")
	if err != nil {
		t.Fatalf("Compile unexpected error: %v", err)
	}
	if p1 != p2 {
		t.Error("expected cached compile to return the same program")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 {
		t.Errorf("expected hits=1 misses=1 size=1, got %+v", stats)
	}
}

func TestCache_ExtensionSharedAcrossNames(t *testing.T) {
	c := NewCache(8)
	e := New(WithCache(c))

	// Two functions with the same parameters and body share one compiled
	// program regardless of name.
	if _, err := e.CompileExtension("double", []string{"v"}, "v * 2"); err != nil {
		t.Fatalf("CompileExtension unexpected error: %v", err)
	}
	if _, err := e.CompileExtension("twice", []string{"v"}, "v * 2"); err != nil {
		t.Fatalf("CompileExtension unexpected error: %v", err)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("expected hits=1 misses=1, got %+v", stats)
	}
}

func TestCache_EvictsOldest(t *testing.T) {
	c := NewCache(2)
	for _, src := range []string{"1", "2", "3"} {
		p, err := compile(src)
		if err != nil {
			t.Fatalf("compile(%q) unexpected error: %v", src, err)
		}
		c.Put(hashSource(src), p)
	}

	if _, ok := c.Get(hashSource("1")); ok {
		t.Error("expected oldest entry to be evicted")
	}
	if _, ok := c.Get(hashSource("3")); !ok {
		t.Error("expected newest entry to remain")
	}
	if size := c.Stats().Size; size != 2 {
		t.Errorf("expected size 2, got %d", size)
	}
}

func TestCache_HitFasterThanCompile(t *testing.T) {
	c := NewCache(8)
	e := New(WithCache(c))

	// A deliberately large program so the parse cost dwarfs a cache probe.
	var sb strings.Builder
	sb.WriteString("var x = 0;\n")
	for i := 0; i < 5000; i++ {
		sb.WriteString("x = x + 1;\n")
	}
	sb.WriteString("x")
	src := sb.String()

	start := time.Now()
	if _, err := e.Compile(src); err != nil {
		t.Fatalf("Compile unexpected error: %v", err)
	}
	cold := time.Since(start)

	warm := time.Hour
	for i := 0; i < 3; i++ {
		start = time.Now()
		if _, err := e.Compile(src); err != nil {
			t.Fatalf("Compile unexpected error: %v", err)
		}
		if d := time.Since(start); d < warm {
			warm = d
		}
	}

	if warm >= cold {
		t.Errorf("expected cache hit (%v) to be faster than initial compile (%v)", warm, cold)
	}
}
