package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/covenantwatch/covenantwatch/internal/config"
)

type snapshot struct {
	Status string  `json:"status"`
	Buffer float64 `json:"buffer"`
}

func TestMemorySetGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)

	if err := c.Set(ctx, "k", snapshot{Status: "warning", Buffer: 4.2}); err != nil {
		t.Fatal(err)
	}
	var got snapshot
	ok, err := c.Get(ctx, "k", &got)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Status != "warning" || got.Buffer != 4.2 {
		t.Fatalf("got %+v", got)
	}
}

func TestMemoryMiss(t *testing.T) {
	c := NewMemory(time.Minute)
	var got snapshot
	ok, err := c.Get(context.Background(), "missing", &got)
	if ok || err != nil {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemory(time.Minute)
	c.now = func() time.Time { return now }

	c.Set(ctx, "a", 1)
	c.SetWithTTL(ctx, "b", 2, time.Hour)
	now = now.Add(2 * time.Minute)

	var v int
	if ok, _ := c.Get(ctx, "a", &v); ok {
		t.Error("expected a to be expired")
	}
	if ok, _ := c.Get(ctx, "b", &v); !ok || v != 2 {
		t.Errorf("expected b=2 to survive, got ok=%v v=%d", ok, v)
	}
	if n := c.Cleanup(); n != 1 || c.Len() != 1 {
		t.Errorf("cleanup removed %d, %d left", n, c.Len())
	}
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Hour)
	c.Set(ctx, "risk:1", 1)
	c.Set(ctx, "risk:2", 2)

	c.Delete(ctx, "risk:1")
	if c.Len() != 1 {
		t.Fatalf("after delete: %d entries", c.Len())
	}
	var v int
	if ok, _ := c.Get(ctx, "risk:1", &v); ok {
		t.Error("deleted key still readable")
	}
}

func TestMemoryValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Hour)
	in := []string{"a"}
	c.Set(ctx, "k", in)
	in[0] = "mutated"

	var out []string
	c.Get(ctx, "k", &out)
	if out[0] != "a" {
		t.Fatalf("cache shared caller memory: %v", out)
	}
}

func TestKey(t *testing.T) {
	a := Key("extract", "contract text")
	b := Key("extract", "contract text")
	c := Key("extract", "contract", " text")
	if a != b {
		t.Error("key not stable")
	}
	if a == c {
		t.Error("part boundaries must affect the key")
	}
	if !strings.HasPrefix(a, "extract:") || len(a) != len("extract:")+64 {
		t.Errorf("unexpected key %q", a)
	}

	k1, err := KeyJSON("risk", map[string]int{"x": 1})
	if err != nil {
		t.Fatal(err)
	}
	k2, _ := KeyJSON("risk", map[string]int{"x": 2})
	if k1 == k2 {
		t.Error("different payloads share a key")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	c, err := New(context.Background(), config.CacheConfig{Backend: "memory", TTLSec: 60}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*Memory); !ok {
		t.Fatalf("expected *Memory, got %T", c)
	}
	if _, err := New(context.Background(), config.CacheConfig{Backend: "memcached"}, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := NewRedis(ctx, RedisOptions{Addr: "127.0.0.1:1"}, nil)
	if err == nil {
		t.Fatal("expected connection error")
	}
}
