package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	c, err := NewRedisCache(RedisCacheConfig{Addr: srv.Addr(), Prefix: "testns"})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c, srv
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	type record struct {
		Code    string `json:"code"`
		Enabled bool   `json:"enabled"`
	}
	if err := c.Set(ctx, "module:crm", record{Code: "crm", Enabled: true}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got record
	found, err := c.Get(ctx, "module:crm", &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found || got.Code != "crm" || !got.Enabled {
		t.Fatalf("unexpected value: found=%v got=%+v", found, got)
	}
}

func TestGetMiss(t *testing.T) {
	c, _ := newTestCache(t)
	var out map[string]any
	found, err := c.Get(context.Background(), "absent", &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("expected a miss")
	}
}

func TestEntriesExpire(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()
	if err := c.Set(ctx, "ephemeral", "v", time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	srv.FastForward(2 * time.Second)
	found, err := c.Get(ctx, "ephemeral", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("expired entry still present")
	}
}

func TestDeleteAndExists(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "k", 1, 0)
	ok, err := c.Exists(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("exists: ok=%v err=%v", ok, err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, err = c.Exists(ctx, "k")
	if err != nil || ok {
		t.Fatalf("still exists: ok=%v err=%v", ok, err)
	}
}

func TestClearOnlyTouchesNamespace(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "a", 1, 0)
	_ = c.Set(ctx, "b", 2, 0)
	srv.Set("othersvc:key", "keepme")

	dropped, err := c.Clear(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if dropped != 2 {
		t.Fatalf("expected 2 dropped keys, got %d", dropped)
	}
	if !srv.Exists("othersvc:key") {
		t.Fatal("clear crossed its namespace")
	}
}

func TestGetManySetMany(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	if err := c.SetMany(ctx, map[string]any{"x": 1, "y": "two"}, time.Minute); err != nil {
		t.Fatalf("set many: %v", err)
	}
	got, err := c.GetMany(ctx, []string{"x", "y", "missing"})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 hits, got %+v", got)
	}
	if got["x"] != "1" || got["y"] != `"two"` {
		t.Fatalf("unexpected payloads: %+v", got)
	}
	if _, ok := got["missing"]; ok {
		t.Fatal("missing key reported as hit")
	}
}
