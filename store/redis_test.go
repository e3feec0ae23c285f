package store

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap/zaptest"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedis(rdb, "janken:", zaptest.NewLogger(t))
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedisWriteStoresLeavesInDocumentHash(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	if err := r.Write(ctx, "rooms/r1/players/p1", map[string]any{"name": "Alice", "joinedAt": 42}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := mr.HGet("janken:rooms/r1", "rooms/r1/players/p1/name"); got != `"Alice"` {
		t.Fatalf("unexpected name field %q", got)
	}
	if got := mr.HGet("janken:rooms/r1", "rooms/r1/players/p1/joinedAt"); got != "42" {
		t.Fatalf("unexpected joinedAt field %q", got)
	}

	if err := r.Merge(ctx, "rooms/r1/players/p1", map[string]any{"choice": "rock"}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := r.Merge(ctx, "rooms/r1/players/p1", map[string]any{"choice": nil}); err != nil {
		t.Fatalf("merge nil: %v", err)
	}
	fields, _ := mr.HKeys("janken:rooms/r1")
	if len(fields) != 2 {
		t.Fatalf("expected name and joinedAt only, got %v", fields)
	}
}

func TestRedisRejectsPathAboveDocument(t *testing.T) {
	r, _ := newTestRedis(t)
	if err := r.Write(context.Background(), "rooms", "x"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

func TestRedisSubscribe(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)

	sub, err := r.Subscribe(ctx, "rooms/r1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if first := nextSnapshot(t, sub); first.Exists {
		t.Fatalf("expected absent room, got %v", first.Value)
	}

	if err := r.Write(ctx, "rooms/r1/players/p1", map[string]any{"name": "Alice"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := r.Merge(ctx, "rooms/r1", map[string]any{"players/p1/choice": "paper", "round": 2}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	snap := waitFor(t, sub, func(s Snapshot) bool {
		var room struct {
			Round   int `json:"round"`
			Players map[string]struct {
				Name   string `json:"name"`
				Choice string `json:"choice"`
			} `json:"players"`
		}
		if err := s.Decode(&room); err != nil {
			return false
		}
		p := room.Players["p1"]
		return room.Round == 2 && p.Name == "Alice" && p.Choice == "paper"
	})
	if snap.Path != "rooms/r1" {
		t.Fatalf("unexpected path %q", snap.Path)
	}
}

func TestRedisDelete(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	_ = r.Write(ctx, "rooms/r1/result", map[string]any{"text": "引き分け！", "winner": "draw"})
	_ = r.Write(ctx, "rooms/r1/players/p1/name", "Alice")
	if err := r.Delete(ctx, "rooms/r1/result"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	fields, _ := mr.HKeys("janken:rooms/r1")
	if len(fields) != 1 || fields[0] != "rooms/r1/players/p1/name" {
		t.Fatalf("unexpected fields after delete %v", fields)
	}
}
