package store

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func nextSnapshot(t *testing.T, sub Subscription) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.Snapshots():
		if !ok {
			t.Fatal("subscription closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return Snapshot{}
}

// waitFor は条件を満たすスナップショットが来るまで読み進める
func waitFor(t *testing.T, sub Subscription, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap, ok := <-sub.Snapshots():
			if !ok {
				t.Fatal("subscription closed")
			}
			if cond(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching snapshot")
		}
	}
}

func decodeMap(t *testing.T, snap Snapshot) map[string]any {
	t.Helper()
	var m map[string]any
	if err := snap.Decode(&m); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return m
}

func TestSplitPath(t *testing.T) {
	segs, err := SplitPath("/rooms/r1/players/")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if !reflect.DeepEqual(segs, []string{"rooms", "r1", "players"}) {
		t.Fatalf("unexpected segments %v", segs)
	}
	for _, bad := range []string{"", "/", "rooms//r1"} {
		if _, err := SplitPath(bad); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("expected ErrInvalidPath for %q, got %v", bad, err)
		}
	}
}

func TestFlattenAndBuild(t *testing.T) {
	v, err := normalize(map[string]any{
		"players": map[string]any{
			"p1": map[string]any{"name": "Alice", "choice": nil, "joinedAt": 1700000000123},
		},
		"result": nil,
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	leaves := make(map[string]any)
	if err := flatten("rooms/r1", v, leaves); err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if len(leaves) != 2 {
		t.Fatalf("expected 2 leaves, got %v", leaves)
	}
	if leaves["rooms/r1/players/p1/joinedAt"] != json.Number("1700000000123") {
		t.Fatalf("expected exact number, got %#v", leaves["rooms/r1/players/p1/joinedAt"])
	}

	got, ok := build("rooms/r1/players", leaves)
	if !ok {
		t.Fatal("expected players subtree")
	}
	want := map[string]any{"p1": map[string]any{"name": "Alice", "joinedAt": json.Number("1700000000123")}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("build = %#v, want %#v", got, want)
	}
	if _, ok := build("rooms/r1/result", leaves); ok {
		t.Fatal("expected nil result to be absent")
	}
}

func TestMemoryWriteMergeDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	if err := m.Write(ctx, "rooms/r1/players/p1", map[string]any{"name": "Alice"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := m.Merge(ctx, "rooms/r1/players/p1", map[string]any{"choice": "rock"}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	snap, _ := m.Get("rooms/r1/players/p1")
	if got := decodeMap(t, snap); got["name"] != "Alice" || got["choice"] != "rock" {
		t.Fatalf("merge clobbered siblings: %v", got)
	}

	if err := m.Merge(ctx, "rooms/r1/players/p1", map[string]any{"choice": nil}); err != nil {
		t.Fatalf("merge nil: %v", err)
	}
	snap, _ = m.Get("rooms/r1/players/p1")
	if got := decodeMap(t, snap); got["name"] != "Alice" || got["choice"] != nil {
		t.Fatalf("expected choice cleared, got %v", got)
	}

	// 全体の上書きは既存の葉を残さない
	if err := m.Write(ctx, "rooms/r1/players/p1", map[string]any{"choice": "paper"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	snap, _ = m.Get("rooms/r1/players/p1")
	if got := decodeMap(t, snap); got["name"] != nil {
		t.Fatalf("expected full overwrite, got %v", got)
	}

	if err := m.Delete(ctx, "rooms/r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if snap, _ := m.Get("rooms/r1"); snap.Exists {
		t.Fatalf("expected room deleted, got %v", snap.Value)
	}
}

func TestMemoryMergeSubPaths(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	_ = m.Write(ctx, "rooms/r1/players/p1", map[string]any{"name": "Alice", "choice": "rock"})
	_ = m.Write(ctx, "rooms/r1/players/p2", map[string]any{"name": "Bob", "choice": "paper"})
	_ = m.Write(ctx, "rooms/r1/result", map[string]any{"text": "Bob の勝ち！"})

	err := m.Merge(ctx, "rooms/r1", map[string]any{
		"result":            nil,
		"round":             1,
		"players/p1/choice": nil,
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	snap, _ := m.Get("rooms/r1")
	room := decodeMap(t, snap)
	if room["result"] != nil {
		t.Fatalf("expected result removed, got %v", room["result"])
	}
	if room["round"] != float64(1) {
		t.Fatalf("expected round 1, got %v", room["round"])
	}
	players := room["players"].(map[string]any)
	if p1 := players["p1"].(map[string]any); p1["choice"] != nil || p1["name"] != "Alice" {
		t.Fatalf("unexpected p1 %v", p1)
	}
	if p2 := players["p2"].(map[string]any); p2["choice"] != "paper" {
		t.Fatalf("opponent must be untouched, got %v", p2)
	}
}

func TestMemorySubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	sub, err := m.Subscribe(ctx, "rooms/r1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if first := nextSnapshot(t, sub); first.Exists {
		t.Fatalf("expected initial absent snapshot, got %v", first.Value)
	}

	_ = m.Write(ctx, "rooms/r1/players/p1", map[string]any{"name": "Alice"})
	snap := nextSnapshot(t, sub)
	if !snap.Exists {
		t.Fatal("expected room to exist")
	}

	// 関係のないパスの変更は届かない
	_ = m.Write(ctx, "rooms/other/players/x", map[string]any{"name": "X"})
	select {
	case s := <-sub.Snapshots():
		t.Fatalf("unexpected snapshot %v", s)
	default:
	}
}

func TestMemorySubscribeLatestWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	sub, _ := m.Subscribe(ctx, "rooms/r1")
	defer sub.Unsubscribe()

	for _, c := range []string{"rock", "paper", "scissors"} {
		_ = m.Write(ctx, "rooms/r1/players/p1/choice", c)
	}

	snap := nextSnapshot(t, sub)
	room := decodeMap(t, snap)
	p1 := room["players"].(map[string]any)["p1"].(map[string]any)
	if p1["choice"] != "scissors" {
		t.Fatalf("expected latest value, got %v", p1["choice"])
	}
	select {
	case s := <-sub.Snapshots():
		t.Fatalf("expected no backlog, got %v", s)
	default:
	}
}

func TestMemoryUnsubscribeAndCancel(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, _ := m.Subscribe(ctx, "rooms/r1")
	nextSnapshot(t, sub)

	cancel()
	select {
	case _, ok := <-sub.Snapshots():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}
	sub.Unsubscribe()

	if err := m.Write(context.Background(), "rooms/r1/x", "y"); err != nil {
		t.Fatalf("write after unsubscribe: %v", err)
	}
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory()
	sub, _ := m.Subscribe(context.Background(), "rooms/r1")
	m.Close()

	if _, err := m.Subscribe(context.Background(), "rooms/r1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := m.Write(context.Background(), "rooms/r1/x", "y"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	for range sub.Snapshots() {
	}
}

func TestMergeRejectsBadKeys(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	for _, key := range []string{"", "/", "a//b"} {
		err := m.Merge(context.Background(), "rooms/r1", map[string]any{key: 1})
		if !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("expected ErrInvalidPath for key %q, got %v", key, err)
		}
	}
}
