// Package store はルームを置く共有ツリー型KVストアの境界。
// パスは "rooms/r1/players/p1" のようなスラッシュ区切りで、値は葉(JSONのスカラー)の集まりとして保持する。
// nil の書き込みは削除、葉を持たないマップは存在しない扱い(Firebase RTDBと同じ)
package store

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrInvalidPath = errors.New("invalid store path")
	ErrClosed      = errors.New("store closed")
)

// Tree はパス指定の書き込みと購読を提供する
type Tree interface {
	// Write は path 以下を value で置き換える。value が nil なら削除
	Write(ctx context.Context, path string, value any) error
	// Merge は partial の各キーだけを上書きし、兄弟は残す。
	// キーは "players/p1/choice" のようなサブパスでもよい
	Merge(ctx context.Context, path string, partial map[string]any) error
	Delete(ctx context.Context, path string) error
	// Subscribe は現在値を即座に1回、その後は変更のたびにスナップショットを届ける
	Subscribe(ctx context.Context, path string) (Subscription, error)
	Close() error
}

// Subscription は購読。Snapshots は Unsubscribe かコンテキスト終了で閉じる。
// 読み手が遅い場合は途中のスナップショットを飛ばし、常に最新を残す
type Subscription interface {
	Snapshots() <-chan Snapshot
	Unsubscribe()
}

// Snapshot はある時点での path 以下の値
type Snapshot struct {
	Path   string
	Value  any
	Exists bool
}

// Decode は値を v にデコードする。存在しない場合は v に触らない
func (s Snapshot) Decode(v any) error {
	if !s.Exists {
		return nil
	}
	b, err := json.Marshal(s.Value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
