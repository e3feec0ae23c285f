package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// そのままKVのキーに使える要素
var natsPlainSegment = regexp.MustCompile(`^[-_a-zA-Z0-9]+$`)

// encodeNatsKey はパスをJetStream KVのキーに変換する。要素は "." でつなぎ、
// 使えない文字を含む要素(と "=" で始まる要素)は "=" + base64url にする
func encodeNatsKey(path string) (string, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return "", err
	}
	for i, s := range segs {
		if !natsPlainSegment.MatchString(s) {
			segs[i] = "=" + base64.RawURLEncoding.EncodeToString([]byte(s))
		}
	}
	return strings.Join(segs, "."), nil
}

func decodeNatsKey(key string) (string, error) {
	segs := strings.Split(key, ".")
	for i, s := range segs {
		if !strings.HasPrefix(s, "=") {
			continue
		}
		b, err := base64.RawURLEncoding.DecodeString(s[1:])
		if err != nil {
			return "", fmt.Errorf("%w: key %q", ErrInvalidPath, key)
		}
		segs[i] = string(b)
	}
	return JoinPath(segs...), nil
}

// Nats はJetStream KeyValueバケットに葉を1キーずつ保存する。
// 複数キーをまとめて書く手段がないので、Merge は葉ごとに順番に書く
type Nats struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	logger *zap.Logger
	subs   registry
}

// NewNats は nc を所有する。Close で nc も閉じる
func NewNats(nc *nats.Conn, kv jetstream.KeyValue, logger *zap.Logger) *Nats {
	return &Nats{nc: nc, kv: kv, logger: logger}
}

func (n *Nats) Write(ctx context.Context, path string, value any) error {
	path, mut, err := writeMutation(path, value)
	if err != nil {
		return err
	}
	return n.apply(ctx, path, mut)
}

func (n *Nats) Merge(ctx context.Context, path string, partial map[string]any) error {
	path, mut, err := mergeMutation(path, partial)
	if err != nil {
		return err
	}
	return n.apply(ctx, path, mut)
}

func (n *Nats) Delete(ctx context.Context, path string) error {
	return n.Write(ctx, path, nil)
}

func (n *Nats) apply(ctx context.Context, path string, mut mutation) error {
	var del []string
	for _, p := range mut.prunes {
		leaves, err := n.read(ctx, p)
		if err != nil {
			return err
		}
		for leaf := range leaves {
			if _, ok := mut.sets[leaf]; !ok {
				del = append(del, leaf)
			}
		}
	}
	for _, e := range mut.exact {
		if _, err := n.get(ctx, e); err == nil {
			del = append(del, e)
		} else if !errors.Is(err, jetstream.ErrKeyNotFound) {
			return err
		}
	}

	for _, leaf := range del {
		key, err := encodeNatsKey(leaf)
		if err != nil {
			return err
		}
		if err := n.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("nats delete %s: %w", leaf, err)
		}
	}
	for _, leaf := range mut.sortedSets() {
		key, err := encodeNatsKey(leaf)
		if err != nil {
			return err
		}
		b, err := encodeLeaf(mut.sets[leaf])
		if err != nil {
			return err
		}
		if _, err := n.kv.Put(ctx, key, b); err != nil {
			return fmt.Errorf("nats put %s: %w", leaf, err)
		}
	}
	return nil
}

func (n *Nats) get(ctx context.Context, path string) (any, error) {
	key, err := encodeNatsKey(path)
	if err != nil {
		return nil, err
	}
	entry, err := n.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return decodeLeaf(entry.Value())
}

// read は path とその配下の葉を読む
func (n *Nats) read(ctx context.Context, path string) (map[string]any, error) {
	leaves := make(map[string]any)
	if v, err := n.get(ctx, path); err == nil {
		leaves[path] = v
	} else if !errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, fmt.Errorf("nats get %s: %w", path, err)
	}

	key, err := encodeNatsKey(path)
	if err != nil {
		return nil, err
	}
	w, err := n.kv.Watch(ctx, key+".>", jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("nats watch %s: %w", path, err)
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-w.Updates():
			// nil は初期値の終わり
			if !ok || entry == nil {
				return leaves, nil
			}
			if err := n.store(leaves, entry); err != nil {
				n.logger.Warn("Skipping undecodable entry", zap.String("key", entry.Key()), zap.Error(err))
			}
		}
	}
}

func (n *Nats) store(leaves map[string]any, entry jetstream.KeyValueEntry) error {
	leaf, err := decodeNatsKey(entry.Key())
	if err != nil {
		return err
	}
	if entry.Operation() != jetstream.KeyValuePut {
		delete(leaves, leaf)
		return nil
	}
	v, err := decodeLeaf(entry.Value())
	if err != nil {
		return err
	}
	leaves[leaf] = v
	return nil
}

// Subscribe は path 配下のキーを監視する。path ちょうどの葉は対象外
func (n *Nats) Subscribe(ctx context.Context, path string) (Subscription, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	key, err := encodeNatsKey(path)
	if err != nil {
		return nil, err
	}

	w, err := n.kv.Watch(ctx, key+".>")
	if err != nil {
		return nil, fmt.Errorf("nats watch %s: %w", path, err)
	}

	var sub *subscription
	sub = newSubscription(path, func() {
		n.subs.remove(sub)
		w.Stop()
	})
	if err := n.subs.add(sub); err != nil {
		w.Stop()
		return nil, err
	}

	go func() {
		leaves := make(map[string]any)
		initialized := false
		for {
			select {
			case <-sub.done:
				return
			case entry, ok := <-w.Updates():
				if !ok {
					sub.Unsubscribe()
					return
				}
				if entry == nil {
					initialized = true
					sub.publish(snapshotOf(path, leaves))
					continue
				}
				if err := n.store(leaves, entry); err != nil {
					n.logger.Warn("Skipping undecodable entry", zap.String("key", entry.Key()), zap.Error(err))
					continue
				}
				if initialized {
					sub.publish(snapshotOf(path, leaves))
				}
			}
		}
	}()

	sub.bindContext(ctx)
	return sub, nil
}

func (n *Nats) Close() error {
	n.subs.closeAll()
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}
