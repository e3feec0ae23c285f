package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	// 楽観ロックが衝突した場合の再試行回数
	redisMaxTxRetries = 8
	// Pub/Subの取りこぼしに備えて定期的に読み直す間隔
	redisResyncInterval = 30 * time.Second
)

// Redis はドキュメント(パスの先頭2要素, 例 rooms/r1)ごとに1つのハッシュへ葉を保存する。
// 書き込みは WATCH/MULTI で行い、変更したパスを {prefix}changes:{doc} にPUBLISHする
type Redis struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
	subs   registry
}

func NewRedis(rdb *redis.Client, prefix string, logger *zap.Logger) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, logger: logger}
}

// document は path が属するドキュメントを返す
func (r *Redis) document(path string) (string, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return "", err
	}
	if len(segs) < 2 {
		return "", fmt.Errorf("%w: %q is above document level", ErrInvalidPath, path)
	}
	return JoinPath(segs[:2]...), nil
}

func (r *Redis) hashKey(doc string) string {
	return r.prefix + doc
}

func (r *Redis) channel(doc string) string {
	return r.prefix + "changes:" + doc
}

func (r *Redis) Write(ctx context.Context, path string, value any) error {
	path, mut, err := writeMutation(path, value)
	if err != nil {
		return err
	}
	return r.apply(ctx, path, mut)
}

func (r *Redis) Merge(ctx context.Context, path string, partial map[string]any) error {
	path, mut, err := mergeMutation(path, partial)
	if err != nil {
		return err
	}
	return r.apply(ctx, path, mut)
}

func (r *Redis) Delete(ctx context.Context, path string) error {
	return r.Write(ctx, path, nil)
}

func (r *Redis) apply(ctx context.Context, path string, mut mutation) error {
	doc, err := r.document(path)
	if err != nil {
		return err
	}
	key := r.hashKey(doc)

	values := make(map[string]interface{}, len(mut.sets))
	for leaf, v := range mut.sets {
		b, err := encodeLeaf(v)
		if err != nil {
			return err
		}
		values[leaf] = string(b)
	}

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HKeys(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		var del []string
		for _, f := range fields {
			if mut.removes(f) {
				del = append(del, f)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(del) > 0 {
				pipe.HDel(ctx, key, del...)
			}
			if len(values) > 0 {
				pipe.HSet(ctx, key, values)
			}
			pipe.Publish(ctx, r.channel(doc), path)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxTxRetries; i++ {
		err = r.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		r.logger.Debug("Redis transaction conflict, retrying", zap.String("path", path), zap.Int("retry", i))
	}
	if err != nil {
		return fmt.Errorf("redis write %s: %w", path, err)
	}
	return nil
}

// read はドキュメントの葉を全件読む
func (r *Redis) read(ctx context.Context, doc string) (map[string]any, error) {
	fields, err := r.rdb.HGetAll(ctx, r.hashKey(doc)).Result()
	if err != nil {
		return nil, err
	}
	leaves := make(map[string]any, len(fields))
	for f, raw := range fields {
		v, err := decodeLeaf([]byte(raw))
		if err != nil {
			r.logger.Warn("Skipping undecodable leaf", zap.String("field", f), zap.Error(err))
			continue
		}
		leaves[f] = v
	}
	return leaves, nil
}

func (r *Redis) Subscribe(ctx context.Context, path string) (Subscription, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	doc, err := r.document(path)
	if err != nil {
		return nil, err
	}

	pubsub := r.rdb.Subscribe(ctx, r.channel(doc))
	// 購読確定を待ってから初回の読み込みをする。順序が逆だと変更を取りこぼす
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", path, err)
	}

	var sub *subscription
	sub = newSubscription(path, func() {
		r.subs.remove(sub)
		pubsub.Close()
	})
	if err := r.subs.add(sub); err != nil {
		pubsub.Close()
		return nil, err
	}

	push := func() {
		leaves, err := r.read(ctx, doc)
		if err != nil {
			if !sub.stopped() {
				r.logger.Error("Failed to read room document", zap.String("path", path), zap.Error(err))
			}
			return
		}
		sub.publish(snapshotOf(path, leaves))
	}

	go func() {
		ticker := time.NewTicker(redisResyncInterval)
		defer ticker.Stop()

		push()
		ch := pubsub.Channel()
		for {
			select {
			case <-sub.done:
				return
			case msg, ok := <-ch:
				if !ok {
					sub.Unsubscribe()
					return
				}
				if related(msg.Payload, path) {
					push()
				}
			case <-ticker.C:
				push()
			}
		}
	}()

	sub.bindContext(ctx)
	return sub, nil
}

func (r *Redis) Close() error {
	r.subs.closeAll()
	return r.rdb.Close()
}
