package store

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StoreLeaf は store_leaves テーブルの1行。1行が1つの葉
type StoreLeaf struct {
	Path      string `gorm:"primaryKey"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

func (StoreLeaf) TableName() string {
	return "store_leaves"
}

// Postgres はGORM経由でPostgreSQLに葉を保存する。変更通知がないので購読はポーリング
type Postgres struct {
	db       *gorm.DB
	interval time.Duration
	logger   *zap.Logger
	subs     registry
}

func NewPostgres(db *gorm.DB, interval time.Duration, logger *zap.Logger) (*Postgres, error) {
	if err := db.AutoMigrate(&StoreLeaf{}); err != nil {
		return nil, fmt.Errorf("migrate store_leaves: %w", err)
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Postgres{db: db, interval: interval, logger: logger}, nil
}

// likePrefix は path 配下にマッチするLIKEパターン
func likePrefix(path string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(path) + "/%"
}

func (p *Postgres) Write(ctx context.Context, path string, value any) error {
	path, mut, err := writeMutation(path, value)
	if err != nil {
		return err
	}
	return p.apply(ctx, path, mut)
}

func (p *Postgres) Merge(ctx context.Context, path string, partial map[string]any) error {
	path, mut, err := mergeMutation(path, partial)
	if err != nil {
		return err
	}
	return p.apply(ctx, path, mut)
}

func (p *Postgres) Delete(ctx context.Context, path string) error {
	return p.Write(ctx, path, nil)
}

func (p *Postgres) apply(ctx context.Context, path string, mut mutation) error {
	rows := make([]StoreLeaf, 0, len(mut.sets))
	now := time.Now()
	for _, leaf := range mut.sortedSets() {
		b, err := encodeLeaf(mut.sets[leaf])
		if err != nil {
			return err
		}
		rows = append(rows, StoreLeaf{Path: leaf, Value: string(b), UpdatedAt: now})
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, prune := range mut.prunes {
			if err := tx.Where("path = ? OR path LIKE ?", prune, likePrefix(prune)).Delete(&StoreLeaf{}).Error; err != nil {
				return err
			}
		}
		if len(mut.exact) > 0 {
			if err := tx.Where("path IN ?", mut.exact).Delete(&StoreLeaf{}).Error; err != nil {
				return err
			}
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("postgres write %s: %w", path, err)
	}
	return nil
}

func (p *Postgres) read(ctx context.Context, path string) (map[string]any, error) {
	var rows []StoreLeaf
	if err := p.db.WithContext(ctx).Where("path = ? OR path LIKE ?", path, likePrefix(path)).Find(&rows).Error; err != nil {
		return nil, err
	}
	leaves := make(map[string]any, len(rows))
	for _, row := range rows {
		v, err := decodeLeaf([]byte(row.Value))
		if err != nil {
			p.logger.Warn("Skipping undecodable leaf", zap.String("path", row.Path), zap.Error(err))
			continue
		}
		leaves[row.Path] = v
	}
	return leaves, nil
}

func (p *Postgres) Subscribe(ctx context.Context, path string) (Subscription, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	var sub *subscription
	sub = newSubscription(path, func() { p.subs.remove(sub) })
	if err := p.subs.add(sub); err != nil {
		return nil, err
	}

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		var last *Snapshot
		for {
			leaves, err := p.read(ctx, path)
			if err != nil {
				if !sub.stopped() {
					p.logger.Error("Failed to poll store", zap.String("path", path), zap.Error(err))
				}
			} else {
				snap := snapshotOf(path, leaves)
				if last == nil || !reflect.DeepEqual(*last, snap) {
					sub.publish(snap)
					last = &snap
				}
			}

			select {
			case <-sub.done:
				return
			case <-ticker.C:
			}
		}
	}()

	sub.bindContext(ctx)
	return sub, nil
}

func (p *Postgres) Close() error {
	p.subs.closeAll()
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
