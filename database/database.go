package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"jankenserver/models"
	"jankenserver/store"

	"github.com/caarlos0/env/v11"
	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// LoadConfig は既定値に設定ファイル(あれば)と環境変数を重ねる。
// filename が空、またはファイルが無い場合は既定値と環境変数だけを使う
func LoadConfig(filename string) (models.Config, error) {
	config := models.DefaultConfig()

	if filename != "" {
		configFile, err := os.Open(filename)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return config, err
		default:
			defer configFile.Close()
			if err := json.NewDecoder(configFile).Decode(&config); err != nil {
				return config, fmt.Errorf("decode %s: %w", filename, err)
			}
		}
	}

	if err := env.Parse(&config); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

func InitPostgreSQL(config models.Config, logger *zap.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s dbname=%s password=%s sslmode=%s",
		config.DBHost, config.DBUser, config.DBName, config.DBPassword, config.DBSSLMode)

	const maxRetries = 3
	const retryInterval = 5 * time.Second
	var err error
	for i := 0; i <= maxRetries; i++ {
		var gormDB *gorm.DB
		gormDB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err == nil {
			logger.Info("Connected to PostgreSQL")
			return gormDB, nil
		}
		logger.Error("データベース接続のリトライ", zap.Int("retry", i), zap.Error(err))
		if i < maxRetries {
			time.Sleep(retryInterval)
		}
	}
	return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
}

func InitRedis(config models.Config, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	// Redisへの接続テスト
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		logger.Error("Failed to connect to Redis", zap.Error(err))
		rdb.Close()
		return nil, err
	}

	logger.Info("Connected to Redis", zap.String("addr", config.RedisAddr))
	return rdb, nil
}

// InitNats は NATS に接続し、ストア用の KV バケットを取得(なければ作成)する
func InitNats(ctx context.Context, config models.Config, logger *zap.Logger) (*nats.Conn, jetstream.KeyValue, error) {
	nc, err := nats.Connect(config.NatsURL,
		nats.Name("jankenserver"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Disconnected from NATS", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	kv, err := js.KeyValue(ctx, config.NatsBucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      config.NatsBucket,
			Description: "janken room tree",
		})
	}
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("key value bucket %s: %w", config.NatsBucket, err)
	}

	logger.Info("Connected to NATS", zap.String("url", config.NatsURL), zap.String("bucket", config.NatsBucket))
	return nc, kv, nil
}

// OpenStore は設定に応じたツリーストアを開く
func OpenStore(ctx context.Context, config models.Config, logger *zap.Logger) (store.Tree, error) {
	switch config.Store {
	case "", "memory":
		logger.Info("Using in-memory store")
		return store.NewMemory(), nil
	case "redis":
		rdb, err := InitRedis(config, logger)
		if err != nil {
			return nil, err
		}
		return store.NewRedis(rdb, config.RedisPrefix, logger), nil
	case "nats":
		nc, kv, err := InitNats(ctx, config, logger)
		if err != nil {
			return nil, err
		}
		return store.NewNats(nc, kv, logger), nil
	case "postgres":
		db, err := InitPostgreSQL(config, logger)
		if err != nil {
			return nil, err
		}
		return store.NewPostgres(db, config.PollInterval.Duration, logger)
	default:
		return nil, fmt.Errorf("unknown store %q", config.Store)
	}
}
