package models

import "time"

// Config はサーバーとストア接続の設定情報を保持します。
// JSONファイルで与え、環境変数で上書きできる
type Config struct {
	HTTPAddr     string   `json:"http_addr" env:"JANKEN_HTTP_ADDR"`
	AllowOrigins []string `json:"allow_origins" env:"JANKEN_ALLOW_ORIGINS" envSeparator:","`
	Debug        bool     `json:"debug" env:"JANKEN_DEBUG"`

	// memory, redis, nats, postgres
	Store string `json:"store" env:"JANKEN_STORE"`

	RedisAddr     string `json:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `json:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `json:"redis_db" env:"REDIS_DB"`
	RedisPrefix   string `json:"redis_prefix" env:"JANKEN_REDIS_PREFIX"`

	NatsURL    string `json:"nats_url" env:"NATS_URL"`
	NatsBucket string `json:"nats_bucket" env:"JANKEN_NATS_BUCKET"`

	DBHost       string   `json:"db_host" env:"DB_HOST"`
	DBUser       string   `json:"db_user" env:"DB_USER"`
	DBPassword   string   `json:"db_password" env:"DB_PASSWORD"`
	DBName       string   `json:"db_name" env:"DB_NAME"`
	DBSSLMode    string   `json:"db_sslmode" env:"DB_SSLMODE"`
	PollInterval Duration `json:"poll_interval" env:"JANKEN_POLL_INTERVAL"`

	JWTSecret      string   `json:"jwt_secret" env:"JANKEN_JWT_SECRET"`
	SessionTTL     Duration `json:"session_ttl" env:"JANKEN_SESSION_TTL"`
	SessionIdleTTL Duration `json:"session_idle_ttl" env:"JANKEN_SESSION_IDLE_TTL"`
	SweepSpec      string   `json:"sweep_spec" env:"JANKEN_SWEEP_SPEC"`
}

// DefaultConfig は設定ファイルも環境変数もない場合の値
func DefaultConfig() Config {
	return Config{
		HTTPAddr:       ":8080",
		Store:          "memory",
		RedisAddr:      "localhost:6379",
		RedisPrefix:    "janken:",
		NatsURL:        "nats://127.0.0.1:4222",
		NatsBucket:     "janken",
		DBSSLMode:      "disable",
		PollInterval:   Duration{500 * time.Millisecond},
		SessionTTL:     Duration{24 * time.Hour},
		SessionIdleTTL: Duration{30 * time.Minute},
		SweepSpec:      "@every 1m",
	}
}

// Duration は "500ms" や "24h" 形式で読み書きできる time.Duration
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
