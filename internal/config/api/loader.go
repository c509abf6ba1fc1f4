package api_config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// Load reads an optional YAML file and overlays environment variables, with
// dots replaced by underscores (DB_DSN, AUTH_JWT_SECRET, KAFKA_BROKERS).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetDefault("app.name", "api")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.version", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.graceful_timeout", "15s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 20)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.max_conn_idle_time", "10m")
	v.SetDefault("db.health_check_period", "30s")
	v.SetDefault("db.query_timeout", "3s")

	v.SetDefault("otel.enable", false)
	v.SetDefault("otel.service_name", "noticeboard-api")
	v.SetDefault("otel.sample_ratio", 1.0)
	v.SetDefault("otel.otlp_endpoint", "localhost:4317")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.token_ttl", "1h")

	v.SetDefault("kafka.enable", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "noticeboard.notifications")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.replication_factor", 1)
	v.SetDefault("kafka.publish_attempts", 6)

	v.SetDefault("outbox.enable", false)
	v.SetDefault("outbox.workers", 1)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.wait_time", "1s")
	v.SetDefault("outbox.in_progress_ttl", "30s")

	v.SetDefault("feed.default_limit", 20)
	v.SetDefault("feed.max_limit", 100)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DB.DSN == "" {
		return ErrNoDSN
	}
	if c.Auth.JWTSecret == "" {
		return ErrNoJWTSecret
	}
	if (c.Kafka.Enable || c.Outbox.Enable) && len(c.Kafka.Brokers) == 0 {
		return ErrNoBrokers
	}
	return nil
}
