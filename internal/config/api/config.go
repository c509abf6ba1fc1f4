package api_config

import (
	"time"

	"github.com/NordCoder/Noticeboard/internal/obs"
	"github.com/NordCoder/Noticeboard/internal/outbox"
	pg "github.com/NordCoder/Noticeboard/internal/repository/postgres"
	"github.com/NordCoder/Noticeboard/internal/services/api/notification"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func (oc *OTEL) AsOTELConfig() *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      oc.Enable,
		Endpoint:    oc.OTLPEndpoint,
		ServiceName: oc.ServiceName,
		SampleRatio: oc.SampleRatio,
	}
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func (c *Config) AsLoggerConfig() *obs.LogConfig {
	return &obs.LogConfig{
		Level:   c.Log.Level,
		Pretty:  c.Log.Pretty,
		App:     "noticeboard",
		Service: c.App.Name,
		Env:     c.App.Env,
		Ver:     c.App.Version,
	}
}

type Auth struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type Kafka struct {
	Enable            bool     `mapstructure:"enable"`
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	Partitions        int      `mapstructure:"partitions"`
	ReplicationFactor int      `mapstructure:"replication_factor"`
	PublishAttempts   int      `mapstructure:"publish_attempts"`
}

type Outbox struct {
	Enable        bool          `mapstructure:"enable"`
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	WaitTime      time.Duration `mapstructure:"wait_time"`
	InProgressTTL time.Duration `mapstructure:"in_progress_ttl"`
}

func (o *Outbox) AsRunnerConfig() outbox.Config {
	return outbox.Config{
		Workers:       o.Workers,
		BatchSize:     o.BatchSize,
		WaitTime:      o.WaitTime,
		InProgressTTL: o.InProgressTTL,
	}
}

type Feed struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

func (f *Feed) AsFeedConfig() notification.FeedConfig {
	return notification.FeedConfig{DefaultLimit: f.DefaultLimit, MaxLimit: f.MaxLimit}
}

type Config struct {
	App    App       `mapstructure:"app"`
	Server Server    `mapstructure:"server"`
	DB     pg.Config `mapstructure:"db"`
	OTEL   OTEL      `mapstructure:"otel"`
	Log    Log       `mapstructure:"log"`
	Auth   Auth      `mapstructure:"auth"`
	Kafka  Kafka     `mapstructure:"kafka"`
	Outbox Outbox    `mapstructure:"outbox"`
	Feed   Feed      `mapstructure:"feed"`
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }

const (
	ErrNoDSN       ErrConfig = "config: db.dsn is required"
	ErrNoJWTSecret ErrConfig = "config: auth.jwt_secret is required"
	ErrNoBrokers   ErrConfig = "config: kafka.brokers is required when kafka or outbox is enabled"
)
