package obs

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig describes the process logger. App names the product and Service
// the binary inside it; both are stamped on every entry.
type LogConfig struct {
	Level   string
	Pretty  bool
	App     string
	Service string
	Env     string
	Ver     string
}

// NewLogger builds a JSON logger, or a colored console one when Pretty is set.
// An unknown level falls back to info.
func NewLogger(c LogConfig) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if c.Pretty {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(c.Level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder

	return cfg.Build(zap.Fields(serviceFields(c)...))
}

func parseLevel(s string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func serviceFields(c LogConfig) []zap.Field {
	fields := make([]zap.Field, 0, 4)
	for _, kv := range [][2]string{{"app", c.App}, {"service", c.Service}, {"env", c.Env}, {"version", c.Ver}} {
		if kv[1] != "" {
			fields = append(fields, zap.String(kv[0], kv[1]))
		}
	}
	return fields
}
