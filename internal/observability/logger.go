package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the service logger. LOG_LEVEL selects the level and LOG_FORMAT=console
// switches to the human-readable encoder for local runs.
func NewLogger() (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "console") {
		config = zap.NewDevelopmentConfig()
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = parseLogLevel(os.Getenv("LOG_LEVEL"))

	return config.Build(zap.Fields(zap.String("service", ServiceName)))
}

func parseLogLevel(s string) zap.AtomicLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "WARN":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "ERROR":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
