package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs a sugared logger that writes JSON to stdout and tags every
// entry with the service name.
func New(service string) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	config.InitialFields = map[string]interface{}{
		"service": service,
	}

	log, err := config.Build()
	if err != nil {
		return nil, err
	}

	return log.Sugar(), nil
}

// Must is New for package level loggers. It falls back to a no-op logger
// when the configuration cannot be built.
func Must(service string) *zap.SugaredLogger {
	log, err := New(service)
	if err != nil {
		return zap.NewNop().Sugar()
	}

	return log
}
