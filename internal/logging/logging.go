// Package logging builds the process's single *zap.Logger. It is
// constructed once in cmd/ and threaded explicitly through the
// scheduler -> site job -> worker construction chain; nothing in this
// package is a package-level var.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger. env selects the encoder: "dev" gets a
// human-readable console encoder, anything else (including "") gets JSON.
func New(env, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(env, "dev") {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))

	l, err := cfg.Build(zap.AddCallerSkip(0))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l, nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Job returns a child logger scoped to a single crawl job, attached to
// every worker/fetch/render/verdict log line for that job.
func Job(base *zap.Logger, jobID, siteURL string) *zap.Logger {
	return base.With(zap.String("job_id", jobID), zap.String("site", siteURL))
}
