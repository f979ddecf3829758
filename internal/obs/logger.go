// Package obs is the ambient observability capability shared by every
// component: structured logging, Prometheus metrics, health endpoints,
// and optional tracing. Nothing here is process-global mutable state
// beyond the metrics registry (which prometheus itself requires) and the
// otel tracer provider that MaybeInitTracing installs when tracing is on;
// every component receives its *zap.Logger explicitly.
package obs

import (
	"os"
	"strings"
	"time"

	"github.com/flyingrobots/protocol-bridge/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds a zap.Logger at the given level. When cfg.FilePath is
// set, output is additionally written to a rotated log file via lumberjack.
func NewLogger(cfg config.Logging) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	switch strings.ToLower(cfg.Level) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), lvl),
	}
	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    maxOr(cfg.MaxSizeMB, 100),
			MaxBackups: maxOr(cfg.MaxBackups, 5),
			MaxAge:     maxOr(cfg.MaxAgeDays, 14),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), lvl))
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core, zap.AddCaller()), nil
}

func maxOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Convenience typed fields, mirrored from the teacher's obs package so call
// sites read `obs.String(...)`/`obs.Err(...)` instead of `zap.String`.
func String(k, v string) zap.Field  { return zap.String(k, v) }
func Int(k string, v int) zap.Field { return zap.Int(k, v) }
func Int64(k string, v int64) zap.Field { return zap.Int64(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Err(err error) zap.Field { return zap.Error(err) }
func Duration(k string, v time.Duration) zap.Field { return zap.Duration(k, v) }
