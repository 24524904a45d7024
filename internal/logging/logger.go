// Package logging provides the process-wide structured logger.
package logging

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

type contextKey string

const (
	// CorrelationIDKey tags a logical request/session across log lines.
	CorrelationIDKey contextKey = "correlation_id"
	// RoomIDKey tags the room a log line pertains to.
	RoomIDKey contextKey = "room_id"
	// ClientIDKey tags the websocket client a log line pertains to.
	ClientIDKey contextKey = "client_id"
)

// Initialize sets up the global logger. development selects a
// human-readable colorized encoder; production selects a JSON encoder
// with ISO8601 timestamps.
func Initialize(development bool) error {
	var err error
	once.Do(func() {
		var cfg zap.Config
		if development {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "timestamp"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}

		logger, err = cfg.Build(zap.AddCallerSkip(1))
	})
	return err
}

// L returns the global logger, falling back to a development logger if
// Initialize was never called (e.g. in tests).
func L() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

// WithRoom returns a context tagged with a room id for subsequent log
// calls made through this package.
func WithRoom(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, RoomIDKey, roomID)
}

// WithClient returns a context tagged with a client id.
func WithClient(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ClientIDKey, clientID)
}

func fieldsFromContext(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if rid, ok := ctx.Value(RoomIDKey).(string); ok {
		fields = append(fields, zap.String("room_id", rid))
	}
	if cid, ok := ctx.Value(ClientIDKey).(string); ok {
		fields = append(fields, zap.String("client_id", cid))
	}
	if cor, ok := ctx.Value(CorrelationIDKey).(string); ok {
		fields = append(fields, zap.String("correlation_id", cor))
	}
	return fields
}

// Info logs at info level with context fields appended.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	L().Info(msg, fieldsFromContext(ctx, fields)...)
}

// Warn logs at warn level with context fields appended.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	L().Warn(msg, fieldsFromContext(ctx, fields)...)
}

// Error logs at error level with context fields appended.
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	L().Error(msg, fieldsFromContext(ctx, fields)...)
}
