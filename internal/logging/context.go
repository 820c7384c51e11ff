package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type ctxKey int

const (
	sessionKey ctxKey = iota
	triggerKey
)

// WithSession tags ctx with a map session ID.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey, id)
}

// WithTrigger tags ctx with the event kind that caused a recomputation.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey, trigger)
}

// SessionFromContext returns the session ID, if any.
func SessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

// ContextFields extracts log fields carried by ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	var fields []zap.Field
	if id, ok := ctx.Value(sessionKey).(string); ok && id != "" {
		fields = append(fields, zap.String("session_id", id))
	}
	if tr, ok := ctx.Value(triggerKey).(string); ok && tr != "" {
		fields = append(fields, zap.String("trigger", tr))
	}
	return fields
}

// NewTestLogger returns a logger recording every entry at debug level and above.
func NewTestLogger() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return &Logger{zap: zap.New(core)}, logs
}
