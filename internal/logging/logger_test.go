package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, NewDefaultConfig().Validate())
	assert.Error(t, Config{Level: "info", Format: "xml"}.Validate())
	assert.Error(t, Config{Level: "loud", Format: "json"}.Validate())
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	require.NotNil(t, l.Underlying())
}

func TestLogger_ContextFields(t *testing.T) {
	l, logs := NewTestLogger()

	ctx := WithTrigger(WithSession(context.Background(), "s-1"), "filter")
	l.Info(ctx, "recomputed", zap.Int("count", 3))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "s-1", fields["session_id"])
	assert.Equal(t, "filter", fields["trigger"])
	assert.EqualValues(t, 3, fields["count"])
	assert.Equal(t, "s-1", SessionFromContext(ctx))
}

func TestLogger_NoContextFields(t *testing.T) {
	l, logs := NewTestLogger()
	l.Warn(context.Background(), "plain")
	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
}
