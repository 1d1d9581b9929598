package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitialize(t *testing.T) {
	err := Initialize(true)
	require.NoError(t, err)
	assert.NotNil(t, GetLogger())
}

func TestGetLogger_FallbackBeforeInit(t *testing.T) {
	saved := logger
	logger = nil
	defer func() { logger = saved }()

	assert.NotNil(t, GetLogger())
}

func TestWithContext_StoresValues(t *testing.T) {
	ctx := WithContext(context.Background(), "cid", "uid", "rid")

	assert.Equal(t, "cid", ctx.Value(CorrelationIDKey))
	assert.Equal(t, "uid", ctx.Value(UserIDKey))
	assert.Equal(t, "rid", ctx.Value(RoomIDKey))
}

func TestWithContext_SkipsEmptyValues(t *testing.T) {
	ctx := WithContext(context.Background(), "cid", "", "")

	assert.Equal(t, "cid", ctx.Value(CorrelationIDKey))
	assert.Nil(t, ctx.Value(UserIDKey))
	assert.Nil(t, ctx.Value(RoomIDKey))
}

func TestAppendContextFields(t *testing.T) {
	ctx := WithContext(context.Background(), "cid", "uid", "rid")

	fields := appendContextFields(ctx, nil)

	keys := make(map[string]bool)
	for _, f := range fields {
		keys[f.Key] = true
	}
	assert.True(t, keys["correlation_id"])
	assert.True(t, keys["user_id"])
	assert.True(t, keys["room_id"])
	assert.True(t, keys["service"])
}

func TestAppendContextFields_NilContext(t *testing.T) {
	fields := appendContextFields(nil, []zap.Field{zap.String("k", "v")})
	assert.Len(t, fields, 1)
}

func TestLogHelpers_DoNotPanic(t *testing.T) {
	ctx := WithContext(context.Background(), "cid", "uid", "rid")
	Debug(ctx, "debug")
	Info(ctx, "info")
	Warn(ctx, "warn")
	Error(ctx, "error")
}
