package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := context.WithValue(context.Background(), CommandKey, "encode")
	ctx = context.WithValue(ctx, PartitionKey, 3)
	ctx = context.WithValue(ctx, FieldKey, "FORMAT/GT")

	withContext(base, ctx).Info("task started")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "encode", fields["command"])
	assert.Equal(t, int64(3), fields["partition"])
	assert.Equal(t, "FORMAT/GT", fields["field"])
}

func TestWithContextEmpty(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	withContext(base, context.Background()).Info("bare")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
}
