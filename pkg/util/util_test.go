package util

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zap.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zap.InfoLevel, ParseLevel("loud"))
	assert.Equal(t, zap.InfoLevel, ParseLevel(""))
}

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "broker.log")
	logger, err := NewLoggerWithFile(path, "info")
	require.NoError(t, err)

	logger.Sugar().Infow("order_placed", "key", "bo1:o1")
	logger.Sugar().Debugw("dropped")
	logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"order_placed"`)
	assert.Contains(t, string(data), `"key":"bo1:o1"`)
	assert.NotContains(t, string(data), "dropped")
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), FixedClock{}, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, RealClock{}, time.Hour), context.Canceled)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample().Sugar()
	assert.Same(t, l, OrNop(l))
}
