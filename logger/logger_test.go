package logger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDailyFile(t *testing.T) {
	day := time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC)
	require.Equal(t, "logs/log_2024-03-09.txt", DailyFile("logs", day))
}

func TestWithKeepsKeyValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	lg := NewZap(zap.New(core)).With("chain", uint64(5)).With("nonce", uint64(2))

	lg.Info("redeemed", "amount", "10")

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	require.Equal(t, "redeemed", entries[0].Message)
	require.Equal(t, uint64(5), ctx["chain"])
	require.Equal(t, uint64(2), ctx["nonce"])
	require.Equal(t, "10", ctx["amount"])
}

func TestContextLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	lg := NewZap(zap.New(core))

	ctx := SetContextLogger(context.Background(), lg)
	FromContext(ctx).Warn("duplicate relay")
	FromContext(context.Background()).Warn("dropped")

	require.Equal(t, 1, logs.Len())
}

func TestNopNewSystem(t *testing.T) {
	lg := NewNop().NewSystem("observer").With("k", "v")
	lg.Info("nothing")
}

func TestNewSystemKeepsKeyValues(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	lg := NewZap(zap.New(core)).With("chainId", uint64(56))

	sub := lg.NewSystem("relay").NewSystem("worker").With("nonce", uint64(3))

	zl, ok := sub.(*zapLogger)
	require.True(t, ok)
	require.Equal(t, []interface{}{"chainId", uint64(56), "nonce", uint64(3)}, zl.commonKeysAndValues)
}
