package logger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Levels(t *testing.T) {
	for _, tc := range []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zap.DebugLevel},
		{"warn", zap.WarnLevel},
		{"bogus", zap.InfoLevel},
	} {
		t.Run(tc.level, func(t *testing.T) {
			l, err := New(tc.level, "json")
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tc.want))
			assert.False(t, l.Core().Enabled(tc.want-1))
		})
	}
}

func TestThrottler_Warn(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	th := NewThrottler(zap.New(core), time.Hour)

	th.Warn("evt-1", "no topic")
	th.Warn("evt-1", "no topic")
	th.Warn("evt-2", "no topic")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, zap.DebugLevel, entries[1].Level)
	assert.Equal(t, zap.WarnLevel, entries[2].Level)
}
