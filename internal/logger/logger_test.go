package logger

import (
	"os"
	"path/filepath"
	"testing"

	"binance-regime-grid-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	l := InitLogger(models.LogConfig{Level: "warn", Output: "file", File: path, MaxSize: 1})
	require.Same(t, l, L())

	S().Info("不会写入")
	S().Warnf("风控状态升级: %s", "HALT")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "风控状态升级: HALT")
	assert.NotContains(t, string(data), "不会写入")
	assert.NotContains(t, string(data), "\x1b[", "no color codes in files")
}

func TestInitLogger_FallsBackToConsole(t *testing.T) {
	l := InitLogger(models.LogConfig{Level: "nonsense", Output: "file"})
	require.NotNil(t, l)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel), "invalid level falls back to info")
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}
