package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFallsBackToInfoOnUnrecognizedLevel(t *testing.T) {
	logger := New("not-a-level")
	require.NotNil(t, logger)
	require.False(t, logger.Enabled(nil, -4)) // slog.LevelDebug
}

func TestNewHonorsDebugLevel(t *testing.T) {
	logger := New("debug")
	require.True(t, logger.Enabled(nil, -4))
}

func TestDebugIsNoopBeforeInit(t *testing.T) {
	global = debugLog{}
	Debug("should not panic: %d", 1)
}

func TestInitDebugLogWritesTimestampedLines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, InitDebugLog(dir))
	t.Cleanup(func() { _ = InitDebugLog("") })

	Debug("agent %s dispatching tool %s", "a1", "glob")

	contents, err := os.ReadFile(filepath.Join(dir, "ikigai-debug.log"))
	require.NoError(t, err)
	require.Contains(t, string(contents), "=== IKIGAI DEBUG LOG ===")
	require.Contains(t, string(contents), "agent a1 dispatching tool glob")
}

func TestInitDebugLogEmptyDirDisablesLogging(t *testing.T) {
	require.NoError(t, InitDebugLog(t.TempDir()))
	require.NoError(t, InitDebugLog(""))
	Debug("dropped silently")
}
