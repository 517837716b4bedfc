package audit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"project-tachyon/internal/eventbus"
)

func TestLogAndRecent(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir, eventbus.New(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })

	logger.Log("127.0.0.1", "test-agent", "POST /stop", 200, "")
	logger.Log("127.0.0.1", "test-agent", "POST /retry", 404, "not found")

	entries := logger.Recent(10)
	require.Len(t, entries, 2)
	require.Equal(t, "POST /retry", entries[0].Action)
	require.Equal(t, "POST /stop", entries[1].Action)
}

func TestRecentEmptyWhenNoEntries(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir, eventbus.New(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })

	require.Empty(t, logger.Recent(10))
}
