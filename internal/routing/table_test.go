package routing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"project-tachyon/internal/storage"
)

func newTestTable(t *testing.T) (*Table, string) {
	t.Helper()
	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	base := t.TempDir()
	return New(store, base), base
}

func TestResolveDestinationFallsBackToDefault(t *testing.T) {
	table, base := newTestTable(t)
	dest, err := table.ResolveDestination("youtube", MediaVideos)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, "Videos"), dest)
}

func TestResolveDestinationPrefersConfiguredFolder(t *testing.T) {
	table, base := newTestTable(t)
	custom := filepath.Join(base, "custom")
	require.NoError(t, os.MkdirAll(custom, 0o755))

	err := table.store.UpsertRoutingEntry(&storage.SourceRoutingEntry{
		SourceTag:         "youtube",
		DestinationFolder: custom,
	})
	require.NoError(t, err)

	dest, err := table.ResolveDestination("youtube", MediaVideos)
	require.NoError(t, err)
	require.Equal(t, custom, dest)
}

func TestIsAccessRestricted(t *testing.T) {
	table, _ := newTestTable(t)
	require.False(t, table.IsAccessRestricted("adult-site"))

	require.NoError(t, table.store.UpsertRoutingEntry(&storage.SourceRoutingEntry{
		SourceTag:        "adult-site",
		AccessRestricted: true,
	}))
	require.True(t, table.IsAccessRestricted("adult-site"))
}

func TestPreferredFormat(t *testing.T) {
	formats := []Format{
		{ID: "18", Height: 360},
		{ID: "247", Height: 720},
		{ID: "299", Height: 1080},
	}

	best, ok := PreferredFormat(formats, "720p")
	require.True(t, ok)
	require.Equal(t, "247", best.ID)

	best, ok = PreferredFormat(formats, "")
	require.True(t, ok)
	require.Equal(t, "299", best.ID)

	_, ok = PreferredFormat(nil, "720p")
	require.False(t, ok)
}
