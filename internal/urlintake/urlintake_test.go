package urlintake

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"project-tachyon/internal/congestion"
	"project-tachyon/internal/extractor"
	"project-tachyon/internal/jobs"
	"project-tachyon/internal/routing"
	"project-tachyon/internal/storage"
)

func TestSourceTagStripsWWWAndTakesRegistrableLabel(t *testing.T) {
	require.Equal(t, "youtube", SourceTag("https://www.youtube.com/watch?v=abc"))
	require.Equal(t, "vimeo", SourceTag("https://vimeo.com/12345"))
}

func TestSourceTagTwoLevelSuffix(t *testing.T) {
	require.Equal(t, "bbc", SourceTag("https://www.bbc.co.uk/news/12345"))
}

func TestSourceTagUnknownOnParseFailure(t *testing.T) {
	require.Equal(t, "unknown", SourceTag("::not a url::"))
}

func TestSanitizeTitleStripsDisallowedCharsAndTruncates(t *testing.T) {
	require.Equal(t, "Clip", sanitizeTitle(`Clip<>:"/\|?*`))

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	require.Len(t, sanitizeTitle(string(long)), 100)
}

func TestAdmitRespectsIdealConcurrencyThenRelease(t *testing.T) {
	in := &Intake{cc: congestion.New(1, 1), active: make(map[string]int)}

	require.True(t, in.admit("youtube"))
	require.False(t, in.admit("youtube"), "a second job for the same source_tag should be refused at concurrency 1")

	in.release("youtube")
	require.True(t, in.admit("youtube"), "releasing the first slot should admit a new job")
}

func TestAdmitTracksSourceTagsIndependently(t *testing.T) {
	in := &Intake{cc: congestion.New(1, 1), active: make(map[string]int)}

	require.True(t, in.admit("youtube"))
	require.True(t, in.admit("vimeo"), "a different source_tag has its own concurrency budget")
}

func TestApplyPreferredFormatMatchesRoutingQuality(t *testing.T) {
	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	rt := routing.New(store, t.TempDir())

	require.NoError(t, store.UpsertRoutingEntry(&storage.SourceRoutingEntry{
		SourceTag:        "youtube",
		PreferredQuality: "720p",
	}))

	result := extractor.ProbeResult{
		Formats: []extractor.Format{
			{ID: "18", Height: 360},
			{ID: "247", Height: 720},
			{ID: "299", Height: 1080},
		},
		BestFormatID: "299",
	}

	applied := applyPreferredFormat(result, "youtube", rt)
	require.Equal(t, "247", applied.BestFormatID)
}

func TestApplyPreferredFormatFallsBackToHighestWithoutRoutingEntry(t *testing.T) {
	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	rt := routing.New(store, t.TempDir())

	result := extractor.ProbeResult{
		Formats: []extractor.Format{
			{ID: "18", Height: 360},
			{ID: "299", Height: 1080},
		},
	}

	applied := applyPreferredFormat(result, "unrouted-site", rt)
	require.Equal(t, "299", applied.BestFormatID)
}

func TestStartRejectsDestinationThatAlreadyExists(t *testing.T) {
	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	baseDir := t.TempDir()
	rt := routing.New(store, baseDir)

	in := New(store, nil, jobs.NewRegistry(), rt, extractor.New("yt-dlp"), func() string { return "" }, nil, nil, nil, nil, slog.New(slog.NewTextHandler(os.Stderr, nil)))

	// Pre-create the file Start would otherwise resolve "My Video.mp4" to.
	videosDir := filepath.Join(baseDir, "Videos")
	require.NoError(t, os.MkdirAll(videosDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(videosDir, "My Video.mp4"), []byte("x"), 0o644))

	_, err = in.Start(context.Background(), StartParams{
		URL:   "https://www.youtube.com/watch?v=abc",
		Title: "My Video",
		Ext:   "mp4",
	})
	require.Error(t, err)

	_, total, _, err := store.List(storage.ListFilter{Filter: "all", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, int64(0), total, "a colliding submission must not create a job row")
}
