package chatintake

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"project-tachyon/internal/eventbus"
	"project-tachyon/internal/jobs"
	"project-tachyon/internal/routing"
	"project-tachyon/internal/storage"
)

func TestMediaKindFromMIME(t *testing.T) {
	require.Equal(t, "Images", string(mediaKindFromMIME("image/png")))
	require.Equal(t, "Videos", string(mediaKindFromMIME("video/mp4")))
	require.Equal(t, "Documents", string(mediaKindFromMIME("application/pdf")))
	require.Equal(t, "Documents", string(mediaKindFromMIME("")))
}

func TestSanitizeFilenameStripsDisallowedCharsAndTruncates(t *testing.T) {
	require.Equal(t, "clip.mp4", sanitizeFilename(`clip<>:"/\|?*.mp4`))

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	require.Len(t, sanitizeFilename(string(long)), 100)
}

func TestHandleInboundFileRejectsCollidingDestinationWithoutCreatingJob(t *testing.T) {
	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	baseDir := t.TempDir()
	rt := routing.New(store, baseDir)

	in := New(store, eventbus.New(), jobs.NewRegistry(), rt, nil, nil, nil, nil, slog.New(slog.NewTextHandler(os.Stderr, nil)))

	// Pre-create the file handleInboundFile would otherwise resolve
	// "clip.mp4" to, for the chat source_tag's default Documents
	// directory (suggested MIME type is left empty here).
	docsDir := filepath.Join(baseDir, "Documents")
	require.NoError(t, os.MkdirAll(docsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docsDir, "clip.mp4"), []byte("x"), 0o644))

	downloadCalled := false
	in.handleInboundFile(context.Background(), InboundFile{
		MessageID:         42,
		SuggestedFilename: "clip.mp4",
		Download: func(ctx context.Context, destPath string, progressFn func(current, total int64)) error {
			downloadCalled = true
			return nil
		},
	})

	require.False(t, downloadCalled, "a colliding inbound file must never start a Worker")

	_, err = store.GetJobByExternalID("42")
	require.Error(t, err, "a colliding inbound file must not create a job row")
}
