package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"project-tachyon/internal/storage"
)

func TestStartRejectsDuplicateExternalID(t *testing.T) {
	r := NewRegistry()
	_, _, release, ok := r.Start(context.Background(), "123", storage.JobKindChat)
	require.True(t, ok)
	defer release()

	_, _, _, ok = r.Start(context.Background(), "123", storage.JobKindChat)
	require.False(t, ok)
}

func TestCancelPropagatesToWorkerContext(t *testing.T) {
	r := NewRegistry()
	workerCtx, _, release, ok := r.Start(context.Background(), "abc-123", storage.JobKindURL)
	require.True(t, ok)
	defer release()

	require.True(t, r.Cancel("abc-123"))

	select {
	case <-workerCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("worker context was not cancelled")
	}
}

func TestReleaseAllowsRestart(t *testing.T) {
	r := NewRegistry()
	_, _, release, ok := r.Start(context.Background(), "123", storage.JobKindChat)
	require.True(t, ok)
	require.True(t, r.Running("123"))

	release()
	require.False(t, r.Running("123"))

	_, _, release2, ok := r.Start(context.Background(), "123", storage.JobKindChat)
	require.True(t, ok)
	release2()
}

func TestWaitReturnsAfterRelease(t *testing.T) {
	r := NewRegistry()
	_, _, release, ok := r.Start(context.Background(), "123", storage.JobKindChat)
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		r.Wait("123")
		close(done)
	}()

	release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after release")
	}
}

func TestCountByKind(t *testing.T) {
	r := NewRegistry()
	_, _, release1, _ := r.Start(context.Background(), "1", storage.JobKindChat)
	_, _, release2, _ := r.Start(context.Background(), "a-1", storage.JobKindURL)
	defer release1()
	defer release2()

	require.Equal(t, 2, r.Count(""))
	require.Equal(t, 1, r.Count(storage.JobKindChat))
	require.Equal(t, 1, r.Count(storage.JobKindURL))
}

func TestDispatchKind(t *testing.T) {
	require.Equal(t, storage.JobKindChat, DispatchKind("123456"))
	require.Equal(t, storage.JobKindURL, DispatchKind("8e2b7e4c-1111-4a3b-9c1d-000000000000"))
}
