package urlworker

import (
	"bufio"
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"project-tachyon/internal/eventbus"
	"project-tachyon/internal/metrics"
	"project-tachyon/internal/storage"
)

func TestParseProgressLineBinaryUnit(t *testing.T) {
	percent, total, speed, eta, ok := parseProgressLine("[download]  42.5% of ~50.00MiB at 5.00MiB/s ETA 00:10")
	require.True(t, ok)
	require.InDelta(t, 42.5, percent, 0.001)
	require.Equal(t, int64(50*1024*1024), total)
	require.InDelta(t, 5*1024, speed, 0.001)
	require.Equal(t, int64(10), eta)
}

func TestParseProgressLineDecimalUnitDiffersFromBinary(t *testing.T) {
	_, totalMiB, _, _, _ := parseProgressLine("[download]  10.0% of ~1.00MiB at 1.00MiB/s ETA 00:01")
	_, totalMB, _, _, _ := parseProgressLine("[download]  10.0% of ~1.00MB at 1.00MB/s ETA 00:01")
	require.NotEqual(t, totalMiB, totalMB)
	require.Equal(t, int64(1024*1024), totalMiB)
	require.Equal(t, int64(1000*1000), totalMB)
}

func TestParseProgressLineNotAMatch(t *testing.T) {
	_, _, _, _, ok := parseProgressLine("some unrelated log line")
	require.False(t, ok)
}

func TestParseETAFormats(t *testing.T) {
	require.Equal(t, int64(5), parseETA("05"))
	require.Equal(t, int64(65), parseETA("01:05"))
	require.Equal(t, int64(3665), parseETA("01:01:05"))
}

func TestDestinationBasename(t *testing.T) {
	name, ok := destinationBasename("Destination: /data/Videos/Some Clip.mp4")
	require.True(t, ok)
	require.Equal(t, "Some Clip.mp4", name)
}

func TestIsAlreadyDownloaded(t *testing.T) {
	require.True(t, isAlreadyDownloaded("[download] Some Clip.mp4 has already been downloaded"))
	require.False(t, isAlreadyDownloaded("[download]  10.0% of 1.00MiB"))
}

func newTestWorker(t *testing.T, m *metrics.Registry) (*Worker, *storage.Store, string) {
	t.Helper()
	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	externalID := "55555"
	require.NoError(t, store.CreateJob(&storage.Job{
		ExternalID: externalID,
		Kind:       storage.JobKindURL,
		SourceTag:  "youtube",
		File:       "clip.mp4",
		Status:     storage.StatusDownloading,
	}))

	return New(store, eventbus.New(), nil, m), store, externalID
}

func TestRunRecordsStartedAndDoneMetrics(t *testing.T) {
	reg := metrics.New()
	w, store, externalID := newTestWorker(t, reg)

	w.Run(context.Background(), externalID, exec.Command("true"))

	job, err := store.GetJobByExternalID(externalID)
	require.NoError(t, err)
	require.Equal(t, storage.StatusDone, job.Status)

	require.Equal(t, 1.0, testutil.ToFloat64(reg.DownloadsStarted.WithLabelValues("url")))
	require.Equal(t, 1.0, testutil.ToFloat64(reg.DownloadsTotal.WithLabelValues("done", "url")))
	require.Equal(t, 0.0, testutil.ToFloat64(reg.DownloadsInProgress))
}

func TestRunRecordsFailedMetricOnNonZeroExit(t *testing.T) {
	reg := metrics.New()
	w, store, externalID := newTestWorker(t, reg)

	w.Run(context.Background(), externalID, exec.Command("false"))

	job, err := store.GetJobByExternalID(externalID)
	require.NoError(t, err)
	require.Equal(t, storage.StatusFailed, job.Status)

	require.Equal(t, 1.0, testutil.ToFloat64(reg.DownloadsTotal.WithLabelValues("failed", "url")))
	require.Equal(t, 1.0, testutil.ToFloat64(reg.DownloadErrorsTotal.WithLabelValues("url")))
}

func TestScanCRLFSplitsOnBareCarriageReturn(t *testing.T) {
	scanner := bufio.NewScanner(strings.NewReader("line one\rline two\nline three"))
	scanner.Split(scanCRLF)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Equal(t, []string{"line one", "line two", "line three"}, lines)
}
