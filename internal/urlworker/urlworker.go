// Package urlworker supervises one extractor subprocess per job: it
// parses the combined stdout/stderr progress stream, classifies
// completion by exit code and signal, and enforces cancellation by
// signal escalation. Grounded on other_examples' ytdlp-nfo-server
// download.go for the subprocess-reader shape, generalized from a
// fixed line-append to the three-way line classification spec §4.G
// requires, and on internal/engine/manager.go's activeDownloadInfo
// for the cancel/wait handshake (now delegated to internal/jobs).
package urlworker

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"project-tachyon/internal/eventbus"
	"project-tachyon/internal/metrics"
	"project-tachyon/internal/storage"
)

// killGrace is how long the Worker waits after SIGTERM before
// escalating to SIGKILL (spec §4.G).
const killGrace = 5 * time.Second

// progressLineRe captures percent, total size(+unit), speed(+unit) and
// ETA from a tolerant progress line, honoring spec §9's note that
// KiB/KB must not be conflated.
var progressLineRe = regexp.MustCompile(
	`(?i)\[download\]\s+([\d.]+)%\s+of\s+~?\s*([\d.]+)\s*(KiB|MiB|GiB|KB|MB|GB|B)` +
		`(?:\s+at\s+([\d.]+)\s*(KiB|MiB|GiB|KB|MB|GB|B)/s)?` +
		`(?:\s+ETA\s+(\d{1,2}:\d{2}(?::\d{2})?))?`,
)

var destinationLineRe = regexp.MustCompile(`(?i)Destination:\s*(.+)$`)

// unitMultiplier is the literal (not conflated) KiB/KB table called
// for by spec §9: binary units are powers of 1024, decimal units are
// powers of 1000.
var unitMultiplier = map[string]float64{
	"B":   1,
	"KiB": 1024,
	"MiB": 1024 * 1024,
	"GiB": 1024 * 1024 * 1024,
	"KB":  1000,
	"MB":  1000 * 1000,
	"GB":  1000 * 1000 * 1000,
}

// Worker drives one URL download subprocess to completion.
type Worker struct {
	store    *storage.Store
	bus      *eventbus.Bus
	throttle *eventbus.Throttle
	logger   *slog.Logger
	metrics  *metrics.Registry
}

// New builds a Worker. m may be nil to record no metrics.
func New(store *storage.Store, bus *eventbus.Bus, logger *slog.Logger, m *metrics.Registry) *Worker {
	return &Worker{
		store:    store,
		bus:      bus,
		throttle: eventbus.NewThrottle(time.Second),
		logger:   logger,
		metrics:  m,
	}
}

// Run supervises one subprocess for externalID built from cmd, until
// it exits or ctx is cancelled. If ctx is cancelled first (always the
// operator's stop/delete or shutdown path, the only things holding a
// cancel handle into this context), the job is marked stopped
// directly. If the subprocess exits on its own first — whether
// cleanly or because an external actor killed it out of band — that
// path goes through classifyExit, which marks a nonzero, non-stopped
// exit as failed per spec §8's boundary behaviors.
func (w *Worker) Run(ctx context.Context, externalID string, cmd *exec.Cmd) {
	if w.metrics != nil {
		w.metrics.RecordStarted("url")
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		w.fail(externalID, err.Error())
		return
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		w.fail(externalID, err.Error())
		return
	}

	waitCh := make(chan struct{})
	go func() {
		defer close(waitCh)
		w.readLines(externalID, stdout)
	}()

	procDone := make(chan error, 1)
	go func() { procDone <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		w.terminateWithEscalation(cmd, procDone)
		<-waitCh
		job, _ := w.store.GetJobByExternalID(externalID)
		if job != nil && job.Status == storage.StatusDone {
			return
		}
		w.store.UpdateByExternalID(externalID, map[string]interface{}{
			"status": storage.StatusStopped,
			"speed":  0.0,
		})
		w.bus.Publish(eventbus.TopicStatus, map[string]interface{}{"external_id": externalID, "status": storage.StatusStopped})
		w.recordTerminal(externalID, "stopped")
	case waitErr := <-procDone:
		<-waitCh
		w.classifyExit(externalID, waitErr)
	}
}

// readLines consumes the subprocess's combined output using a \r-aware
// split func (yt-dlp rewrites the same terminal line with \r between
// percentage ticks) and classifies each logical line (spec §4.G).
func (w *Worker) readLines(externalID string, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanCRLF)

	var lastLine string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lastLine = line

		if isAlreadyDownloaded(line) {
			w.store.UpdateByExternalID(externalID, map[string]interface{}{
				"status":   storage.StatusDone,
				"progress": 100.0,
				"speed":    0.0,
			})
			w.bus.Publish(eventbus.TopicStatus, map[string]interface{}{"external_id": externalID, "status": storage.StatusDone})
			continue
		}

		if basename, ok := destinationBasename(line); ok {
			w.store.UpdateByExternalID(externalID, map[string]interface{}{"file": basename})
			continue
		}

		if percent, totalBytes, speedKiBs, etaSeconds, ok := parseProgressLine(line); ok {
			w.handleProgress(externalID, percent, totalBytes, speedKiBs, etaSeconds)
		}
	}

	if lastLine != "" {
		w.store.UpdateByExternalID(externalID, map[string]interface{}{"error": lastLine})
	}
}

func (w *Worker) handleProgress(externalID string, percent float64, totalBytes int64, speedKiBs float64, etaSeconds int64) {
	downloadedBytes := int64(float64(totalBytes) * percent / 100)

	var pendingTime *int64
	if etaSeconds > 0 {
		pendingTime = &etaSeconds
	}

	w.store.UpdateByExternalID(externalID, map[string]interface{}{
		"progress":         percent,
		"downloaded_bytes": downloadedBytes,
		"total_bytes":      totalBytes,
		"speed":            speedKiBs,
		"pending_time":     pendingTime,
	})

	if w.throttle.Allow() || percent >= 100 {
		w.bus.Publish(eventbus.TopicProgress, map[string]interface{}{
			"external_id":      externalID,
			"progress":         percent,
			"downloaded_bytes": downloadedBytes,
			"total_bytes":      totalBytes,
			"speed":            speedKiBs,
			"pending_time":     pendingTime,
		})
	}
}

func (w *Worker) terminateWithEscalation(cmd *exec.Cmd, procDone <-chan error) {
	if cmd.Process == nil {
		return
	}
	cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-procDone:
		return
	case <-time.After(killGrace):
		cmd.Process.Kill()
	}
}

func (w *Worker) classifyExit(externalID string, waitErr error) {
	if waitErr == nil {
		w.store.UpdateByExternalID(externalID, map[string]interface{}{
			"status":   storage.StatusDone,
			"progress": 100.0,
			"speed":    0.0,
			"error":    "",
		})
		w.bus.Publish(eventbus.TopicStatus, map[string]interface{}{"external_id": externalID, "status": storage.StatusDone})
		w.recordTerminal(externalID, "done")
		return
	}

	job, _ := w.store.GetJobByExternalID(externalID)
	if job != nil && (job.Status == storage.StatusStopped || job.Status == storage.StatusDone) {
		return
	}

	// readLines has stored the subprocess's last output line as error;
	// it is the recorded reason when there was one.
	errMsg := waitErr.Error()
	if job != nil && job.Error != "" {
		errMsg = job.Error
	}
	w.fail(externalID, errMsg)
}

func (w *Worker) fail(externalID, errMsg string) {
	w.store.UpdateByExternalID(externalID, map[string]interface{}{
		"status": storage.StatusFailed,
		"speed":  0.0,
		"error":  errMsg,
	})
	w.bus.Publish(eventbus.TopicStatus, map[string]interface{}{"external_id": externalID, "status": storage.StatusFailed, "error": errMsg})
	w.recordTerminal(externalID, "failed")
}

// recordTerminal feeds a terminal status into the metrics registry, if
// one is wired, loading the job's final size and age from the store.
func (w *Worker) recordTerminal(externalID, status string) {
	if w.metrics == nil {
		return
	}
	job, err := w.store.GetJobByExternalID(externalID)
	if err != nil {
		return
	}
	w.metrics.RecordTerminal(status, "url", job.TotalBytes, time.Since(job.CreatedAt).Seconds())
}

// scanCRLF is a bufio.SplitFunc that treats both "\n" and a bare "\r"
// as line terminators, matching yt-dlp's habit of overwriting the
// current line with \r for percentage ticks and finishing with \n
// once. Grounded on the manual strings.Split(line, "\r") pattern of
// other_examples' ytdlp-nfo-server download.go, lifted into a proper
// Scanner split func so it composes with bufio.Scanner's buffering.
func scanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[0:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// parseProgressLine parses a tolerant progress line into its fields.
// Returns ok=false if the line is not a progress line.
func parseProgressLine(line string) (percent float64, totalBytes int64, speedKiBs float64, etaSeconds int64, ok bool) {
	m := progressLineRe.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, 0, 0, false
	}

	percent, _ = strconv.ParseFloat(m[1], 64)

	if size, err := strconv.ParseFloat(m[2], 64); err == nil {
		totalBytes = int64(size * unitMultiplier[normalizeUnit(m[3])])
	}

	if m[4] != "" {
		if speed, err := strconv.ParseFloat(m[4], 64); err == nil {
			bytesPerSec := speed * unitMultiplier[normalizeUnit(m[5])]
			speedKiBs = bytesPerSec / 1024
		}
	}

	if m[6] != "" {
		etaSeconds = parseETA(m[6])
	}

	return percent, totalBytes, speedKiBs, etaSeconds, true
}

// normalizeUnit preserves the literal case distinction between KiB
// (binary) and KB (decimal) rather than folding both to one table
// entry, per spec §9.
func normalizeUnit(unit string) string {
	if unit == "" {
		return "B"
	}
	// Canonicalize casing of the non-ambiguous letters only; the
	// distinguishing "i" must survive untouched.
	if strings.EqualFold(unit, "b") {
		return "B"
	}
	upper := strings.ToUpper(unit)
	if strings.Contains(upper, "I") {
		return upper[:1] + "iB"
	}
	return upper
}

// parseETA parses H:MM:SS, MM:SS, or SS into total seconds.
func parseETA(s string) int64 {
	parts := strings.Split(s, ":")
	var total int64
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return 0
		}
		total = total*60 + n
	}
	return total
}

func destinationBasename(line string) (string, bool) {
	m := destinationLineRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	path := strings.TrimSpace(m[1])
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		path = path[i+1:]
	}
	return path, true
}

func isAlreadyDownloaded(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "has already been downloaded")
}
