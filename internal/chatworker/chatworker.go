// Package chatworker drives one chat file download to completion with
// retry, progress accounting, and cancellation (spec §4.F). The
// callback-driven progress tracking is lifted into an explicit
// progressTracker struct per the §9 redesign note: no captured
// mutable free variables, state passed explicitly between callback
// invocations.
package chatworker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"project-tachyon/internal/bandwidth"
	"project-tachyon/internal/eventbus"
	"project-tachyon/internal/metrics"
	"project-tachyon/internal/storage"
)

// retryDelay is the wait between attempts (spec §4.F).
const retryDelay = 5 * time.Second

// statusMirrorInterval is how often the side-channel status message is
// edited, if established (spec §4.F).
const statusMirrorInterval = 20 * time.Second

// Attempt bundles the per-message operations the Worker invokes. These
// come from the inbound file the Chat Intake handed off.
type Attempt struct {
	Download          func(ctx context.Context, destPath string, progressFn func(current, total int64)) error
	EditStatusMessage func(ctx context.Context, percent float64) error
}

// progressTracker holds the mutable state a progress callback needs
// between invocations, owned by a single Worker goroutine. Replaces
// the teacher's pattern of closures capturing loop variables.
type progressTracker struct {
	lastCurrent       int64
	lastWallClock     time.Time
	lastEmitWallClock time.Time
	lastMirrorAt      time.Time
	throttle          time.Duration
}

func newProgressTracker() *progressTracker {
	now := time.Now()
	return &progressTracker{
		lastWallClock: now,
		throttle:      time.Second,
	}
}

// observe computes instantaneous speed in KiB/s and reports whether
// this sample should be emitted on the (throttled) progress topic.
func (p *progressTracker) observe(current, total int64, force bool) (speedKiBs float64, emit bool) {
	now := time.Now()
	deltaSeconds := now.Sub(p.lastWallClock).Seconds()
	if deltaSeconds < 0.001 {
		deltaSeconds = 0.001
	}
	speedKiBs = float64(current-p.lastCurrent) / 1024 / deltaSeconds

	p.lastCurrent = current
	p.lastWallClock = now

	if force || now.Sub(p.lastEmitWallClock) >= p.throttle {
		p.lastEmitWallClock = now
		emit = true
	}
	return speedKiBs, emit
}

func (p *progressTracker) shouldMirror() bool {
	now := time.Now()
	if now.Sub(p.lastMirrorAt) >= statusMirrorInterval {
		p.lastMirrorAt = now
		return true
	}
	return false
}

// Worker owns the retry loop for one Chat job.
type Worker struct {
	store      *storage.Store
	bus        *eventbus.Bus
	bw         *bandwidth.Manager
	maxRetries int
	logger     *slog.Logger
	metrics    *metrics.Registry
}

// New builds a Worker. maxRetries defaults to 6 if zero or negative.
// bw may be nil to apply no global rate cap. m may be nil to record no
// metrics.
func New(store *storage.Store, bus *eventbus.Bus, bw *bandwidth.Manager, maxRetries int, m *metrics.Registry) *Worker {
	if maxRetries <= 0 {
		maxRetries = 6
	}
	if bw == nil {
		bw = bandwidth.New()
	}
	return &Worker{store: store, bus: bus, bw: bw, maxRetries: maxRetries, metrics: m}
}

// Run executes the retry protocol of spec §4.F to completion,
// cancellation, or retry exhaustion.
func (w *Worker) Run(ctx context.Context, externalID, destPath string, attempt Attempt) {
	if w.metrics != nil {
		w.metrics.RecordStarted("chat")
	}

	var lastErr error

	for n := 0; n < w.maxRetries; n++ {
		if ctx.Err() != nil {
			w.onCancelled(externalID)
			return
		}

		tracker := newProgressTracker()
		err := attempt.Download(ctx, destPath, func(current, total int64) {
			w.onProgress(externalID, tracker, current, total, attempt)
		})

		if err == nil {
			w.onSuccess(externalID)
			return
		}

		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			w.onCancelled(externalID)
			return
		}

		lastErr = err
		if w.logger != nil {
			w.logger.Warn("chat download attempt failed", "external_id", externalID, "attempt", n+1, "error", err)
		}
		if w.metrics != nil {
			w.metrics.RecordRetry("chat")
		}

		select {
		case <-ctx.Done():
			w.onCancelled(externalID)
			return
		case <-time.After(retryDelay):
		}
	}

	w.onExhausted(externalID, lastErr)
}

func (w *Worker) onProgress(externalID string, tracker *progressTracker, current, total int64, attempt Attempt) {
	delta := int(current - tracker.lastCurrent)
	speed, emit := tracker.observe(current, total, total > 0 && current >= total)

	// Backpressures the transfer against the operator's global
	// bandwidth cap, if any.
	if delta > 0 {
		_ = w.bw.Wait(context.Background(), delta)
	}

	var pendingTime *int64
	if total > 0 && speed > 0 {
		remainingKiB := float64(total-current) / 1024
		secs := int64(remainingKiB / speed)
		pendingTime = &secs
	}

	progress := 0.0
	if total > 0 {
		progress = float64(current) / float64(total) * 100
	}

	_ = w.store.UpdateByExternalID(externalID, map[string]interface{}{
		"progress":         progress,
		"downloaded_bytes": current,
		"total_bytes":      total,
		"speed":            speed,
		"pending_time":     pendingTime,
	})

	if emit {
		w.bus.Publish(eventbus.TopicProgress, map[string]interface{}{
			"external_id":      externalID,
			"progress":         progress,
			"downloaded_bytes": current,
			"total_bytes":      total,
			"speed":            speed,
			"pending_time":     pendingTime,
		})
	}

	if attempt.EditStatusMessage != nil && tracker.shouldMirror() {
		// Best-effort side-channel mirror; errors never poison the
		// primary download (spec §7).
		go func() { _ = attempt.EditStatusMessage(context.Background(), progress) }()
	}
}

func (w *Worker) onSuccess(externalID string) {
	_ = w.store.UpdateByExternalID(externalID, map[string]interface{}{
		"status":       storage.StatusDone,
		"progress":     100.0,
		"speed":        0.0,
		"pending_time": int64(0),
	})
	w.bus.Publish(eventbus.TopicStatus, map[string]interface{}{"external_id": externalID, "status": storage.StatusDone})
	w.recordTerminal(externalID, "done")
}

func (w *Worker) onCancelled(externalID string) {
	_ = w.store.UpdateByExternalID(externalID, map[string]interface{}{
		"status": storage.StatusStopped,
		"speed":  0.0,
	})
	w.bus.Publish(eventbus.TopicStatus, map[string]interface{}{"external_id": externalID, "status": storage.StatusStopped})
	w.recordTerminal(externalID, "stopped")
}

func (w *Worker) onExhausted(externalID string, lastErr error) {
	errMsg := "download failed after retries"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	_ = w.store.UpdateByExternalID(externalID, map[string]interface{}{
		"status":       storage.StatusFailed,
		"speed":        0.0,
		"pending_time": nil,
		"error":        errMsg,
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
	w.metrics.RecordTerminal(status, "chat", job.TotalBytes, time.Since(job.CreatedAt).Seconds())
}
