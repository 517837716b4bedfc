// Package bandwidth adapts the teacher's global speed limiter to the
// two places the orchestrator can actually apply a rate cap: blocking
// a Chat Download Worker's progress callback so it backpressures the
// underlying transfer (the orchestrator owns that I/O directly), and
// building a --limit-rate flag for a URL Download Worker's extractor
// subprocess (which performs its own I/O out of process, where only
// the subprocess can see raw bytes). Grounded on
// internal/network/bandwidth.go's BandwidthManager, generalized from a
// TaskID->priority map (every caller used the same Normal priority) to
// a single global cap with two consumption paths.
package bandwidth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Manager holds the operator-configured global byte-rate cap.
type Manager struct {
	mu          sync.RWMutex
	limiter     *rate.Limiter
	enabled     atomic.Bool
	bytesPerSec int
}

// New builds a Manager with no cap.
func New() *Manager {
	return &Manager{limiter: rate.NewLimiter(rate.Inf, 0)}
}

// SetLimit sets the global cap in bytes/sec. 0 disables it.
func (m *Manager) SetLimit(bytesPerSec int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytesPerSec = bytesPerSec
	if bytesPerSec <= 0 {
		m.enabled.Store(false)
		m.limiter.SetLimit(rate.Inf)
		return
	}
	m.enabled.Store(true)
	m.limiter.SetLimit(rate.Limit(bytesPerSec))
	m.limiter.SetBurst(bytesPerSec)
}

// Wait blocks until n bytes may be consumed under the global cap.
// Returns immediately if no cap is configured or n <= 0.
func (m *Manager) Wait(ctx context.Context, n int) error {
	if !m.enabled.Load() || n <= 0 {
		return nil
	}
	for n > 0 {
		chunk := min(n, m.limiter.Burst())
		if err := m.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// ExtractorArgs returns the extra command-line arguments a URL
// Download Worker should append to cap a subprocess that manages its
// own I/O, or nil if no cap is configured.
func (m *Manager) ExtractorArgs() []string {
	if !m.enabled.Load() {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return []string{"--limit-rate", fmt.Sprintf("%d", m.bytesPerSec)}
}
