// Package audit logs every Control Surface request for later review.
// Adapted from internal/security/audit.go's AuditLogger: the same
// append-only JSON-lines file plus a recent-entries reader, with the
// Wails runtime.EventsEmit UI mirror replaced by a publish onto the
// Event Bus (there is no Wails runtime here).
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"project-tachyon/internal/eventbus"
)

// Entry is one audit record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SourceIP  string    `json:"source_ip"`
	UserAgent string    `json:"user_agent"`
	Action    string    `json:"action"`
	Status    int       `json:"status"`
	Details   string    `json:"details,omitempty"`
}

// Logger appends every entry to a JSON-lines file and fans it out on
// the "audit" bus topic.
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	bus     *eventbus.Bus
	slogger *slog.Logger
}

// New opens (creating if absent) the audit log under dataDir/logs.
func New(dataDir string, bus *eventbus.Bus, slogger *slog.Logger) (*Logger, error) {
	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(logDir, "access.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Logger{file: f, path: path, bus: bus, slogger: slogger}, nil
}

// Log records one Control Surface request.
func (l *Logger) Log(sourceIP, userAgent, action string, status int, details string) {
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		SourceIP:  sourceIP,
		UserAgent: userAgent,
		Action:    action,
		Status:    status,
		Details:   details,
	}

	l.mu.Lock()
	if l.file != nil {
		if line, err := json.Marshal(entry); err == nil {
			l.file.Write(append(line, '\n'))
		}
	}
	l.mu.Unlock()

	if l.bus != nil {
		l.bus.Publish("audit", entry)
	}

	if l.slogger != nil {
		level := slog.LevelInfo
		if status >= 400 {
			level = slog.LevelWarn
		}
		l.slogger.Log(context.Background(), level, "control surface request", "action", action, "status", status, "ip", sourceIP)
	}
}

// Recent returns up to limit entries, most recent first.
func (l *Logger) Recent(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	content, err := os.ReadFile(l.path)
	if err != nil {
		return nil
	}

	lines := strings.Split(string(content), "\n")
	entries := make([]Entry, 0, limit)
	for i := len(lines) - 1; i >= 0 && len(entries) < limit; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err == nil {
			entries = append(entries, entry)
		}
	}
	return entries
}

// Close releases the underlying file handle.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
