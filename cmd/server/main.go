// Command server is the headless bootstrap for the download
// orchestrator, replacing the teacher's Wails desktop shell with a
// plain process: build every component, start the background Intakes
// and the Control Surface, wait on a termination signal, and drain
// running Workers before exiting. Grounded on the teacher's main.go
// component construction order (logger, storage, engine equivalents,
// config, audit, control server) and its deadline-bounded shutdown.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"project-tachyon/internal/audit"
	"project-tachyon/internal/bandwidth"
	"project-tachyon/internal/chatintake"
	"project-tachyon/internal/config"
	"project-tachyon/internal/congestion"
	"project-tachyon/internal/control"
	"project-tachyon/internal/eventbus"
	"project-tachyon/internal/extractor"
	"project-tachyon/internal/jobqueue"
	"project-tachyon/internal/jobs"
	"project-tachyon/internal/logger"
	"project-tachyon/internal/metrics"
	"project-tachyon/internal/routing"
	"project-tachyon/internal/storage"
	"project-tachyon/internal/urlintake"
)

// shutdownDeadline bounds how long main waits for running Workers to
// acknowledge cancellation before exiting anyway (spec §5 "bounded
// period").
const shutdownDeadline = 10 * time.Second

// defaultSweepSchedule runs the file-existence sweep every six hours.
const defaultSweepSchedule = "0 */6 * * *"

func main() {
	dataDir := envOrDefault("ORCHESTRATOR_DATA_DIR", "./data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create data dir %s: %v\n", dataDir, err)
		os.Exit(1)
	}

	bus := eventbus.New()

	log, err := logger.New(os.Stdout, dataDir, bus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.NewStore(filepath.Join(dataDir, "orchestrator.db"))
	if err != nil {
		log.Error("failed to open job store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	cfg := config.NewManager(store)
	if err := seedDefaultUser(store, log); err != nil {
		log.Error("failed to seed default operator account", "error", err)
		os.Exit(1)
	}

	registry := jobs.NewRegistry()
	rt := routing.New(store, envOrDefault("ORCHESTRATOR_MEDIA_DIR", filepath.Join(dataDir, "media")))

	bw := bandwidth.New()
	bw.SetLimit(cfg.GetMaxBandwidthBytesPerSec())
	cc := congestion.New(1, 4)

	adapter := extractor.New(envOrDefault("ORCHESTRATOR_EXTRACTOR_BIN", "yt-dlp"))

	metricsRegistry := metrics.New()

	urls := urlintake.New(store, bus, registry, rt, adapter, cfg.GetCookiesFile, bw, cc, cfg, metricsRegistry, log)

	chats := chatintake.New(store, bus, registry, rt, cfg, unconfiguredDialer{}, bw, metricsRegistry, log)

	auditLogger, err := audit.New(dataDir, bus, log)
	if err != nil {
		log.Error("failed to open audit log", "error", err)
		os.Exit(1)
	}
	defer auditLogger.Close()
	surface := control.New(store, cfg, bus, registry, rt, urls, auditLogger, metricsRegistry, log)

	sweeper := jobqueue.NewSweeper(store, rt, log)
	if err := sweeper.Start(envOrDefault("ORCHESTRATOR_SWEEP_SCHEDULE", defaultSweepSchedule)); err != nil {
		log.Error("failed to start file existence sweep", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := chats.Run(ctx); err != nil {
			log.Error("chat intake stopped", "error", err)
		}
	}()

	go func() {
		if err := surface.Start(); err != nil {
			log.Error("control surface stopped", "error", err)
			cancel()
		}
	}()

	log.Info("orchestrator started", "data_dir", dataDir, "control_port", cfg.GetControlPort())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining workers")
	cancel()
	waitForDrain(registry, shutdownDeadline)

	if err := store.Checkpoint(); err != nil {
		log.Warn("final checkpoint failed", "error", err)
	}
	log.Info("orchestrator stopped")
}

// waitForDrain polls the registry until no Workers remain or deadline
// elapses, mirroring the teacher's Shutdown() poll loop against
// runningDownloads in internal/core/engine.go.
func waitForDrain(registry *jobs.Registry, deadline time.Duration) {
	deadlineAt := time.Now().Add(deadline)
	for registry.Count("") > 0 && time.Now().Before(deadlineAt) {
		time.Sleep(100 * time.Millisecond)
	}
}

// seedDefaultUser creates a single "admin" account with a random
// password on first run, logging the password once since there is no
// other channel to deliver it through (spec has no separate
// provisioning flow). Subsequent runs are a no-op.
func seedDefaultUser(store *storage.Store, log *slog.Logger) error {
	count, err := store.CountUsers()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	password := generatePassword()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := store.CreateUser(&storage.User{Username: "admin", PasswordHash: string(hash)}); err != nil {
		return err
	}
	log.Warn("seeded default operator account: change this password immediately", "username", "admin", "password", password)
	return nil
}

func generatePassword() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "change-me-immediately"
	}
	return hex.EncodeToString(b)
}

// unconfiguredDialer is the chat intake Dialer used when no real chat
// provider client is wired in (spec §1 names the chat provider as an
// out-of-scope external collaborator). Stored provider credentials have
// no effect until a real Dialer implementation is substituted here, and
// the Control Surface has no endpoint that sets them.
type unconfiguredDialer struct{}

func (unconfiguredDialer) Dial(ctx context.Context, creds config.ChatCredentials) (chatintake.ChatSession, error) {
	return nil, fmt.Errorf("no chat provider client is wired into this build")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
