// Package chatintake subscribes to the external chat capability and
// turns each inbound file-bearing message into a Job plus a running
// Chat Download Worker. Grounded on the startup-gating and
// event-driven-handler style of internal/engine/manager.go's
// NewEngine/SetContext, generalized from a single Wails-bootstrapped
// engine into an explicitly-constructed component.
package chatintake

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"project-tachyon/internal/apierr"
	"project-tachyon/internal/bandwidth"
	"project-tachyon/internal/chatworker"
	"project-tachyon/internal/config"
	"project-tachyon/internal/eventbus"
	"project-tachyon/internal/filesystem"
	"project-tachyon/internal/jobs"
	"project-tachyon/internal/metrics"
	"project-tachyon/internal/routing"
	"project-tachyon/internal/storage"
)

// InboundFile is the contract the external chat capability presents
// for one inbound file-bearing message. Download invokes the actual
// transfer; progressFn is called with (current, total) bytes
// repeatedly during the transfer and must tolerate being called from
// a goroutine other than the one that called Download.
type InboundFile struct {
	MessageID         int64
	SuggestedFilename string
	MIMEType          string
	Filesize          int64 // 0 if the provider didn't report it upfront
	Download          func(ctx context.Context, destPath string, progressFn func(current, total int64)) error
	EditStatusMessage func(ctx context.Context, percent float64) error
}

// ChatSession is the external collaborator contract named in spec
// §1: given credentials, a stream of inbound file-bearing messages.
// Modeled as a narrow, segregated interface in the style of
// down-kingo-downkingo's internal/interfaces package rather than a
// fat client object.
type ChatSession interface {
	// Subscribe starts listening on the target channel and returns a
	// channel of inbound files. The returned channel is closed when
	// ctx is cancelled or the session drops.
	Subscribe(ctx context.Context) (<-chan InboundFile, error)
}

// Dialer constructs a ChatSession from configured credentials. A thin
// seam so Intake never imports the concrete chat-provider client
// package directly.
type Dialer interface {
	Dial(ctx context.Context, creds config.ChatCredentials) (ChatSession, error)
}

// Intake is the Chat Intake component (spec §4.D).
type Intake struct {
	store    *storage.Store
	bus      *eventbus.Bus
	registry *jobs.Registry
	routing  *routing.Table
	cfg      *config.Manager
	dialer   Dialer
	bw       *bandwidth.Manager
	metrics  *metrics.Registry
	logger   *slog.Logger

	maxRetries int
}

// New builds an Intake. It does not start anything until Run is
// called. bw may be nil to apply no global rate cap. m may be nil to
// record no metrics.
func New(store *storage.Store, bus *eventbus.Bus, registry *jobs.Registry, rt *routing.Table, cfg *config.Manager, dialer Dialer, bw *bandwidth.Manager, m *metrics.Registry, logger *slog.Logger) *Intake {
	if bw == nil {
		bw = bandwidth.New()
	}
	return &Intake{
		store:    store,
		bus:      bus,
		registry: registry,
		routing:  rt,
		cfg:      cfg,
		dialer:   dialer,
		bw:       bw,
		metrics:  m,
		logger:   logger,
	}
}

// Run gates on configured credentials. If absent, it logs a
// human-readable instruction and returns nil immediately — the rest
// of the system, in particular the Control Surface, keeps running
// regardless (spec §4.D, §7 Configuration error). If present, it
// dials the chat session and handles inbound files until ctx is
// cancelled.
func (in *Intake) Run(ctx context.Context) error {
	creds := in.cfg.GetChatCredentials()
	if !creds.Configured() {
		in.logger.Info("chat intake is quiescent: set chat_provider_app_id, chat_provider_app_hash and chat_target_channel_id in the settings table to enable chat downloads (the control surface has no endpoint for them)")
		return nil
	}

	in.maxRetries = in.cfg.GetChatMaxRetries()

	session, err := in.dialer.Dial(ctx, creds)
	if err != nil {
		in.logger.Warn("chat intake failed to start", "error", apierr.FriendlyTransportError(err))
		return nil
	}

	files, err := session.Subscribe(ctx)
	if err != nil {
		in.logger.Warn("chat intake subscribe failed", "error", apierr.FriendlyTransportError(err))
		return nil
	}

	in.logger.Info("chat intake active")
	for {
		select {
		case <-ctx.Done():
			return nil
		case file, ok := <-files:
			if !ok {
				return nil
			}
			in.handleInboundFile(ctx, file)
		}
	}
}

// handleInboundFile implements spec §4.D steps 1-5.
func (in *Intake) handleInboundFile(ctx context.Context, file InboundFile) {
	mediaKind := mediaKindFromMIME(file.MIMEType)

	destDir, err := in.routing.ResolveDestination("chat", mediaKind)
	if err != nil {
		in.logger.Error("chat intake could not resolve destination", "error", err)
		return
	}
	if err := filesystem.CheckDiskSpace(destDir, file.Filesize); err != nil {
		in.logger.Error("chat intake rejected inbound file", "error", err, "message_id", file.MessageID)
		return
	}

	filename := sanitizeFilename(file.SuggestedFilename)
	if filename == "" {
		filename = fmt.Sprintf("chat-%d", time.Now().UnixNano())
	}

	destPath := filepath.Join(destDir, filename)
	if err := filesystem.CheckPathAvailable(destPath); err != nil {
		in.logger.Error("chat intake rejected colliding destination", "error", err, "message_id", file.MessageID)
		return
	}

	externalID := strconv.FormatInt(file.MessageID, 10)

	job := &storage.Job{
		ExternalID: externalID,
		Kind:       storage.JobKindChat,
		SourceTag:  "chat",
		File:       filename,
		Status:     storage.StatusDownloading,
	}
	if err := in.store.CreateJob(job); err != nil {
		in.logger.Error("chat intake failed to create job", "error", err, "external_id", externalID)
		return
	}
	in.bus.Publish(eventbus.TopicNew, job)

	workerCtx, _, release, ok := in.registry.Start(ctx, externalID, storage.JobKindChat)
	if !ok {
		in.logger.Warn("chat intake skipped duplicate worker start", "external_id", externalID)
		return
	}

	w := chatworker.New(in.store, in.bus, in.bw, in.maxRetries, in.metrics)
	go func() {
		defer release()
		w.Run(workerCtx, externalID, destPath, chatworker.Attempt{
			Download:          file.Download,
			EditStatusMessage: file.EditStatusMessage,
		})
	}()
}

func mediaKindFromMIME(mimeType string) routing.MediaKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return routing.MediaImages
	case strings.HasPrefix(mimeType, "video/"):
		return routing.MediaVideos
	default:
		return routing.MediaDocuments
	}
}

const disallowedChars = `<>:"/\|?*`

// sanitizeFilename strips path separators and control characters and
// trims to 100 characters (spec §5 "Shared resources").
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(disallowedChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	clean := strings.TrimSpace(b.String())
	if len(clean) > 100 {
		clean = clean[:100]
	}
	return clean
}
