// Package urlintake implements the URL Intake component (spec §4.E):
// Probe, Start, and Adjust-on-resume over the extractor adapter.
package urlintake

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"project-tachyon/internal/apierr"
	"project-tachyon/internal/bandwidth"
	"project-tachyon/internal/config"
	"project-tachyon/internal/congestion"
	"project-tachyon/internal/eventbus"
	"project-tachyon/internal/extractor"
	"project-tachyon/internal/filesystem"
	"project-tachyon/internal/jobqueue"
	"project-tachyon/internal/jobs"
	"project-tachyon/internal/metrics"
	"project-tachyon/internal/routing"
	"project-tachyon/internal/storage"
	"project-tachyon/internal/urlworker"
)

// twoLevelSuffixes are public-suffix second levels under which the
// registrable label is the third-from-last component, not the
// second-from-last (e.g. "bbc.co.uk" -> "bbc", not "co"). Grounded on
// original_source/backend/ytdlp_handler/__init__.py's get_domain
// special-casing of co/com/org/net.
var twoLevelSuffixes = map[string]bool{"co": true, "com": true, "org": true, "net": true}

// SourceTag derives the source_tag from a URL per spec §3: strip
// leading www., take the registrable label (e.g. youtube.com ->
// youtube; bbc.co.uk -> bbc).
func SourceTag(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return parts[0]
	}
	// parts[len-1] is the TLD, parts[len-2] the second level. If the
	// second level is a generic two-level suffix, the registrable
	// label is one more component back.
	if twoLevelSuffixes[parts[len(parts)-2]] && len(parts) >= 3 {
		return parts[len(parts)-3]
	}
	return parts[len(parts)-2]
}

// Intake drives the URL Download path.
type Intake struct {
	store      *storage.Store
	bus        *eventbus.Bus
	registry   *jobs.Registry
	routing    *routing.Table
	adapter    *extractor.Adapter
	cookiesDir func() string
	bw         *bandwidth.Manager
	cc         *congestion.Controller
	cfg        *config.Manager
	aq         *jobqueue.AdmissionQueue
	metrics    *metrics.Registry
	logger     *slog.Logger

	activeMu sync.Mutex
	active   map[string]int
}

// New builds an Intake. bw may be nil to apply no global rate cap; cc
// may be nil to apply no per-source_tag concurrency shaping; cfg may
// be nil, in which case the global admission queue defaults to a
// fixed limit rather than tracking a live operator setting; m may be
// nil to record no metrics.
func New(store *storage.Store, bus *eventbus.Bus, registry *jobs.Registry, rt *routing.Table, adapter *extractor.Adapter, cookiesDir func() string, bw *bandwidth.Manager, cc *congestion.Controller, cfg *config.Manager, m *metrics.Registry, logger *slog.Logger) *Intake {
	if bw == nil {
		bw = bandwidth.New()
	}
	if cc == nil {
		cc = congestion.New(1, 4)
	}
	return &Intake{
		store: store, bus: bus, registry: registry, routing: rt, adapter: adapter,
		cookiesDir: cookiesDir, bw: bw, cc: cc, cfg: cfg, metrics: m, logger: logger,
		aq:     jobqueue.NewAdmissionQueue(3),
		active: make(map[string]int),
	}
}

// Probe synchronously calls the extractor and returns formats sorted
// by height descending, with best_format_id resolved against the
// source_tag's routing preference per spec §4.B/§4.E rather than a
// bare highest-height pick.
func (in *Intake) Probe(ctx context.Context, rawURL string) (extractor.ProbeResult, error) {
	result, err := in.adapter.Probe(ctx, rawURL, in.cookiesDir())
	if err != nil {
		return result, err
	}
	return applyPreferredFormat(result, SourceTag(rawURL), in.routing), nil
}

// applyPreferredFormat overwrites result.BestFormatID with the routing
// table's preferred-quality pick for sourceTag, factored out of Probe
// so the wiring is testable without an extractor subprocess.
func applyPreferredFormat(result extractor.ProbeResult, sourceTag string, rt *routing.Table) extractor.ProbeResult {
	if preferred, ok := routing.PreferredFormat(result.Formats, rt.PreferredQuality(sourceTag)); ok {
		result.BestFormatID = preferred.ID
	}
	return result
}

// StartParams is the operator-supplied subset of Start's inputs (spec §4.E).
type StartParams struct {
	URL            string
	ChosenFormatID string
	Title          string
	Ext            string
	Filesize       int64
	Resolution     string
}

// Start creates a new URL Job and launches its Worker.
func (in *Intake) Start(ctx context.Context, p StartParams) (externalID string, err error) {
	sourceTag := SourceTag(p.URL)
	mediaKind := routing.MediaVideos

	if !in.admit(sourceTag) {
		return "", apierr.Validation(fmt.Sprintf("too many concurrent downloads for %s, try again shortly", sourceTag))
	}
	admitted := true
	defer func() {
		if admitted {
			in.release(sourceTag)
		}
	}()

	destDir, err := in.routing.ResolveDestination(sourceTag, mediaKind)
	if err != nil {
		return "", apierr.StorageFailure(err)
	}
	if err := filesystem.CheckDiskSpace(destDir, p.Filesize); err != nil {
		return "", apierr.StorageFailure(err)
	}

	title := p.Title
	if title == "" {
		title = "download"
	}
	ext := p.Ext
	if ext == "" {
		ext = "mp4"
	}
	filename := sanitizeTitle(title)
	if p.Resolution != "" {
		filename = fmt.Sprintf("%s-%s", filename, p.Resolution)
	}
	filename = fmt.Sprintf("%s.%s", filename, ext)
	destPath := filepath.Join(destDir, filename)

	if err := filesystem.CheckPathAvailable(destPath); err != nil {
		return "", apierr.Validation(fmt.Sprintf("a download already targets %s", destPath))
	}

	externalID = uuid.NewString()

	job := &storage.Job{
		ExternalID: externalID,
		Kind:       storage.JobKindURL,
		SourceTag:  sourceTag,
		URL:        p.URL,
		File:       filename,
		Status:     storage.StatusDownloading,
	}
	if err := in.store.CreateJob(job); err != nil {
		return "", apierr.StorageFailure(err)
	}
	in.bus.Publish(eventbus.TopicNew, job)

	admitted = false // the launched Worker's goroutine now owns releasing this slot
	in.launchWorker(ctx, sourceTag, externalID, p.URL, destPath, p.ChosenFormatID)
	return externalID, nil
}

// AdjustOnResume re-launches a Worker for an existing job without
// resetting progress, reusing its stored external_id and URL (spec
// §4.E Adjust-on-resume).
func (in *Intake) AdjustOnResume(ctx context.Context, job *storage.Job, chosenFormatID string) error {
	sourceTag := job.SourceTag
	if !in.admit(sourceTag) {
		return apierr.Validation(fmt.Sprintf("too many concurrent downloads for %s, try again shortly", sourceTag))
	}

	destDir, err := in.routing.ResolveDestination(sourceTag, routing.MediaVideos)
	if err != nil {
		in.release(sourceTag)
		return apierr.StorageFailure(err)
	}
	in.launchWorker(ctx, sourceTag, job.ExternalID, job.URL, filepath.Join(destDir, job.File), chosenFormatID)
	return nil
}

// admit reports whether sourceTag is under its congestion-derived
// concurrency cap, reserving a slot if so.
func (in *Intake) admit(sourceTag string) bool {
	in.activeMu.Lock()
	defer in.activeMu.Unlock()
	if in.active[sourceTag] >= in.cc.IdealConcurrency(sourceTag) {
		return false
	}
	in.active[sourceTag]++
	return true
}

func (in *Intake) release(sourceTag string) {
	in.activeMu.Lock()
	defer in.activeMu.Unlock()
	if in.active[sourceTag] > 0 {
		in.active[sourceTag]--
	}
}

func (in *Intake) launchWorker(ctx context.Context, sourceTag, externalID, rawURL, destPath, chosenFormatID string) {
	workerCtx, _, release, ok := in.registry.Start(ctx, externalID, storage.JobKindURL)
	if !ok {
		in.release(sourceTag)
		in.logger.Warn("url intake skipped duplicate worker start", "external_id", externalID)
		return
	}

	spec := extractor.InvocationSpec{
		URL:             rawURL,
		FormatSelector:  extractor.FormatSelector(chosenFormatID),
		DestinationPath: destPath,
		CookiesFile:     in.cookiesDir(),
		ExtraArgs:       in.bw.ExtractorArgs(),
	}

	if in.cfg != nil {
		in.aq.SetLimit(in.cfg.GetMaxConcurrentURLJobs())
	}

	w := urlworker.New(in.store, in.bus, in.logger, in.metrics)
	go func() {
		defer release()
		defer in.release(sourceTag)

		in.aq.Acquire(externalID)
		defer in.aq.Release()

		cmd := in.adapter.Command(workerCtx, spec)
		w.Run(workerCtx, externalID, cmd)
		in.recordOutcome(sourceTag, externalID)
	}()
}

// recordOutcome feeds the job's final stored status back into the
// congestion controller. A stopped job (operator-initiated) is treated
// as neither a success nor a failure signal, since it says nothing
// about sourceTag's health.
func (in *Intake) recordOutcome(sourceTag, externalID string) {
	job, err := in.store.GetJobByExternalID(externalID)
	if err != nil {
		return
	}
	switch job.Status {
	case storage.StatusDone:
		in.cc.RecordOutcome(sourceTag, nil)
	case storage.StatusFailed:
		in.cc.RecordOutcome(sourceTag, fmt.Errorf("job failed"))
	}
}

const disallowedChars = `<>:"/\|?*`

func sanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		if r < 0x20 || strings.ContainsRune(disallowedChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	clean := strings.TrimSpace(b.String())
	if len(clean) > 100 {
		clean = clean[:100]
	}
	if clean == "" {
		clean = "download"
	}
	return clean
}
