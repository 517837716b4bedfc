// Package extractor adapts the external site-extraction tool (spec
// §1's "Site-extraction tool" collaborator, a yt-dlp-like CLI) into
// the thin contract the rest of the orchestrator consumes: a
// synchronous Probe for metadata and an assembled subprocess
// invocation for the actual download. Grounded on the subprocess
// orchestration style of other_examples' ytdlp-nfo-server
// download.go, generalized from a fixed `ytdlp-nfo <url>` invocation
// to one carrying format selection, resume, and cookies.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"

	"project-tachyon/internal/routing"
)

// Format mirrors one entry the extractor reports at probe time.
type Format = routing.Format

// ProbeResult is the synchronous metadata response (spec §4.E Probe).
type ProbeResult struct {
	Title         string
	Ext           string
	Formats       []Format
	BestFormatID  string
}

// FailureKind classifies why a Probe failed (spec §4.E).
type FailureKind string

const (
	FailureUnsupported FailureKind = "unsupported"
	FailureUnavailable FailureKind = "unavailable"
	FailureRestricted  FailureKind = "restricted"
	FailureOther       FailureKind = "other"
)

// ProbeError wraps a probe failure with its classification.
type ProbeError struct {
	Kind FailureKind
	Err  error
}

func (e *ProbeError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *ProbeError) Unwrap() error { return e.Err }

// Adapter is a thin wrapper over the extractor binary.
type Adapter struct {
	BinaryPath string // defaults to "yt-dlp" when empty
}

// New builds an Adapter. binaryPath may be "" to use the default on PATH.
func New(binaryPath string) *Adapter {
	return &Adapter{BinaryPath: binaryPath}
}

func (a *Adapter) binary() string {
	if a.BinaryPath != "" {
		return a.BinaryPath
	}
	return "yt-dlp"
}

// rawFormat is one entry of the extractor's --dump-json "formats" array.
type rawFormat struct {
	FormatID string `json:"format_id"`
	Ext      string `json:"ext"`
	Height   int    `json:"height"`
	Filesize int64  `json:"filesize"`
	ACodec   string `json:"acodec"`
}

// probeJSON is the subset of the extractor's --dump-json schema this
// adapter reads.
type probeJSON struct {
	Title   string      `json:"title"`
	Ext     string      `json:"ext"`
	Formats []rawFormat `json:"formats"`
}

// Probe synchronously calls the extractor for metadata and classifies
// failure per spec §4.E. Formats are returned sorted by height
// descending, with a default best_format_id naming the first entry.
func (a *Adapter) Probe(ctx context.Context, url string, cookiesFile string) (ProbeResult, error) {
	args := []string{"--dump-json", "--no-playlist"}
	if cookiesFile != "" {
		args = append(args, "--cookies", cookiesFile)
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, a.binary(), args...)
	out, err := cmd.Output()
	if err != nil {
		return ProbeResult{}, classifyProbeFailure(err, string(out))
	}

	var parsed probeJSON
	if err := json.Unmarshal(out, &parsed); err != nil {
		return ProbeResult{}, &ProbeError{Kind: FailureOther, Err: err}
	}

	formats := dedupeAndSortFormats(parsed.Formats)

	best := ""
	if len(formats) > 0 {
		best = formats[0].ID
	}

	return ProbeResult{Title: parsed.Title, Ext: parsed.Ext, Formats: formats, BestFormatID: best}, nil
}

// dedupeAndSortFormats drops formats that share a (height, ext) pair
// with one already kept, then sorts what remains by height descending
// (spec §4.E supplement (c), grounded on check_url's `key = (height,
// ext); if key in seen: continue`).
func dedupeAndSortFormats(raw []rawFormat) []Format {
	type dedupKey struct {
		height int
		ext    string
	}
	seen := make(map[dedupKey]bool, len(raw))

	formats := make([]Format, 0, len(raw))
	for _, f := range raw {
		key := dedupKey{height: f.Height, ext: f.Ext}
		if seen[key] {
			continue
		}
		seen[key] = true
		formats = append(formats, Format{
			ID:       f.FormatID,
			Ext:      f.Ext,
			Height:   f.Height,
			Size:     f.Filesize,
			HasAudio: f.ACodec != "" && f.ACodec != "none",
		})
	}
	sort.SliceStable(formats, func(i, j int) bool { return formats[i].Height > formats[j].Height })
	return formats
}

func classifyProbeFailure(err error, stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "unsupported url"):
		return &ProbeError{Kind: FailureUnsupported, Err: err}
	case strings.Contains(lower, "video unavailable"), strings.Contains(lower, "this video is not available"):
		return &ProbeError{Kind: FailureUnavailable, Err: err}
	case strings.Contains(lower, "sign in"), strings.Contains(lower, "private video"), strings.Contains(lower, "age-restricted"):
		return &ProbeError{Kind: FailureRestricted, Err: err}
	default:
		return &ProbeError{Kind: FailureOther, Err: err}
	}
}

// InvocationSpec describes one download subprocess invocation (spec
// §4.G startup requirements).
type InvocationSpec struct {
	URL             string
	FormatSelector  string // "<chosen>+bestaudio/best/<chosen>"
	DestinationPath string // <folder>/<safe-title>.<ext>, without extension template markers
	CookiesFile     string
	ExtraArgs       []string // e.g. a global bandwidth cap's --limit-rate
}

// Command builds the *exec.Cmd for one download invocation. --newline
// forces one progress update per line (no carriage-return overwrite in
// non-terminal output) and -c resumes from a partial file if present.
func (a *Adapter) Command(ctx context.Context, spec InvocationSpec) *exec.Cmd {
	args := []string{
		"--newline",
		"-c",
		"-f", spec.FormatSelector,
		"-o", spec.DestinationPath,
	}
	if spec.CookiesFile != "" {
		args = append(args, "--cookies", spec.CookiesFile)
	}
	args = append(args, spec.ExtraArgs...)
	args = append(args, spec.URL)
	cmd := exec.CommandContext(ctx, a.binary(), args...)
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	// On cancellation the process gets SIGTERM rather than exec's default
	// SIGKILL; the URL Worker escalates to SIGKILL after its grace period.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	return cmd
}

// FormatSelector builds the "<chosen>+bestaudio/best/<chosen>" string
// from a chosen format id (spec §4.G).
func FormatSelector(chosenFormatID string) string {
	if chosenFormatID == "" {
		return "best"
	}
	return fmt.Sprintf("%s+bestaudio/best/%s", chosenFormatID, chosenFormatID)
}
