// Package routing is the thin layer over Source Routing rows described
// in spec §4.B: resolving a destination folder and access-restriction
// flag for a source_tag, and picking the preferred quality format.
package routing

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"project-tachyon/internal/storage"
)

// MediaKind buckets a job's default destination directory when no
// routing override applies.
type MediaKind string

const (
	MediaVideos    MediaKind = "Videos"
	MediaImages    MediaKind = "Images"
	MediaDocuments MediaKind = "Documents"
)

// Format mirrors one entry of the extractor's probe response.
type Format struct {
	ID       string
	Ext      string
	Height   int
	Size     int64
	HasAudio bool
}

// Table resolves destination folders and access restrictions from the
// Job Store's Source Routing rows. Grounded on the thin-typed-layer
// style of internal/config/settings.go, generalized from settings KV
// rows to routing rows.
type Table struct {
	store   *storage.Store
	baseDir string
}

// New builds a Table rooted at baseDir for default per-media-kind
// directories (baseDir/Videos, baseDir/Images, baseDir/Documents).
func New(store *storage.Store, baseDir string) *Table {
	return &Table{store: store, baseDir: baseDir}
}

// BaseDir returns the root directory default per-media-kind
// directories are resolved under.
func (t *Table) BaseDir() string {
	return t.baseDir
}

// ResolveDestination prefers the routing entry's destination_folder if
// present and accessible (exists, or its parent exists and is
// writable); otherwise falls back to the default directory for
// mediaKind. Accessibility is re-checked per call so a transiently
// unmounted drive degrades to the default instead of failing the job.
func (t *Table) ResolveDestination(sourceTag string, mediaKind MediaKind) (string, error) {
	entry, err := t.store.GetRoutingEntry(sourceTag)
	if err == nil && entry.DestinationFolder != "" && dirAccessible(entry.DestinationFolder) {
		if err := os.MkdirAll(entry.DestinationFolder, 0o755); err != nil {
			return t.defaultDir(mediaKind), nil
		}
		return entry.DestinationFolder, nil
	}
	return t.defaultDir(mediaKind), nil
}

func (t *Table) defaultDir(mediaKind MediaKind) string {
	dir := filepath.Join(t.baseDir, string(mediaKind))
	os.MkdirAll(dir, 0o755)
	return dir
}

func dirAccessible(path string) bool {
	if info, err := os.Stat(path); err == nil {
		return info.IsDir()
	}
	parent := filepath.Dir(path)
	info, err := os.Stat(parent)
	return err == nil && info.IsDir()
}

// IsAccessRestricted reports whether sourceTag's routing entry marks
// it access-restricted (jobs for it are excluded from default
// listings).
func (t *Table) IsAccessRestricted(sourceTag string) bool {
	entry, err := t.store.GetRoutingEntry(sourceTag)
	if err != nil {
		return false
	}
	return entry.AccessRestricted
}

// PreferredQuality returns the operator-configured preferred quality
// string for sourceTag (e.g. "720p"), or "" if unset.
func (t *Table) PreferredQuality(sourceTag string) string {
	entry, err := t.store.GetRoutingEntry(sourceTag)
	if err != nil {
		return ""
	}
	return entry.PreferredQuality
}

// PreferredFormat picks the format whose height is the leading number
// of the preferred quality (case-insensitive, e.g. height 720 matches
// "720p", "720P" and "720p60"), falling back to the highest-height
// format, then the first format if none carry a height (spec §4.B).
func PreferredFormat(formats []Format, preferredQuality string) (Format, bool) {
	if len(formats) == 0 {
		return Format{}, false
	}

	if preferredQuality != "" {
		quality := strings.ToLower(preferredQuality)
		for _, f := range formats {
			height := strconv.Itoa(f.Height)
			if f.Height > 0 && strings.HasPrefix(quality, height) &&
				(len(quality) == len(height) || quality[len(height)] < '0' || quality[len(height)] > '9') {
				return f, true
			}
		}
	}

	best := formats[0]
	for _, f := range formats[1:] {
		if f.Height > best.Height {
			best = f
		}
	}
	return best, true
}
