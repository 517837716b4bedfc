// Package filesystem checks free disk space before a Worker commits to
// a download (spec §7 "Disk space exhausted"). Adapted from
// Allocator.AllocateFile: the disk-usage check survives, the
// os.File.Truncate pre-allocation step does not — yt-dlp's -c resume
// and the chat retry path read the partial file's existing length to
// decide where to resume, and a pre-truncated file would lie about
// how many bytes are actually present.
package filesystem

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// diskSpaceBuffer is held back below the reported free space so a
// concurrent download or the OS itself always has room to work.
const diskSpaceBuffer = 100 * 1024 * 1024

// CheckDiskSpace reports an error if destDir's volume does not have at
// least requiredBytes free (plus a safety buffer). requiredBytes <= 0
// means the size is unknown (e.g. a chat file or a probe that never
// reported filesize) and the check is skipped.
func CheckDiskSpace(destDir string, requiredBytes int64) error {
	if requiredBytes <= 0 {
		return nil
	}
	usage, err := disk.Usage(filepath.Clean(destDir))
	if err != nil {
		return fmt.Errorf("failed to check disk space: %w", err)
	}
	if int64(usage.Free) < requiredBytes+diskSpaceBuffer {
		return fmt.Errorf("disk full: required %d bytes, available %d bytes", requiredBytes, usage.Free)
	}
	return nil
}

// CheckPathAvailable reports an error if a file already sits at path,
// so two jobs resolving to the same output path are caught before the
// second one starts writing (spec §5 "per-job output paths must be
// unique"). A Worker resuming its own job's prior partial file never
// goes through this check, only new-job submission does.
func CheckPathAvailable(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("destination already exists: %s", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check destination: %w", err)
	}
	return nil
}
