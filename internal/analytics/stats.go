// Package analytics reports host disk usage for the Control Surface's
// GET /stats (spec §6). Adapted from StatsManager.GetDiskUsage: the
// daily/lifetime byte counters it also exposed (IncrementDailyBytes,
// GetTotalLifetime, GetDailyHistory, ...) depended on a settings-table
// schema the Job Store never carried forward, and are dropped rather
// than rebuilt against a row shape nothing in this orchestrator
// populates — storage.Store.GetStats already derives lifetime totals
// straight from the downloads table itself.
package analytics

import "github.com/shirou/gopsutil/v3/disk"

// DiskUsage is the host volume figures backing GET /stats.
type DiskUsage struct {
	UsedGB  float64 `json:"used_gb"`
	TotalGB float64 `json:"total_gb"`
	Percent float64 `json:"percent"`
}

const bytesPerGB = 1024 * 1024 * 1024

// GetDiskUsage reports usage for the volume backing path. A failed
// lookup (e.g. path not yet created) returns a zero DiskUsage rather
// than an error, since this figure is supplementary to GET /stats, not
// load-bearing.
func GetDiskUsage(path string) DiskUsage {
	usage, err := disk.Usage(path)
	if err != nil {
		return DiskUsage{}
	}
	return DiskUsage{
		UsedGB:  float64(usage.Used) / bytesPerGB,
		TotalGB: float64(usage.Total) / bytesPerGB,
		Percent: usage.UsedPercent,
	}
}
