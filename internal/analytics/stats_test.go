package analytics

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetDiskUsageReportsNonZeroForRealPath(t *testing.T) {
	usage := GetDiskUsage(os.TempDir())
	require.Greater(t, usage.TotalGB, 0.0)
	require.GreaterOrEqual(t, usage.Percent, 0.0)
	require.LessOrEqual(t, usage.Percent, 100.0)
}

func TestGetDiskUsageZeroForBadPath(t *testing.T) {
	usage := GetDiskUsage("/this/path/does/not/exist/at/all")
	require.Equal(t, DiskUsage{}, usage)
}
