package bandwidth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNoCapWaitsAreInstant(t *testing.T) {
	m := New()
	require.Nil(t, m.ExtractorArgs())

	start := time.Now()
	require.NoError(t, m.Wait(context.Background(), 10<<20))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSetLimitProducesExtractorArgs(t *testing.T) {
	m := New()
	m.SetLimit(1 << 20)
	require.Equal(t, []string{"--limit-rate", "1048576"}, m.ExtractorArgs())

	m.SetLimit(0)
	require.Nil(t, m.ExtractorArgs())
}

func TestWaitThrottlesUnderCap(t *testing.T) {
	m := New()
	m.SetLimit(1024)

	start := time.Now()
	require.NoError(t, m.Wait(context.Background(), 1024))
	require.NoError(t, m.Wait(context.Background(), 1024))
	require.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}
