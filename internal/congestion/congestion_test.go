package congestion

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdealConcurrencyStartsAtMin(t *testing.T) {
	c := New(1, 4)
	require.Equal(t, 1, c.IdealConcurrency("youtube"))
}

func TestIdealConcurrencyIncreasesOnSuccessStreak(t *testing.T) {
	c := New(1, 4)
	c.RecordOutcome("youtube", nil)
	require.Equal(t, 1, c.IdealConcurrency("youtube"))
	c.RecordOutcome("youtube", nil)
	c.RecordOutcome("youtube", nil)
	require.Greater(t, c.IdealConcurrency("youtube"), 1)
}

func TestIdealConcurrencyHalvesOnError(t *testing.T) {
	c := New(1, 8)
	for i := 0; i < 10; i++ {
		c.RecordOutcome("youtube", nil)
		c.IdealConcurrency("youtube")
	}
	before := c.IdealConcurrency("youtube")
	require.Greater(t, before, 1)

	c.RecordOutcome("youtube", errors.New("boom"))
	after := c.IdealConcurrency("youtube")
	require.Less(t, after, before)
	require.GreaterOrEqual(t, after, 1)
}
