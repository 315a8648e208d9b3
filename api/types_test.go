package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCriteria(t *testing.T) {
	t.Run("accepts known values", func(t *testing.T) {
		for _, s := range []string{"never", "any", "critical_high", "critical", "more_than_current"} {
			c, err := ParseCriteria(s)
			require.NoError(t, err)
			assert.Equal(t, VulnerabilityCriteria(s), c)
		}
	})

	t.Run("empty string means never", func(t *testing.T) {
		c, err := ParseCriteria("")
		require.NoError(t, err)
		assert.Equal(t, CriteriaNever, c)
	})

	t.Run("normalizes case and whitespace", func(t *testing.T) {
		c, err := ParseCriteria("  Critical_High ")
		require.NoError(t, err)
		assert.Equal(t, CriteriaCriticalHigh, c)
	})

	t.Run("rejects unknown values", func(t *testing.T) {
		_, err := ParseCriteria("sometimes")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sometimes")
	})
}

func TestScanSummaryMerge(t *testing.T) {
	a := ScanSummary{Critical: 2, High: 1, Low: 7}
	b := ScanSummary{Critical: 1, High: 5, Medium: 3}

	merged := a.Merge(b)

	// Per-bucket maximum, not the sum: two scanners reporting the same
	// CVE class must not double-count.
	assert.Equal(t, ScanSummary{Critical: 2, High: 5, Medium: 3, Low: 7}, merged)
	assert.Equal(t, merged, b.Merge(a), "merge is commutative")
}

func TestScanSummaryCount(t *testing.T) {
	var s ScanSummary
	s.Count("Critical")
	s.Count("HIGH")
	s.Count("medium")
	s.Count("low")
	s.Count("negligible")
	s.Count("something-else")
	s.Count("")

	assert.Equal(t, ScanSummary{Critical: 1, High: 1, Medium: 1, Low: 1, Negligible: 1, Unknown: 2}, s)
	assert.Equal(t, 7, s.Total())
}

func TestBatchSummaryTotal(t *testing.T) {
	b := BatchSummary{Success: 3, Failed: 1, Blocked: 2, Skipped: 1}
	assert.Equal(t, 7, b.Total())
}
