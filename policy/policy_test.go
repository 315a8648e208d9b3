package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phiberoptick/dockhand/api"
)

func TestEvaluate_Never(t *testing.T) {
	summary := api.ScanSummary{Critical: 50, High: 50}

	d := Evaluate(api.CriteriaNever, summary, nil)
	assert.False(t, d.Blocked)

	d = Evaluate("", summary, nil)
	assert.False(t, d.Blocked)
}

func TestEvaluate_Any(t *testing.T) {
	t.Run("blocks on a single low finding", func(t *testing.T) {
		d := Evaluate(api.CriteriaAny, api.ScanSummary{Low: 1}, nil)
		assert.True(t, d.Blocked)
		assert.Contains(t, d.Reason, "1 vulnerabilities")
	})

	t.Run("allows a clean image", func(t *testing.T) {
		d := Evaluate(api.CriteriaAny, api.ScanSummary{}, nil)
		assert.False(t, d.Blocked)
	})
}

func TestEvaluate_CriticalHigh(t *testing.T) {
	tests := []struct {
		name    string
		summary api.ScanSummary
		blocked bool
	}{
		{"critical only", api.ScanSummary{Critical: 1}, true},
		{"high only", api.ScanSummary{High: 3}, true},
		{"both", api.ScanSummary{Critical: 2, High: 1}, true},
		{"medium and below allowed", api.ScanSummary{Medium: 10, Low: 20, Negligible: 5, Unknown: 2}, false},
		{"clean", api.ScanSummary{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(api.CriteriaCriticalHigh, tt.summary, nil)
			assert.Equal(t, tt.blocked, d.Blocked)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestEvaluate_Critical(t *testing.T) {
	d := Evaluate(api.CriteriaCritical, api.ScanSummary{High: 100}, nil)
	assert.False(t, d.Blocked, "high findings alone must not block under 'critical'")

	d = Evaluate(api.CriteriaCritical, api.ScanSummary{Critical: 1}, nil)
	assert.True(t, d.Blocked)
}

func TestEvaluate_MoreThanCurrent(t *testing.T) {
	t.Run("missing baseline allows", func(t *testing.T) {
		d := Evaluate(api.CriteriaMoreThanCurrent, api.ScanSummary{Critical: 9}, nil)
		assert.False(t, d.Blocked)
		assert.Contains(t, d.Reason, "no baseline")
	})

	t.Run("equal counts allow", func(t *testing.T) {
		base := api.ScanSummary{Critical: 2, High: 4, Medium: 8}
		d := Evaluate(api.CriteriaMoreThanCurrent, base, &base)
		assert.False(t, d.Blocked)
	})

	t.Run("fewer counts allow", func(t *testing.T) {
		base := api.ScanSummary{Critical: 2, High: 4}
		d := Evaluate(api.CriteriaMoreThanCurrent, api.ScanSummary{Critical: 1, High: 4}, &base)
		assert.False(t, d.Blocked)
	})

	t.Run("any bucket regression blocks", func(t *testing.T) {
		base := api.ScanSummary{Critical: 2, Low: 1}
		d := Evaluate(api.CriteriaMoreThanCurrent, api.ScanSummary{Critical: 2, Low: 2}, &base)
		assert.True(t, d.Blocked)
		assert.Contains(t, d.Reason, "low 2 > 1")
	})

	t.Run("trade across buckets allows only if no bucket grew", func(t *testing.T) {
		base := api.ScanSummary{Critical: 0, High: 10}
		d := Evaluate(api.CriteriaMoreThanCurrent, api.ScanSummary{Critical: 1, High: 2}, &base)
		assert.True(t, d.Blocked, "critical grew even though the total shrank")
	})
}

func TestEvaluate_UnknownCriteria(t *testing.T) {
	d := Evaluate("bogus", api.ScanSummary{Critical: 10}, nil)
	assert.False(t, d.Blocked)
	assert.Contains(t, d.Reason, "unknown criteria")
}
