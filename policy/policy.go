// Package policy decides whether a vulnerability scan blocks a container
// swap. Evaluation is a pure function of the criteria, the new image's
// scan summary and an optional baseline summary for the running image.
package policy

import (
	"fmt"

	"github.com/phiberoptick/dockhand/api"
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Blocked bool
	Reason  string
}

// Evaluate maps (criteria, summary, baseline) to a block/allow decision.
// baseline may be nil; it is only consulted for more_than_current, and a
// missing baseline never blocks.
func Evaluate(criteria api.VulnerabilityCriteria, summary api.ScanSummary, baseline *api.ScanSummary) Decision {
	switch criteria {
	case api.CriteriaNever, "":
		return Decision{Reason: "vulnerability blocking disabled"}

	case api.CriteriaAny:
		if summary.Total() > 0 {
			return Decision{
				Blocked: true,
				Reason:  fmt.Sprintf("image has %d vulnerabilities and criteria is 'any'", summary.Total()),
			}
		}
		return Decision{Reason: "no vulnerabilities found"}

	case api.CriteriaCriticalHigh:
		if summary.Critical > 0 || summary.High > 0 {
			return Decision{
				Blocked: true,
				Reason:  fmt.Sprintf("image has %d critical and %d high vulnerabilities", summary.Critical, summary.High),
			}
		}
		return Decision{Reason: "no critical or high vulnerabilities found"}

	case api.CriteriaCritical:
		if summary.Critical > 0 {
			return Decision{
				Blocked: true,
				Reason:  fmt.Sprintf("image has %d critical vulnerabilities", summary.Critical),
			}
		}
		return Decision{Reason: "no critical vulnerabilities found"}

	case api.CriteriaMoreThanCurrent:
		if baseline == nil {
			// Without a scan of the running image there is nothing to
			// compare against; record that rather than silently blocking.
			return Decision{Reason: "no baseline scan for the current image; allowing update"}
		}
		if worse, detail := exceedsBaseline(summary, *baseline); worse {
			return Decision{
				Blocked: true,
				Reason:  "new image has more vulnerabilities than the current one: " + detail,
			}
		}
		return Decision{Reason: "new image has no more vulnerabilities than the current one"}

	default:
		// Unknown criteria should have been rejected at parse time; fail
		// open matches the 'never' default rather than wedging updates.
		return Decision{Reason: fmt.Sprintf("unknown criteria %q treated as 'never'", criteria)}
	}
}

func exceedsBaseline(s, base api.ScanSummary) (bool, string) {
	type bucket struct {
		name     string
		new, old int
	}
	buckets := []bucket{
		{"critical", s.Critical, base.Critical},
		{"high", s.High, base.High},
		{"medium", s.Medium, base.Medium},
		{"low", s.Low, base.Low},
		{"negligible", s.Negligible, base.Negligible},
		{"unknown", s.Unknown, base.Unknown},
	}
	for _, b := range buckets {
		if b.new > b.old {
			return true, fmt.Sprintf("%s %d > %d", b.name, b.new, b.old)
		}
	}
	return false, ""
}
