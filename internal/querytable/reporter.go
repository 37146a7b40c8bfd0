package querytable

import "fmt"

// Name implements reporter.Reporter.
func (t *Table) Name() string {
	return "QueryTable"
}

// Report implements reporter.Reporter.
func (t *Table) Report(resetCounters bool) string {
	s := fmt.Sprintf("live=%d queries=%d coalesced=%d timeouts=%d peak=%d",
		t.Len(), t.totalQueries, t.totalCoalesced, t.totalTimeouts, t.concurrency.Peak(resetCounters))

	if resetCounters {
		t.totalQueries, t.totalCoalesced, t.totalTimeouts = 0, 0, 0
	}

	return s
}
