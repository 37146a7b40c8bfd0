package egress

import "fmt"

// Name implements reporter.Reporter.
func (m *Manager) Name() string {
	return "Egress"
}

// Report implements reporter.Reporter. The open/ceiling counts are gauges, not accumulators, so
// resetCounters has no effect; it's accepted purely to satisfy the interface.
func (m *Manager) Report(resetCounters bool) string {
	return fmt.Sprintf("open=%d max=%d", m.open, m.maxSockets)
}
