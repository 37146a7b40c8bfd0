package topology

import "fmt"

// Name implements reporter.Reporter.
func (t *Topology) Name() string {
	return "Topology"
}

// Report implements reporter.Reporter. Topology state is not counter-based, so resetCounters has
// no effect here; it's accepted purely to satisfy the interface. Each interface gets a summary
// line followed by one indented line per server giving its individual send counter
// (srvnode_t.sendcnt in the original).
func (t *Topology) Report(resetCounters bool) string {
	s := ""
	for ix, i := range t.interfaces {
		if ix > 0 {
			s += "\n"
		}
		active, inactive, sends := 0, 0, 0
		for _, srv := range i.servers {
			if srv.Active() {
				active++
			} else {
				inactive++
			}
			sends += srv.SendCount
		}
		cur := "none"
		if c := i.Current(); c != nil {
			cur = c.Addr.String()
		}
		s += fmt.Sprintf("%s: servers=%d active=%d inactive=%d current=%s sends=%d",
			i.Name, len(i.servers), active, inactive, cur, sends)
		for _, srv := range i.servers {
			s += fmt.Sprintf("\n    server=%s active=%t sends=%d", srv.Addr, srv.Active(), srv.SendCount)
		}
	}

	return s
}
