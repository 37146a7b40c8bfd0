/*
Package liveness drives the two periodic sweeps the forwarding core depends on: a frequent
query-timeout sweep over the outstanding-query table, and a slower retry sweep over the topology
that re-probes deactivated upstream servers (a server is reactivated only when a reply arrives). Scheduling cadence is delegated to
github.com/go-co-op/gocron, but every job body only ever sends a non-blocking timestamp down a
channel — it never touches the topology, query table, QID pool or egress manager directly. Those
four pieces of process-wide mutable state are only ever mutated from the daemon's single event-loop
goroutine that receives off these channels, preserving the no-locking invariant the core depends on.
*/
package liveness

import (
	"time"

	"github.com/go-co-op/gocron"
)

// Driver owns the two scheduled tickers. Call Stop when shutting down.
type Driver struct {
	scheduler *gocron.Scheduler

	SweepTimeouts chan time.Time // fires roughly once a second
	RetrySweep    chan time.Time // fires at the configured retry cadence; nil if retryInterval == 0
}

// NewDriver starts a scheduler that ticks SweepTimeouts once a second and, if retryInterval is
// positive, ticks RetrySweep every retryInterval. A zero retryInterval disables deactivation
// entirely per §4.2, so no retry job is scheduled and RetrySweep is left nil.
func NewDriver(retryInterval time.Duration) *Driver {
	d := &Driver{
		scheduler:     gocron.NewScheduler(time.UTC),
		SweepTimeouts: make(chan time.Time, 1),
	}

	d.scheduler.Every(1).Second().Do(func() { notify(d.SweepTimeouts) })

	if retryInterval > 0 {
		d.RetrySweep = make(chan time.Time, 1)
		seconds := uint64(retryInterval.Seconds())
		if seconds == 0 {
			seconds = 1
		}
		d.scheduler.Every(seconds).Seconds().Do(func() { notify(d.RetrySweep) })
	}

	d.scheduler.StartAsync()

	return d
}

// Stop halts the scheduler; in-flight channel sends are left to be drained or dropped.
func (d *Driver) Stop() {
	d.scheduler.Stop()
}

func notify(ch chan time.Time) {
	select {
	case ch <- time.Now():
	default: // a tick is already pending; the consumer will catch up
	}
}
