package liveness

import (
	"testing"
	"time"
)

func TestDriverTicksSweepTimeouts(t *testing.T) {
	d := NewDriver(0)
	defer d.Stop()

	if d.RetrySweep != nil {
		t.Error("expected RetrySweep to be nil when retryInterval is 0")
	}

	select {
	case <-d.SweepTimeouts:
	case <-time.After(3 * time.Second):
		t.Fatal("expected SweepTimeouts to tick within 3 seconds")
	}
}

func TestDriverSchedulesRetrySweepWhenEnabled(t *testing.T) {
	d := NewDriver(time.Second)
	defer d.Stop()

	if d.RetrySweep == nil {
		t.Fatal("expected RetrySweep to be non-nil when retryInterval > 0")
	}

	select {
	case <-d.RetrySweep:
	case <-time.After(3 * time.Second):
		t.Fatal("expected RetrySweep to tick within 3 seconds")
	}
}

func TestNotifyIsNonBlocking(t *testing.T) {
	ch := make(chan time.Time, 1)
	notify(ch) // fills the buffered slot
	notify(ch) // must not block even though the channel is full
}
