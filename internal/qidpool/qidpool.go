/*
Package qidpool issues and retires the 16-bit query identifiers the forwarding core hands out in
place of a client's own QID (my_qid in the outstanding-query table). IDs 1..65535 are available at
construction; 0 is reserved and never issued, matching RFC1035's convention of treating QID 0 as
unremarkable but avoiding it keeps a zero value observably distinct from "no ID assigned".

Get and Return are both O(1) amortized: available IDs live in a slice, Get swaps a randomly chosen
entry to the tail and pops it, and Return appends the released ID back. A fixed-size bool array
tracks which IDs are currently out, catching double-returns.
*/
package qidpool

import (
	"errors"

	"golang.org/x/exp/rand"
)

// ErrExhausted is returned by Get when every ID is currently in use.
var ErrExhausted = errors.New("qidpool: exhausted")

// ErrNotInUse is returned by Return when the given ID was not issued (already free, or 0).
var ErrNotInUse = errors.New("qidpool: id is not currently in use")

// Pool is a process-wide allocator of 16-bit query IDs. It is not safe for concurrent use; the
// daemon's single event loop owns it.
type Pool struct {
	available []uint16
	inUse     [65536]bool
	rng       *rand.Rand
}

// New returns a Pool with every ID from 1 to 65535 available.
func New(seed uint64) *Pool {
	p := &Pool{
		available: make([]uint16, 65535),
		rng:       rand.New(rand.NewSource(seed)),
	}
	for i := range p.available {
		p.available[i] = uint16(i + 1)
	}

	return p
}

// Get removes a uniformly random ID from the available set and returns it.
func (p *Pool) Get() (uint16, error) {
	if len(p.available) == 0 {
		return 0, ErrExhausted
	}
	idx := p.rng.Intn(len(p.available))
	last := len(p.available) - 1
	id := p.available[idx]
	p.available[idx] = p.available[last]
	p.available = p.available[:last]
	p.inUse[id] = true

	return id, nil
}

// Return releases id back to the available set. It errors if id is 0 or was not currently
// issued, which indicates a double-return bug in the caller.
func (p *Pool) Return(id uint16) error {
	if id == 0 || !p.inUse[id] {
		return ErrNotInUse
	}
	p.inUse[id] = false
	p.available = append(p.available, id)

	return nil
}

// Available reports how many IDs remain unissued.
func (p *Pool) Available() int {
	return len(p.available)
}
