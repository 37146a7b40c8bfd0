/*
Package querytable tracks every outstanding upstream query: the fan-out of egress sockets it owns,
which servers they were sent to, and enough client-facing state to deliver exactly one final answer
per client query. It is the Go-native replacement for the original's singly-linked list with a
sentinel head: records live in a slice arena with free-list reuse, and two maps give O(1) lookup by
(client address, client QID) for resend coalescing and by egress socket for the correlator.

Because the arena never needs a predecessor pointer to delete a node, Add returns the matching or
newly created *Record directly rather than the original's (prev, created?) pair; DeleteNext becomes
plain Delete. See DESIGN.md for the arena-vs-sentinel-list rationale.
*/
package querytable

import (
	"net"
	"time"

	"github.com/barweiss/go-tuple"

	"github.com/dnrd-go/dnrd/internal/concurrencytracker"
	"github.com/dnrd-go/dnrd/internal/egress"
	"github.com/dnrd-go/dnrd/internal/framing"
	"github.com/dnrd-go/dnrd/internal/qidpool"
	"github.com/dnrd-go/dnrd/internal/topology"
)

// Kind distinguishes a real client query from a synthetic liveness probe.
type Kind int

const (
	ClientQuery Kind = iota
	Probe
)

// ResponseState reifies the partial-failure buffering rule as an explicit state instead of a pair
// of booleans: a record starts AwaitingMore, moves to GotSuccess the instant a successful reply is
// forwarded to the client, or to GotOnlyFailure once a non-success reply has been buffered with no
// success yet seen. The reply policy in internal/daemon branches on this field directly.
type ResponseState int

const (
	AwaitingMore ResponseState = iota
	GotSuccess
	GotOnlyFailure
)

// Record is one outstanding upstream query or probe.
type Record struct {
	index int // slot in the arena; used internally for O(1) delete

	Kind       Kind
	MyQid      uint16
	ClientQid  uint16
	ClientAddr *net.UDPAddr
	ClientTime time.Time
	ClientCount int
	TTL        time.Duration

	EgressSockets  []*egress.Socket
	ChosenServers  []*topology.Server
	FanoutPending  int

	State         ResponseState
	CachedFailure []byte
}

type coalesceKey struct {
	addr string
	qid  uint16
}

// Table is the arena of live records.
type Table struct {
	records  []*Record // nil entry means the slot is free
	freeList []int

	byCoalesce map[coalesceKey]int
	bySocket   map[*egress.Socket]int

	totalQueries   int // new records created by Add
	totalCoalesced int // resends matched to an existing record
	totalTimeouts  int // records removed by SweepTimeouts

	concurrency concurrencytracker.Counter // tracks peak concurrent outstanding records
}

// New returns an empty Table.
func New() *Table {
	return &Table{
		byCoalesce: make(map[coalesceKey]int),
		bySocket:   make(map[*egress.Socket]int),
	}
}

func (t *Table) alloc(r *Record) int {
	if n := len(t.freeList); n > 0 {
		idx := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		r.index = idx
		t.records[idx] = r
		return idx
	}
	idx := len(t.records)
	r.index = idx
	t.records = append(t.records, r)
	return idx
}

// NewRecord allocates a QID from pool and returns an empty record shell of the given kind, with no
// egress sockets yet. The dispatcher fills it in via AddEgress as it visits candidate interfaces;
// unlike the original, which pre-opened all 3 egress sockets at creation time regardless of how
// many interfaces would actually be used, sockets here are opened lazily, one per interface
// actually dispatched to, which plays better with the socket ceiling.
func NewRecord(pool *qidpool.Pool, kind Kind) (*Record, error) {
	qid, err := pool.Get()
	if err != nil {
		return nil, err
	}

	return &Record{Kind: kind, MyQid: qid}, nil
}

// AddEgress attaches a successfully-sent-on socket/server pair to rec, as the dispatcher fans out
// to further candidate interfaces, and indexes the socket so FindBySocket can locate rec by it.
func (t *Table) AddEgress(rec *Record, sock *egress.Socket, server *topology.Server) {
	rec.EgressSockets = append(rec.EgressSockets, sock)
	rec.ChosenServers = append(rec.ChosenServers, server)
	rec.FanoutPending++
	t.bySocket[sock] = rec.index
}

// Add scans for an existing record matching (clientAddr, the QID currently in buf). If found, it
// refreshes the resend bookkeeping, rewrites buf's QID to the existing record's MyQid, and returns
// (record, false) — at most one fan-out is ever issued per (client, client_qid). Otherwise
// newRecord (normally NewRecord) allocates a fresh QID-only record shell; Add fills in the
// client-facing fields, links it into the table, rewrites buf's QID, and returns (rec, true). The
// caller is then responsible for fanning out via AddEgress before the record can be dispatched.
func (t *Table) Add(clientAddr *net.UDPAddr, buf []byte, newRecord func() (*Record, error)) (tuple.T2[*Record, bool], error) {
	origQid := uint16(framing.GetQid(buf))
	key := coalesceKey{addr: clientAddr.String(), qid: origQid}

	if idx, ok := t.byCoalesce[key]; ok {
		existing := t.records[idx]
		existing.ClientTime = time.Now()
		existing.ClientCount++
		framing.SetQid(buf, framing.Qid(existing.MyQid))
		t.totalCoalesced++

		return tuple.New2(existing, false), nil
	}

	rec, err := newRecord()
	if err != nil {
		var zero *Record
		return tuple.New2(zero, false), err
	}
	rec.ClientQid = origQid
	rec.ClientAddr = clientAddr
	rec.ClientTime = time.Now()
	rec.ClientCount = 1

	t.alloc(rec)
	t.byCoalesce[key] = rec.index
	framing.SetQid(buf, framing.Qid(rec.MyQid))
	t.totalQueries++
	t.concurrency.Add()

	return tuple.New2(rec, true), nil
}

// InsertProbe links a synthetic liveness-probe record into the arena. Unlike a client query,
// probes are never looked up by (client address, QID) — there is no client to coalesce against —
// so they bypass Add's coalesce bookkeeping entirely. Callers attach the probe's single egress
// socket via AddEgress immediately afterward.
func (t *Table) InsertProbe(rec *Record) {
	t.alloc(rec)
	t.concurrency.Add()
}

// FindBySocket returns the record owning sock, if any.
func (t *Table) FindBySocket(sock *egress.Socket) (*Record, bool) {
	idx, ok := t.bySocket[sock]
	if !ok {
		return nil, false
	}

	return t.records[idx], true
}

// Delete releases rec: its QID back to pool (caller's responsibility, since the pool is owned
// above this package), its sockets closed, and its table bookkeeping removed.
func (t *Table) Delete(rec *Record, returnQid func(uint16) error) error {
	for _, s := range rec.EgressSockets {
		s.Close()
		delete(t.bySocket, s)
	}
	if rec.ClientAddr != nil {
		delete(t.byCoalesce, coalesceKey{addr: rec.ClientAddr.String(), qid: rec.ClientQid})
	}
	t.records[rec.index] = nil
	t.freeList = append(t.freeList, rec.index)
	t.concurrency.Done()

	return returnQid(rec.MyQid)
}

// DecrementPending decrements rec's FanoutPending and, if that reaches zero, deletes rec (per C4
// invariant 3: a record is destroyed only when FanoutPending == 0). Returns whether rec was
// deleted, so the caller can decide whether it is still safe to mutate the record's client-facing
// fields.
func (t *Table) DecrementPending(rec *Record, returnQid func(uint16) error) bool {
	rec.FanoutPending--
	if rec.FanoutPending <= 0 {
		t.Delete(rec, returnQid)
		return true
	}

	return false
}

// SweepTimeouts deletes every record whose ClientTime+TTL has elapsed as of now. For a record with
// a buffered failure that was never forwarded, deliver is invoked first so the caller can rewrite
// the QID and send it to the client. Returns the count of records removed.
func (t *Table) SweepTimeouts(now time.Time, deliver func(*Record), returnQid func(uint16) error) int {
	removed := 0
	for _, rec := range t.records {
		if rec == nil {
			continue
		}
		if now.Sub(rec.ClientTime) < rec.TTL {
			continue
		}
		if rec.State == GotOnlyFailure {
			deliver(rec)
		}
		t.Delete(rec, returnQid)
		removed++
		t.totalTimeouts++
	}

	return removed
}

// Len returns the number of live records, for diagnostics.
func (t *Table) Len() int {
	return len(t.records) - len(t.freeList)
}
