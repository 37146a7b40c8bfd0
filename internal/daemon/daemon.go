/*
Package daemon wires components C1-C8 into the single process-wide Daemon value spec.md §9
asks for instead of the original's hidden globals: one place owning the topology, the outstanding-
query table, the QID pool, the egress socket manager, the dispatcher and the liveness driver.

The event loop follows spec.md §5's concurrency model in spirit rather than letter: instead of one
goroutine calling select(2) directly on every raw file descriptor, a small reader goroutine per
socket (the listening socket, and one per live egress socket) does the blocking I/O and hands
datagrams to a single "brain" goroutine over channels. That brain goroutine is the only place that
ever touches the topology, query table, QID pool or egress manager, so - exactly as §5 requires -
none of those four pieces of shared state need a lock.
*/
package daemon

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/dnrd-go/dnrd/internal/cache"
	"github.com/dnrd-go/dnrd/internal/constants"
	"github.com/dnrd-go/dnrd/internal/dispatch"
	"github.com/dnrd-go/dnrd/internal/dnsutil"
	"github.com/dnrd-go/dnrd/internal/egress"
	"github.com/dnrd-go/dnrd/internal/framing"
	"github.com/dnrd-go/dnrd/internal/liveness"
	"github.com/dnrd-go/dnrd/internal/logsink"
	"github.com/dnrd-go/dnrd/internal/qidpool"
	"github.com/dnrd-go/dnrd/internal/querytable"
	"github.com/dnrd-go/dnrd/internal/reporter"
	"github.com/dnrd-go/dnrd/internal/topology"
)

// Config holds the daemon-wide settings derived from the command line.
type Config struct {
	ListenAddress string

	ForwardTimeout          time.Duration
	RetryInterval           time.Duration // 0 disables deactivation, per spec.md §4.2
	MaxSockets              int
	ExcludedPorts           []int
	IgnoreInactiveCacheHits bool

	FloodLimit    int // 0 disables the flood guard
	FloodInterval time.Duration

	Seed uint64
}

// Daemon owns every piece of process-wide state the forwarding core needs and runs the single
// event-loop goroutine that serializes all access to it.
type Daemon struct {
	Config Config

	Topology *topology.Topology
	Table    *querytable.Table
	Pool     *qidpool.Pool
	Egress   *egress.Manager
	Dispatch *dispatch.Dispatcher
	Liveness *liveness.Driver
	Probe    *liveness.ProbeSender

	Cache    *cache.Cache
	DontKnow DontKnowFunc
	Sink     logsink.Sink
	Flood    *FloodGuard

	listenConn net.PacketConn

	clientDatagrams chan clientDatagram
	replyDatagrams  chan replyDatagram
}

type clientDatagram struct {
	buf  []byte
	addr *net.UDPAddr
}

type replyDatagram struct {
	sock  *egress.Socket
	buf   []byte
	peer  *net.UDPAddr
	iface string
}

// New constructs a Daemon from top (already populated with interfaces and servers by the caller)
// and cfg. dispatchCfg supplies the routing precedence (default interfaces, special hosts). cachePkg
// and dontKnow may be nil, in which case caching and the "don't know" responder are simply skipped;
// a nil sink falls back to logsink.Golibs.
func New(top *topology.Topology, dispatchCfg dispatch.Config, cfg Config, cachePkg *cache.Cache, dontKnow DontKnowFunc, sink logsink.Sink) *Daemon {
	if sink == nil {
		sink = logsink.Golibs{}
	}

	d := &Daemon{
		Config:          cfg,
		Topology:        top,
		Table:           querytable.New(),
		Pool:            qidpool.New(cfg.Seed),
		Cache:           cachePkg,
		DontKnow:        dontKnow,
		Sink:            sink,
		clientDatagrams: make(chan clientDatagram, 64),
		replyDatagrams:  make(chan replyDatagram, 64),
	}

	if cfg.FloodLimit > 0 {
		d.Flood = NewFloodGuard(cfg.FloodLimit, cfg.FloodInterval)
	}

	consts := constants.Get()
	d.Egress = egress.NewManager(egress.Config{
		MaxSockets:    cfg.MaxSockets,
		ExcludedPorts: cfg.ExcludedPorts,
		MinPort:       consts.MinSourcePort,
		MaxPort:       consts.MaxSourcePort,
		Seed:          cfg.Seed,
		OnFirstDrop: func() {
			sink.Log(logsink.Warning, "socket ceiling (%d) reached, dropping queries until a socket frees up", cfg.MaxSockets)
		},
		OnOpen: d.watchSocket,
	})

	dispatchCfg.MaxFanout = consts.MaxFanout
	dispatchCfg.RetryInterval = cfg.RetryInterval
	d.Dispatch = dispatch.New(top, d.Table, d.Pool, d.Egress, dispatchCfg)
	d.Probe = liveness.NewProbeSender(d.Table, d.Pool, d.Egress)
	d.Liveness = liveness.NewDriver(cfg.RetryInterval)

	return d
}

// Reporters returns every component that implements reporter.Reporter, in a stable order, for the
// caller's periodic status report loop.
func (d *Daemon) Reporters() []reporter.Reporter {
	return []reporter.Reporter{d.Topology, d.Table, d.Egress}
}

// watchSocket is egress.Manager's OnOpen hook: it spawns the one reader goroutine that owns sock's
// blocking ReadFrom calls, feeding every datagram it receives to the brain goroutine's
// replyDatagrams channel until sock is closed.
func (d *Daemon) watchSocket(sock *egress.Socket) {
	go func() {
		buf := make([]byte, constants.Get().MaximumDNSMessage)
		for {
			n, peer, iface, err := sock.ReadFrom(buf)
			if err != nil {
				return // socket closed by Table.Delete; stop reading
			}
			cp := make([]byte, n)
			copy(cp, buf[:n])
			d.replyDatagrams <- replyDatagram{sock: sock, buf: cp, peer: peer, iface: iface}
		}
	}()
}

// Listen opens the listening socket. It must be called (directly, or via Run) before Loop.
func (d *Daemon) Listen(ctx context.Context) error {
	lc := net.ListenConfig{}
	conn, err := lc.ListenPacket(ctx, "udp4", d.Config.ListenAddress)
	if err != nil {
		return err
	}
	d.listenConn = conn

	return nil
}

// Addr returns the listening socket's bound address, or nil if Listen has not been called yet.
func (d *Daemon) Addr() net.Addr {
	if d.listenConn == nil {
		return nil
	}

	return d.listenConn.LocalAddr()
}

// Run opens the listening socket and drives the event loop until ctx is cancelled. Read errors on
// the listening socket do not end the loop. It blocks until the loop exits.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Listen(ctx); err != nil {
		return err
	}
	defer d.listenConn.Close()

	d.Loop(ctx)

	return nil
}

// Loop runs the single brain goroutine's event loop, per spec.md §5: every receive on the
// listening socket and every egress socket happens in a dedicated reader goroutine that only ever
// hands datagrams to this loop over a channel, while sends are made from this loop itself, so the
// topology, query table, QID pool and egress manager are touched here. Listen must have been called first. Loop returns when
// ctx is cancelled.
func (d *Daemon) Loop(ctx context.Context) {
	defer d.Liveness.Stop()

	go d.readClients(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case dg := <-d.clientDatagrams:
			d.handleClient(dg.buf, dg.addr)

		case rd := <-d.replyDatagrams:
			d.handleReply(rd)

		case now := <-d.Liveness.SweepTimeouts:
			d.sweepTimeouts(now)

		case now := <-d.liveRetrySweep():
			d.retrySweep(now)
		}
	}
}

// liveRetrySweep returns the retry-sweep channel, or nil (which blocks forever in a select) when
// the liveness driver never scheduled one because RetryInterval is 0.
func (d *Daemon) liveRetrySweep() chan time.Time {
	return d.Liveness.RetrySweep
}

func (d *Daemon) readClients(ctx context.Context) {
	buf := make([]byte, constants.Get().MaximumDNSMessage)
	for {
		n, addr, err := d.listenConn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])

		select {
		case d.clientDatagrams <- clientDatagram{buf: cp, addr: udpAddr}:
		case <-ctx.Done():
			return
		}
	}
}

// handleClient implements the client-facing half of the data flow in spec.md §2: validate, consult
// the cache, and otherwise dispatch a fresh (or coalesced) upstream fan-out.
func (d *Daemon) handleClient(buf []byte, addr *net.UDPAddr) {
	if err := framing.CheckQuery(buf); err != nil {
		d.Sink.Log(logsink.Debug, "dropping malformed query from %s: %v", addr, err)
		return
	}

	if d.Flood != nil && !d.Flood.Allow(addr.IP.String()) {
		d.Sink.Log(logsink.Debug, "flood guard dropped query from %s", addr)
		return
	}

	qname, err := framing.DecodeQName(buf)
	if err != nil {
		d.Sink.Log(logsink.Debug, "dropping query with malformed qname from %s: %v", addr, err)
		return
	}

	if m := new(dns.Msg); m.Unpack(buf) == nil {
		d.Sink.Log(logsink.Debug, "query from %s: %s", addr, dnsutil.CompactMsgString(m))
	}

	if d.Cache != nil {
		if reply, ok := d.Cache.Lookup(buf); ok {
			if !d.Config.IgnoreInactiveCacheHits || d.Dispatch.AnyActiveCandidate(qname) {
				out := make([]byte, len(reply))
				copy(out, reply)
				framing.SetQid(out, framing.GetQid(buf))
				d.listenConn.WriteTo(out, addr)

				return
			}
		}
	}

	clientQid := framing.GetQid(buf) // Dispatch rewrites buf's QID in place
	_, _, err = d.Dispatch.Dispatch(qname, addr, buf, false, d.Config.ForwardTimeout)
	if err != nil {
		if d.DontKnow != nil {
			if reply, ok := d.DontKnow(buf); ok {
				framing.SetQid(reply, clientQid)
				d.listenConn.WriteTo(reply, addr)
			}
		}

		return
	}
}

// handleReply implements C7: locate the owning record, validate, apply the reply policy and, on
// full fan-out completion, clear liveness state for every server the record targeted.
func (d *Daemon) handleReply(rd replyDatagram) {
	rec, ok := d.Table.FindBySocket(rd.sock)
	if !ok {
		return // stray reply on a socket whose record already went away
	}

	if err := framing.CheckReply(rd.buf); err != nil {
		d.Sink.Log(logsink.Debug, "dropping malformed reply from %s: %v", rd.peer, err)
		d.Table.DecrementPending(rec, d.Pool.Return)

		return
	}

	if m := new(dns.Msg); m.Unpack(rd.buf) == nil {
		d.Sink.Log(logsink.Debug, "reply from %s: %s", rd.peer, dnsutil.CompactMsgString(m))
	}

	if rd.iface != "" && rd.peer != nil {
		if ifc := d.Topology.SearchInterface(rd.iface); ifc != nil {
			if srv := ifc.SearchServer(rd.peer); srv != nil {
				topology.Reactivate(srv)
			}
		}
	}

	if rec.Kind == querytable.Probe {
		d.Table.DecrementPending(rec, d.Pool.Return)
		return
	}

	if rec.State == querytable.GotSuccess {
		d.Table.DecrementPending(rec, d.Pool.Return)
		return
	}

	rcode := framing.GetRcode(rd.buf)
	if rcode == framing.RcodeSuccess || rec.FanoutPending == 1 {
		if d.Cache != nil {
			d.Cache.Insert(rd.buf)
		}

		out := make([]byte, len(rd.buf))
		copy(out, rd.buf)
		framing.SetQid(out, framing.Qid(rec.ClientQid))
		d.listenConn.WriteTo(out, rec.ClientAddr)

		rec.State = querytable.GotSuccess
	} else if rec.State == querytable.AwaitingMore {
		cp := make([]byte, len(rd.buf))
		copy(cp, rd.buf)
		rec.CachedFailure = cp
		rec.State = querytable.GotOnlyFailure
	}

	if deleted := d.Table.DecrementPending(rec, d.Pool.Return); deleted {
		for _, srv := range rec.ChosenServers {
			topology.Reactivate(srv)
		}
	}
}

// sweepTimeouts drives C4's expiry walk: any record past its TTL with a buffered failure and no
// success yet forwarded gets that failure delivered before being torn down.
func (d *Daemon) sweepTimeouts(now time.Time) {
	d.Table.SweepTimeouts(now, func(rec *querytable.Record) {
		out := make([]byte, len(rec.CachedFailure))
		copy(out, rec.CachedFailure)
		framing.SetQid(out, framing.Qid(rec.ClientQid))
		d.listenConn.WriteTo(out, rec.ClientAddr)
	}, d.Pool.Return)
}

// retrySweep drives C8's per-interface retry walk: any server that has been inactive for at least
// the configured retry interval gets a fresh probe.
func (d *Daemon) retrySweep(now time.Time) {
	for _, ifc := range d.Topology.Interfaces() {
		iface := ifc
		iface.RetrySweep(now, d.Config.RetryInterval, func(srv *topology.Server) {
			if err := d.Probe.Send(iface, srv, d.Config.RetryInterval); err != nil {
				d.Sink.Log(logsink.Debug, "probe to %s on %s failed: %v", srv.Addr, iface.Name, err)
			}
		})
	}
}
