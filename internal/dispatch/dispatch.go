/*
Package dispatch implements the routing precedence and fan-out logic that decides which upstream
interfaces and servers a client query is sent to. It sits between the outstanding-query table (for
coalescing and record bookkeeping) and the egress socket manager (for the actual sends), and
implements the retry-on-send-failure behavior: a send failure deactivates the targeted server and
retries against the next active one on that interface before giving up on it entirely.
*/
package dispatch

import (
	"errors"
	"net"
	"time"

	"github.com/dnrd-go/dnrd/internal/egress"
	"github.com/dnrd-go/dnrd/internal/qidpool"
	"github.com/dnrd-go/dnrd/internal/querytable"
	"github.com/dnrd-go/dnrd/internal/topology"
)

// ErrNoUpstreamReachable is returned when every candidate interface failed to accept the
// datagram; the caller may consult an optional "don't know" collaborator before dropping.
var ErrNoUpstreamReachable = errors.New("dispatch: no upstream reachable")

var errNoActiveServer = errors.New("dispatch: interface has no active server")
var errSendFailed = errors.New("dispatch: sendto failed and retries are disabled")

// Config holds the routing configuration derived from the command line.
type Config struct {
	DefaultInterfaces []string            // non-empty restricts routing absent a special-host match
	SpecialHosts      map[string][]string // FQDN -> allowed interface names
	RetryInterval     time.Duration       // 0 disables deactivate-on-send-failure
	MaxFanout         int
}

// Dispatcher routes client queries (and liveness probes) across the configured topology.
type Dispatcher struct {
	Topology *topology.Topology
	Table    *querytable.Table
	Pool     *qidpool.Pool
	Egress   *egress.Manager
	Config   Config
}

// New constructs a Dispatcher.
func New(top *topology.Topology, tbl *querytable.Table, pool *qidpool.Pool, egr *egress.Manager, cfg Config) *Dispatcher {
	return &Dispatcher{Topology: top, Table: tbl, Pool: pool, Egress: egr, Config: cfg}
}

// candidateInterfaces applies the three-tier routing precedence: special-host pinning, then
// configured default interfaces, then every interface. The result preserves ring order.
func (d *Dispatcher) candidateInterfaces(qname string) []*topology.Interface {
	all := d.Topology.Interfaces()

	if names, ok := d.Config.SpecialHosts[qname]; ok && len(names) > 0 {
		return filterByName(all, names)
	}
	if len(d.Config.DefaultInterfaces) > 0 {
		return filterByName(all, d.Config.DefaultInterfaces)
	}

	return all
}

func filterByName(all []*topology.Interface, names []string) []*topology.Interface {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	out := make([]*topology.Interface, 0, len(all))
	for _, i := range all {
		if allowed[i.Name] {
			out = append(out, i)
		}
	}

	return out
}

// AnyActiveCandidate reports whether at least one of qname's candidate interfaces (per the same
// special-host/default-interface/all-interfaces precedence Dispatch uses) currently has an active
// current server. The daemon consults this on a cache hit to implement "ignore-inactive-cache-hits":
// a cache hit for a query that would otherwise only reach deactivated servers is honoured only
// when that flag is false.
func (d *Dispatcher) AnyActiveCandidate(qname string) bool {
	for _, iface := range d.candidateInterfaces(qname) {
		if cur := iface.Current(); cur != nil && cur.Active() {
			return true
		}
	}

	return false
}

// Dispatch routes buf (already validated, QID not yet rewritten) for qname on behalf of
// clientAddr. isProbe marks a synthetic liveness probe, which fans out to at most one interface.
// On success it returns the (possibly coalesced) record; created reports whether a new upstream
// fan-out was actually issued (false means this was a resend coalesced onto an existing record).
func (d *Dispatcher) Dispatch(qname string, clientAddr *net.UDPAddr, buf []byte, isProbe bool, ttl time.Duration) (rec *querytable.Record, created bool, err error) {
	kind := querytable.ClientQuery
	if isProbe {
		kind = querytable.Probe
	}

	result, err := d.Table.Add(clientAddr, buf, func() (*querytable.Record, error) {
		return querytable.NewRecord(d.Pool, kind)
	})
	if err != nil {
		return nil, false, err
	}
	rec, created = result.V1, result.V2
	if !created {
		return rec, false, nil
	}
	rec.TTL = ttl

	sent := 0
	for _, iface := range d.candidateInterfaces(qname) {
		if sent >= d.Config.MaxFanout {
			break
		}
		srv, sock, serr := d.trySend(iface, buf)
		if serr != nil {
			continue
		}
		d.Table.AddEgress(rec, sock, srv)
		sent++
		if isProbe {
			break
		}
	}

	if sent == 0 {
		d.Table.Delete(rec, d.Pool.Return)
		return nil, false, ErrNoUpstreamReachable
	}

	return rec, true, nil
}

// trySend attempts to deliver buf to iface's current server, opening a fresh egress socket bound
// to iface. On a send failure it deactivates the current server (if retries are enabled) and
// tries the next active one, until one succeeds or the interface is exhausted.
func (d *Dispatcher) trySend(iface *topology.Interface, buf []byte) (*topology.Server, *egress.Socket, error) {
	for {
		srv := iface.Current()
		if srv == nil {
			return nil, nil, errNoActiveServer
		}

		sock, err := d.Egress.Open(iface.Name)
		if err != nil {
			return nil, nil, err
		}

		n, err := sock.WriteTo(buf, srv.Addr)
		if err == nil && n == len(buf) {
			srv.SendCount++
			srv.SendTime = time.Now()
			return srv, sock, nil
		}
		sock.Close()

		if d.Config.RetryInterval == 0 {
			return nil, nil, errSendFailed
		}
		iface.DeactivateCurrent(time.Now())
	}
}
