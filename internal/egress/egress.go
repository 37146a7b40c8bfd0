/*
Package egress opens and accounts for the ephemeral UDP sockets the forwarding core uses to talk
to upstream resolvers. Each Socket is bound to a randomly chosen local source port, optionally
pinned to an egress interface at the OS level, and wrapped in a golang.org/x/net/ipv4.PacketConn so
the receiver side can recover which interface delivered a reply via IP_PKTINFO ancillary data.

The Manager enforces the global ceiling on concurrently open upstream sockets and the "log the
first drop, then go quiet" behavior the dispatcher relies on when the ceiling is hit.
*/
package egress

import (
	"errors"
	"net"

	"golang.org/x/exp/rand"
	"golang.org/x/net/ipv4"

	"github.com/golang-collections/collections/set"
)

// ErrCeilingExceeded is returned by Open when accepting a new socket would exceed the configured
// max-sockets ceiling.
var ErrCeilingExceeded = errors.New("egress: open_upstream_sockets ceiling exceeded")

// Socket is one ephemeral UDP socket dedicated to a single outstanding query or probe.
type Socket struct {
	conn    *net.UDPConn
	pc      *ipv4.PacketConn
	port    int
	iface   string
	manager *Manager
}

// LocalPort returns the randomly chosen source port this socket is bound to.
func (s *Socket) LocalPort() int {
	return s.port
}

// WriteTo sends buf to addr. Any binding to the egress interface was already attempted by Open; if
// that bind failed, the datagram egresses via the routing table.
func (s *Socket) WriteTo(buf []byte, addr *net.UDPAddr) (int, error) {
	return s.conn.WriteToUDP(buf, addr)
}

// ReadFrom reads one datagram along with the IP_PKTINFO ancillary data identifying the ingress
// interface. ifaceName is empty if the control message could not be parsed or the local platform
// does not support it.
func (s *Socket) ReadFrom(buf []byte) (n int, peer *net.UDPAddr, ifaceName string, err error) {
	n, cm, src, err := s.pc.ReadFrom(buf)
	if err != nil {
		return 0, nil, "", err
	}
	if cm != nil && cm.IfIndex != 0 {
		if ifi, ierr := net.InterfaceByIndex(cm.IfIndex); ierr == nil {
			ifaceName = ifi.Name
		}
	}
	if udpSrc, ok := src.(*net.UDPAddr); ok {
		peer = udpSrc
	}

	return n, peer, ifaceName, nil
}

// Close releases the underlying socket and adjusts the manager's open count.
func (s *Socket) Close() error {
	err := s.conn.Close()
	s.manager.release()

	return err
}

// Manager allocates ephemeral egress sockets against a process-wide ceiling and randomized source
// port selection. It is not safe for concurrent use.
type Manager struct {
	maxSockets      int
	open            int
	excludedPorts   *set.Set
	rng             *rand.Rand
	dropSuppressed  bool
	onFirstDrop     func()
	onOpen          func(*Socket)
	minPort         int
	maxPort         int
}

// Config configures a Manager.
type Config struct {
	MaxSockets    int
	ExcludedPorts []int // host byte order, compared directly against each candidate port
	MinPort       int
	MaxPort       int
	Seed          uint64
	OnFirstDrop   func() // invoked once when the ceiling is first hit; suppressed until a success
	OnOpen        func(*Socket) // invoked once for every socket Open successfully creates
}

// NewManager constructs a Manager from cfg.
func NewManager(cfg Config) *Manager {
	excluded := set.New()
	for _, p := range cfg.ExcludedPorts {
		excluded.Insert(p)
	}
	onFirstDrop := cfg.OnFirstDrop
	if onFirstDrop == nil {
		onFirstDrop = func() {}
	}
	onOpen := cfg.OnOpen
	if onOpen == nil {
		onOpen = func(*Socket) {}
	}

	return &Manager{
		maxSockets:    cfg.MaxSockets,
		excludedPorts: excluded,
		rng:           rand.New(rand.NewSource(cfg.Seed)),
		minPort:       cfg.MinPort,
		maxPort:       cfg.MaxPort,
		onFirstDrop:   onFirstDrop,
		onOpen:        onOpen,
	}
}

// Open allocates a new egress socket bound to iface (if non-empty) with a uniformly random source
// port drawn from [MinPort, MaxPort] and not in the exclusion set. It fails with
// ErrCeilingExceeded if the configured ceiling has already been reached.
func (m *Manager) Open(iface string) (*Socket, error) {
	if m.open >= m.maxSockets {
		if !m.dropSuppressed {
			m.onFirstDrop()
			m.dropSuppressed = true
		}

		return nil, ErrCeilingExceeded
	}

	var conn *net.UDPConn
	for attempts := 0; ; attempts++ {
		port := m.minPort + m.rng.Intn(m.maxPort-m.minPort+1)
		if m.excludedPorts.Has(port) {
			continue
		}
		c, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
		if err != nil {
			// Port already in use by something else; pick again.
			continue
		}
		conn = c
		break
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv4.FlagInterface|ipv4.FlagDst, true); err != nil {
		// Ancillary data is a best-effort aid to the correlator; its absence degrades
		// reactivation-by-interface but is not fatal.
		_ = err
	}

	if iface != "" {
		if err := bindToDevice(conn, iface); err != nil {
			// Not fatal and not logged: the datagram may still egress via routing table.
			_ = err
		}
	}

	m.open++
	m.dropSuppressed = false

	sock := &Socket{conn: conn, pc: pc, port: conn.LocalAddr().(*net.UDPAddr).Port, iface: iface, manager: m}
	m.onOpen(sock)

	return sock, nil
}

func (m *Manager) release() {
	if m.open > 0 {
		m.open--
	}
}

// OpenCount returns the current count of live egress sockets (open_upstream_sockets).
func (m *Manager) OpenCount() int {
	return m.open
}
