package egress

import (
	"net"
	"testing"
	"time"
)

func testManager(t *testing.T, maxSockets int) *Manager {
	t.Helper()
	return NewManager(Config{
		MaxSockets: maxSockets,
		MinPort:    20000,
		MaxPort:    40000,
		Seed:       1,
	})
}

func TestOpenAndClose(t *testing.T) {
	m := testManager(t, 4)
	s, err := m.Open("")
	if err != nil {
		t.Fatal(err)
	}
	if m.OpenCount() != 1 {
		t.Errorf("expected OpenCount()==1, got %d", m.OpenCount())
	}
	if s.LocalPort() < 20000 || s.LocalPort() > 40000 {
		t.Errorf("LocalPort %d out of configured range", s.LocalPort())
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if m.OpenCount() != 0 {
		t.Errorf("expected OpenCount()==0 after Close, got %d", m.OpenCount())
	}
}

func TestCeilingExceeded(t *testing.T) {
	m := testManager(t, 2)
	var opened []*Socket
	for i := 0; i < 2; i++ {
		s, err := m.Open("")
		if err != nil {
			t.Fatalf("unexpected error opening socket %d: %v", i, err)
		}
		opened = append(opened, s)
	}

	drops := 0
	m.onFirstDrop = func() { drops++ }

	if _, err := m.Open(""); err != ErrCeilingExceeded {
		t.Errorf("expected ErrCeilingExceeded, got %v", err)
	}
	if _, err := m.Open(""); err != ErrCeilingExceeded {
		t.Errorf("expected ErrCeilingExceeded on second attempt too, got %v", err)
	}
	if drops != 1 {
		t.Errorf("expected exactly one drop notification, got %d", drops)
	}

	// Freeing a socket lets the next Open succeed, and that success resets the suppression flag
	// for the next exhaustion episode.
	opened[0].Close()
	if _, err := m.Open(""); err != nil {
		t.Errorf("expected Open to succeed after freeing a slot, got %v", err)
	}
	for _, s := range opened[1:] {
		s.Close()
	}
}

func TestExcludedPortsAreSkipped(t *testing.T) {
	m := NewManager(Config{
		MaxSockets: 1,
		MinPort:    30000,
		MaxPort:    30002,
		Seed:       1,
	})
	m.excludedPorts.Insert(30000)
	m.excludedPorts.Insert(30001)

	s, err := m.Open("")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.LocalPort() != 30002 {
		t.Errorf("expected the only non-excluded port 30002, got %d", s.LocalPort())
	}
}

func TestWriteToReadFromRoundTrip(t *testing.T) {
	m := testManager(t, 4)
	a, err := m.Open("")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := m.Open("")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	dst := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: b.LocalPort()}
	if _, err := a.WriteTo([]byte("hello"), dst); err != nil {
		t.Fatal(err)
	}

	b.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, peer, _, err := b.ReadFrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("expected 'hello', got %q", buf[:n])
	}
	if peer == nil || peer.Port != a.LocalPort() {
		t.Errorf("expected peer port %d, got %v", a.LocalPort(), peer)
	}
}
