//go:build linux
// +build linux

package egress

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// bindToDevice pins conn's underlying socket to the named interface via SO_BINDTODEVICE so
// outbound datagrams egress there regardless of the routing table.
func bindToDevice(conn *net.UDPConn, name string) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("egress: SyscallConn: %w", err)
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptString(int(fd), unix.SOL_SOCKET, unix.SO_BINDTODEVICE, name)
	})
	if err != nil {
		return fmt.Errorf("egress: Control: %w", err)
	}

	return sockErr
}
