//go:build !linux
// +build !linux

package egress

import (
	"errors"
	"net"
)

// errBindToDeviceUnsupported is discarded by Manager.Open: a bind failure is neither logged nor
// fatal.
var errBindToDeviceUnsupported = errors.New("egress: bind-to-device is not supported on this platform")

func bindToDevice(conn *net.UDPConn, name string) error {
	return errBindToDeviceUnsupported
}
