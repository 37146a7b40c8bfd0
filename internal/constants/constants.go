/*
Package constants provides common values used across all dnrd-go packages. Usage is to call the
global Get() function which returns the Constants by value ensuring that any modifications made
(accidental or otherwise) will not affect other modules when they call Get().

Typically usage:

    consts := constants.Get()
    fmt.Println("I am", consts.ProgramName, "Version", consts.Version)

The primary reason for making this a constructed struct rather than the more typical const () block
is so that it can be fed directly into templating packages for printing usage messages.
*/
package constants

import "time"

// Constants contains the system-wide constants
type Constants struct {
	ProgramName string
	Version     string
	PackageName string
	PackageURL  string

	DNSDefaultPort          string // DNS related constants
	DNSUDPTransport         string
	MinimumViableDNSMessage uint // MsgHdr alone (12 octets)
	MaximumDNSMessage       uint // RFC1035 512 byte cap - no EDNS0

	MaxFanout int // Upstream servers queried concurrently per client query

	DefaultForwardTimeout time.Duration // Per-query TTL
	DefaultRetryInterval  time.Duration // Delay before probing a deactivated server
	DefaultMaxSockets     int           // Ceiling on concurrent upstream sockets

	MinSourcePort int // Inclusive lower bound for randomized source ports
	MaxSourcePort int // Inclusive upper bound for randomized source ports

	SweepInterval time.Duration // Cadence of the query-table timeout sweep

	ProbeName string // Question name used for synthetic liveness probes
}

var readOnlyConstants *Constants

// createReadOnlyConstants creates a read-only copy of the Constants which is copied whenever a
// caller asks for the constants set.
func createReadOnlyConstants() {
	readOnlyConstants = &Constants{
		ProgramName: "dnrd-proxy",
		Version:     "v0.1.0",
		PackageName: "dnrd-go",
		PackageURL:  "https://github.com/dnrd-go/dnrd",

		DNSDefaultPort:          "53",
		DNSUDPTransport:         "udp",
		MinimumViableDNSMessage: 12, // A legit DNS header alone, no question
		MaximumDNSMessage:       512,

		MaxFanout: 3,

		DefaultForwardTimeout: 5 * time.Second,
		DefaultRetryInterval:  60 * time.Second,
		DefaultMaxSockets:     512,

		MinSourcePort: 1025,
		MaxSourcePort: 65535,

		SweepInterval: time.Second,

		ProbeName: "localhost.",
	}
}

func init() {
	createReadOnlyConstants()
}

// Get returns a copy of the Constant struct. Return by value so internal values cannot be
// inadvertently changed by callers.
func Get() Constants {
	return *readOnlyConstants
}
