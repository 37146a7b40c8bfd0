package main

import (
	"time"

	"github.com/dnrd-go/dnrd/internal/flagutil"
)

// config holds every value the command line can set, mirroring spec.md §6's flag table plus the
// ambient diagnostics/process-constraint flags every teacher binary in the pack exposes.
type config struct {
	help    bool
	version bool
	verbose bool
	gops    bool

	bindAddress string // -bind-address

	servers           flagutil.PairValue  // -server ip:iface, repeatable
	defaultInterfaces flagutil.StringValue // -default-interface, repeatable
	specialHosts      flagutil.PairValue  // -special-host name:iface, repeatable
	excludePorts      flagutil.IntValue   // -exclude-port, repeatable

	forwardTimeout int // seconds; -forward-timeout
	retryInterval  int // seconds; -retry-interval, 0 disables deactivation
	maxSockets     int // -max-sockets

	loadBalance             bool // -load-balance
	ignoreInactiveCacheHits bool // -ignore-inactive-cache-hits

	cacheTTL       time.Duration
	cacheCleanup   time.Duration
	dontKnow       bool // -dontknow; synthesize a SERVFAIL when no upstream is reachable

	floodLimit    int
	floodInterval time.Duration

	statusInterval time.Duration

	setuidName, setgidName, chrootDir string // Process constraint settings
}
