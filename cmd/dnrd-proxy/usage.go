package main

import (
	"fmt"
	"io"
	"text/template"

	"github.com/dnrd-go/dnrd/internal/flagutil"
)

// The "flag" package is not tty aware so we've arbitrarily picked 100 columns as a conservative tty
// width for the usage output.

const usageMessageTemplate = `
NAME
          {{.ProgramName}} -- a caching, forwarding DNS proxy

SYNOPSIS
          {{.ProgramName}} [options]

DESCRIPTION
          {{.ProgramName}} listens for recursive DNS queries on a local UDP socket and forwards
          each one to one or more upstream servers, potentially fanning out across several egress
          interfaces, then returns the first usable reply to the client. Upstream servers that stop
          answering are deactivated and periodically probed with synthetic queries until they
          recover.

          {{.ProgramName}} is not a validating resolver: it does not recurse, does not implement
          DNSSEC, and does not support TCP or EDNS0. Every upstream server is associated with an
          egress interface; at least one -server must be supplied.

INVOCATION
          $ {{.ProgramName}} -server 8.8.8.8:eth0 -server 1.1.1.1:eth0 -server 9.9.9.9:eth1

          forwards queries to 8.8.8.8 and 1.1.1.1 via eth0 (the first active one tried) and to
          9.9.9.9 via eth1, then

          $ dig @127.0.0.1 example.com

          should return a resolved answer.

ROUTING
          Candidate interfaces for a query are chosen in this order:

          1. -special-host name:iface pins exact-match query names to one interface.
          2. -default-interface restricts routing to a configured subset, if any were given.
          3. Otherwise every configured interface is a candidate.

          Within the candidate set, interfaces are tried in the order -server was specified, up to
          a fan-out of 3 concurrent upstream sends per query.

LIVENESS
          A server that fails to accept a send is deactivated and the next server on its interface
          is tried. A query that reaches -forward-timeout without a reply does not deactivate the
          servers it was sent to. Every -retry-interval, deactivated servers are re-probed with a synthetic
          "localhost A IN" query; any datagram received from a server - probe reply or otherwise -
          reactivates it. Setting -retry-interval to 0 disables deactivation entirely.

OPTIONS
`

func usage(out io.Writer) {
	tmpl, err := template.New("usage").Parse(usageMessageTemplate)
	if err != nil {
		panic(err) // We've messed up our template
	}
	err = tmpl.Execute(out, consts)
	if err != nil {
		panic(err) // We've messed up our template
	}
	flagSet.SetOutput(out)
	flagSet.PrintDefaults()
	fmt.Fprintln(out, "\nVersion:", consts.Version)
}

// parseCommandLine sets up the flags-to-config mapping and parses the supplied command line
// arguments. It starts from scratch each time to make it easier for test wrappers to use.
func parseCommandLine(args []string) error {
	cfg.servers = *flagutil.NewPairValue(":")
	cfg.specialHosts = *flagutil.NewPairValue(":")

	flagSet.BoolVar(&cfg.help, "help", false, "Print usage message to Stdout then exit(0)")
	flagSet.BoolVar(&cfg.version, "version", false, "Print version and exit")
	flagSet.BoolVar(&cfg.verbose, "v", false, "Verbose status and stats - otherwise only errors are output")
	flagSet.BoolVar(&cfg.gops, "gops", false, "Start github.com/google/gops agent")

	flagSet.StringVar(&cfg.bindAddress, "bind-address", ":"+consts.DNSDefaultPort,
		"Local `address:port` the listening socket binds to")

	flagSet.Var(&cfg.servers, "server",
		"`ip:iface` - an upstream server address and the egress interface it is reached through; repeatable")
	flagSet.Var(&cfg.defaultInterfaces, "default-interface",
		"restrict routing to this `interface` absent a special-host match; repeatable")
	flagSet.Var(&cfg.specialHosts, "special-host",
		"`name:iface` - pin queries for name to iface; repeatable")
	flagSet.Var(&cfg.excludePorts, "exclude-port",
		"exclude `port` from egress source-port selection; repeatable")

	flagSet.IntVar(&cfg.forwardTimeout, "forward-timeout", 5, "Per-query TTL in `seconds`")
	flagSet.IntVar(&cfg.retryInterval, "retry-interval", 60,
		"`seconds` before probing a deactivated server; 0 disables deactivation")
	flagSet.IntVar(&cfg.maxSockets, "max-sockets", 512, "Ceiling on concurrent upstream sockets")

	flagSet.BoolVar(&cfg.loadBalance, "load-balance", false, "Enable per-interface round-robin (currently a no-op)")
	flagSet.BoolVar(&cfg.ignoreInactiveCacheHits, "ignore-inactive-cache-hits", false,
		"Ignore cached answers for queries that would otherwise only reach a deactivated server")

	flagSet.DurationVar(&cfg.cacheTTL, "cache-ttl", 0, "Cache entry `duration`; 0 disables the response cache")
	flagSet.DurationVar(&cfg.cacheCleanup, "cache-cleanup-interval", 60_000_000_000, // 1 minute, in ns
		"Cache expiry sweep `interval`")
	flagSet.BoolVar(&cfg.dontKnow, "dontknow", false,
		"Synthesize a SERVFAIL reply when no upstream can be reached instead of dropping the query")

	flagSet.IntVar(&cfg.floodLimit, "flood-limit", 0,
		"Maximum datagrams per client per -flood-interval; 0 disables the flood guard")
	flagSet.DurationVar(&cfg.floodInterval, "flood-interval", 1_000_000_000, // 1 second, in ns
		"`window` over which -flood-limit is enforced")

	flagSet.DurationVar(&cfg.statusInterval, "status-interval", 15*60*1_000_000_000, // 15 minutes
		"Periodic status report `interval`")

	flagSet.StringVar(&cfg.setuidName, "user", "", "setuid `username` to constrain process after start-up")
	flagSet.StringVar(&cfg.setgidName, "group", "", "setgid `groupname` to constrain process after start-up")
	flagSet.StringVar(&cfg.chrootDir, "chroot", "", "chroot `directory` to constrain process after start-up")

	return flagSet.Parse(args[1:])
}
