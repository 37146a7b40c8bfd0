// listen for inbound DNS queries and forward them to one or more upstream servers
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/gops/agent"
	"github.com/miekg/dns"

	"github.com/dnrd-go/dnrd/internal/cache"
	"github.com/dnrd-go/dnrd/internal/constants"
	"github.com/dnrd-go/dnrd/internal/daemon"
	"github.com/dnrd-go/dnrd/internal/dispatch"
	"github.com/dnrd-go/dnrd/internal/logsink"
	"github.com/dnrd-go/dnrd/internal/osutil"
	"github.com/dnrd-go/dnrd/internal/reporter"
	"github.com/dnrd-go/dnrd/internal/topology"
)

// Program-wide variables
var (
	consts = constants.Get()
	cfg    *config

	stdout io.Writer // All I/O goes via these writers
	stderr io.Writer

	startTime   = time.Now()
	stopChannel chan os.Signal
	flagSet     *flag.FlagSet
)

func fatal(args ...interface{}) int {
	fmt.Fprint(stderr, "Fatal: ", consts.ProgramName, ": ")
	fmt.Fprintln(stderr, args...)

	return 1
}

func stopMain() {
	stopChannel <- os.Interrupt
}

// mainInit resets everything such that mainExecute() can be called multiple times in one program
// execution, which is how the test harness drives it.
func mainInit(out io.Writer, err io.Writer) {
	cfg = &config{}
	stdout = out
	stderr = err
	mainState(Initial)
	stopChannel = make(chan os.Signal, 4)
	osutil.SignalNotify(stopChannel)
}

func main() {
	mainInit(os.Stdout, os.Stderr)
	os.Exit(mainExecute(os.Args))
}

func mainExecute(args []string) int {
	defer mainState(Stopped) // Tell testers we've stopped even on early return paths
	flagSet = flag.NewFlagSet(args[0], flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	err := parseCommandLine(args)
	if err != nil {
		return 1 // Error already printed by the flag package
	}
	if cfg.help {
		usage(stdout)
		return 0
	}
	if cfg.version {
		fmt.Fprintln(stdout, consts.ProgramName, "Version:", consts.Version)
		return 0
	}

	if len(cfg.servers.Pairs()) == 0 {
		return fatal("Must have at least one -server")
	}

	top := topology.New()
	ifaceByName := map[string]*topology.Interface{}
	for _, pair := range cfg.servers.Pairs() {
		addr := withDefaultPort(pair.Key)
		iface := pair.Value

		ifc, ok := ifaceByName[iface]
		if !ok {
			ifc = top.AddInterface(iface)
			ifc.RoundRobin = cfg.loadBalance
			ifaceByName[iface] = ifc
		}
		if _, err := ifc.AddServer(addr); err != nil {
			return fatal("-server", pair.Key, ":", err)
		}
	}

	dispatchCfg := dispatch.Config{
		DefaultInterfaces: cfg.defaultInterfaces.Args(),
		RetryInterval:     time.Duration(cfg.retryInterval) * time.Second,
	}
	for _, pair := range cfg.specialHosts.Pairs() {
		qname := dns.Fqdn(pair.Key)
		if dispatchCfg.SpecialHosts == nil {
			dispatchCfg.SpecialHosts = map[string][]string{}
		}
		dispatchCfg.SpecialHosts[qname] = append(dispatchCfg.SpecialHosts[qname], pair.Value)
	}

	var cachePkg *cache.Cache
	if cfg.cacheTTL > 0 {
		cachePkg = cache.New(cfg.cacheTTL, cfg.cacheCleanup)
	}

	var dontKnow daemon.DontKnowFunc
	if cfg.dontKnow {
		dontKnow = daemon.BuildServfail
	}

	sink := logsink.Golibs{}
	logsink.SetDebug(cfg.verbose)

	excludedPorts := make([]int, len(cfg.excludePorts.Args()))
	copy(excludedPorts, cfg.excludePorts.Args())

	d := daemon.New(top, dispatchCfg, daemon.Config{
		ListenAddress:           cfg.bindAddress,
		ForwardTimeout:          time.Duration(cfg.forwardTimeout) * time.Second,
		RetryInterval:           time.Duration(cfg.retryInterval) * time.Second,
		MaxSockets:              cfg.maxSockets,
		ExcludedPorts:           excludedPorts,
		IgnoreInactiveCacheHits: cfg.ignoreInactiveCacheHits,
		FloodLimit:              cfg.floodLimit,
		FloodInterval:           cfg.floodInterval,
		Seed:                    uint64(time.Now().UnixNano()),
	}, cachePkg, dontKnow, sink)

	if cfg.gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return fatal("gops agent:", err)
		}
	}

	err = osutil.Constrain(cfg.setuidName, cfg.setgidName, cfg.chrootDir)
	if err != nil {
		return fatal(err)
	}
	if cfg.verbose {
		fmt.Fprintf(stdout, "Constraints: %s\n", osutil.ConstraintReport())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Listen(ctx); err != nil {
		return fatal(err)
	}
	go d.Loop(ctx)

	if cfg.verbose {
		fmt.Fprintln(stdout, consts.ProgramName, consts.Version, "Starting:", d.Addr())
	}

	mainState(Started)
	nextStatusIn := nextInterval(time.Now(), cfg.statusInterval)

Running:
	for {
		select {
		case s := <-stopChannel:
			if osutil.IsSignalUSR1(s) {
				statusReport("User1", false, d.Reporters())
				break
			}
			if cfg.verbose {
				fmt.Fprintln(stdout, "\nSignal", s)
			}
			break Running

		case <-time.After(nextStatusIn):
			if cfg.verbose {
				statusReport("Status", true, d.Reporters())
			}
			nextStatusIn = nextInterval(time.Now(), cfg.statusInterval)
		}
	}

	cancel()

	if cfg.verbose {
		statusReport("Status", true, d.Reporters())
		fmt.Fprintln(stdout, consts.ProgramName, consts.Version, "Exiting after", uptime())
	}

	return 0
}

// withDefaultPort appends the standard DNS port to addr if it was given as a bare IP, mirroring
// the original's -s IPADDR:interface format, which always assumes port 53 on the server side.
func withDefaultPort(addr string) string {
	if strings.Contains(addr, ":") {
		return addr
	}

	return addr + ":" + consts.DNSDefaultPort
}

// nextInterval calculates the duration to the modulo interval next time. If now is 00:01:17 and
// interval is 30s then return is 13s which is the duration to the next modulo of 00:01:30.
func nextInterval(now time.Time, interval time.Duration) time.Duration {
	return now.Truncate(interval).Add(interval).Sub(now)
}

// uptime calculates how long this server has been running.
func uptime() string {
	return time.Now().Sub(startTime).Truncate(time.Second).String()
}

// statusReport prints stats about the daemon and all known reporters.
func statusReport(what string, resetCounters bool, reporters []reporter.Reporter) {
	fmt.Fprintln(stdout, "Status Up:", consts.ProgramName, consts.Version, uptime())
	for _, r := range reporters {
		reps := strings.Split(r.Report(resetCounters), "\n")
		for _, s := range reps {
			if len(s) > 0 {
				fmt.Fprintf(stdout, "%s %s: %s\n", what, r.Name(), s)
			}
		}
	}
}
