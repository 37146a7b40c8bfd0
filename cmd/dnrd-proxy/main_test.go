package main

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

// We use a bytes.Buffer as stdout, stderr which is shared across multiple go-routines so we need to
// protect it from concurrent access. This is test-only code but -race doesn't know that.
type mutexBytesBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

func (t *mutexBytesBuffer) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.buffer.Write(p)
}

func (t *mutexBytesBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.buffer.String()
}

// fakeUpstream opens a minimal loopback UDP listener and returns its ip:port. Passed to -server as
// "ip:port:eth0", the split on the first colon makes the daemon target 127.0.0.1:53 on an interface
// named "port:eth0"; the tests here only exercise start-up, status output and shutdown.
func fakeUpstream(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn.LocalAddr().String()
}

type mainTestCase struct {
	description string
	willRunFor  time.Duration // how long mainExecute should run before being terminated; 0 means it should exit immediately
	args        []string      // ARGV - not counting command
	stdout      []string      // Expected stdout strings
	stderr      string        // Expected stderr string
}

func buildMainTestCases(t *testing.T) []mainTestCase {
	upstream := fakeUpstream(t)

	return []mainTestCase{
		{"help", 0, []string{"-help"}, []string{"NAME"}, ""},
		{"version", 0, []string{"-version"}, []string{"Version"}, ""},
		{"no servers", 0, []string{"-bind-address", "127.0.0.1:0"}, []string{}, "Must have at least one -server"},

		{"single upstream",
			200 * time.Millisecond,
			[]string{"-v", "-bind-address", "127.0.0.1:0", "-server", upstream + ":eth0"},
			[]string{"Starting", "Exiting"}, ""},

		{"status report",
			1200 * time.Millisecond,
			[]string{"-v", "-status-interval", "500ms", "-bind-address", "127.0.0.1:0",
				"-server", upstream + ":eth0"},
			[]string{"Status Up:"}, ""},
	}
}

// TestMain exercises the command line with a mix of legitimate and invalid invocations.
func TestMain(t *testing.T) {
	for _, tc := range buildMainTestCases(t) {
		t.Run(tc.description, func(t *testing.T) {
			args := append([]string{"dnrd-proxy"}, tc.args...)
			out := &mutexBytesBuffer{}
			err := &mutexBytesBuffer{}
			mainInit(out, err)

			var done chan error
			if tc.willRunFor > 0 {
				done = make(chan error, 1)
				go func() {
					done <- waitForMainExecute(t, tc.willRunFor)
				}()
			}

			ec := mainExecute(args)

			if tc.willRunFor > 0 {
				if e := <-done; e != nil {
					t.Log("stdout:", out.String())
					t.Log("stderr:", err.String())
					t.Fatal(e)
				}
			}

			outStr := out.String()
			errStr := err.String()
			if len(errStr) > 0 && len(tc.stderr) == 0 {
				t.Error("Did not expect a fatal error:", errStr)
			}
			if !strings.Contains(errStr, tc.stderr) {
				t.Error("Stderr expected:", tc.stderr, "Got:", errStr)
			}
			for _, o := range tc.stdout {
				if !strings.Contains(outStr, o) {
					t.Error("Stdout expected:", o, "Got:", outStr)
				}
			}

			if tc.willRunFor == 0 && ec == 0 && len(tc.stderr) > 0 {
				t.Error("Non-zero exit code expected")
			}
		})
	}
}

func TestNextInterval(t *testing.T) {
	tt := []struct {
		now      time.Time
		interval time.Duration
		nextIn   time.Duration
	}{
		// mod(01:01:01, minute)++ -> 01:02:00 needs 59s
		{time.Date(2019, 5, 7, 1, 1, 1, 0, time.UTC), time.Minute, time.Second * 59},
		// mod(01:13:58, 15m)++ -> 01:15:00 needs 1m2s
		{time.Date(2019, 5, 7, 1, 13, 58, 0, time.UTC), time.Minute * 15, time.Minute + time.Second*2},
		// mod(01:01:01, hour)++ -> 02:00:00 needs 58m59s
		{time.Date(2019, 5, 7, 1, 1, 1, 0, time.UTC), time.Hour, time.Minute*58 + time.Second*59},
	}

	for tx, tc := range tt {
		t.Run(fmt.Sprintf("%d", tx), func(t *testing.T) {
			nextIn := nextInterval(tc.now, tc.interval)
			if nextIn != tc.nextIn {
				t.Error("nextIn NE:now", tc.now, "Int", tc.interval, "Want", tc.nextIn, "Got", nextIn)
			}
		})
	}
}

// TestUSR1 confirms SIGUSR1 triggers a stats report without stopping the daemon.
func TestUSR1(t *testing.T) {
	upstream := fakeUpstream(t)
	out := &mutexBytesBuffer{}
	err := &mutexBytesBuffer{}
	args := []string{"dnrd-proxy", "-v", "-bind-address", "127.0.0.1:0", "-server", upstream + ":eth0"}
	mainInit(out, err)

	go func() {
		for ix := 0; ix < 10 && !isMain(Started); ix++ {
			time.Sleep(100 * time.Millisecond)
		}
		stopChannel <- syscall.SIGUSR1
		time.Sleep(200 * time.Millisecond)
		stopMain()
	}()

	ec := mainExecute(args)
	outStr := out.String()
	errStr := err.String()
	if ec != 0 {
		t.Error("Expected zero exit return, not", ec, errStr)
	}
	if !strings.Contains(outStr, "User1 Egress") && !strings.Contains(outStr, "User1") {
		t.Error("Expected a User1 status report", outStr)
	}
}

// waitForMainExecute makes sure mainExecute starts up, runs for howLong, then terminates cleanly.
func waitForMainExecute(t *testing.T, howLong time.Duration) error {
	for ix := 0; ix < 10; ix++ {
		if isMain(Started) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !isMain(Started) {
		return fmt.Errorf("mainStarted did not get set after one second")
	}
	time.Sleep(howLong)
	stopMain()
	for ix := 0; ix < 10; ix++ {
		if isMain(Stopped) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !isMain(Stopped) {
		return fmt.Errorf("mainStopped did not get set one second after stopMain() call for %s", t.Name())
	}

	return nil
}
