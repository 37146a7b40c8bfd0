/*
Package logsink adapts github.com/AdguardTeam/golibs/log, the leveled structured logger already
present in the retrieval pack's dnsproxy dependency graph, to the small log(level, message)
collaborator interface spec.md §6 says the core consumes. Keeping the interface tiny and
package-local means internal/daemon and friends can be exercised in tests with a fake sink instead
of dragging the real logger (and its process-wide level global) into every test.
*/
package logsink

import (
	"fmt"

	"github.com/AdguardTeam/golibs/log"
)

// Level mirrors the four levels the core ever emits at. The core never logs at a client-facing
// level above Warning - per spec.md §7, nothing short of a failure to open the listening socket is
// fatal to the process.
type Level int

const (
	Debug Level = iota
	Info
	Warning
	Error
)

// Sink is the collaborator interface the forwarding core depends on.
type Sink interface {
	Log(level Level, format string, args ...interface{})
}

// Golibs adapts AdguardTeam/golibs/log to Sink. Its zero value is ready to use.
type Golibs struct{}

// Log implements Sink by dispatching to the matching golibs/log function.
func (Golibs) Log(level Level, format string, args ...interface{}) {
	switch level {
	case Debug:
		log.Debug(format, args...)
	case Info:
		log.Info(format, args...)
	case Warning:
		log.Info("WARNING: "+format, args...)
	case Error:
		log.Error(format, args...)
	}
}

// SetDebug turns on golibs/log's DEBUG level, matching the -v/--verbose flag convention the
// teacher's binaries use.
func SetDebug(on bool) {
	if on {
		log.SetLevel(log.DEBUG)
		return
	}
	log.SetLevel(log.INFO)
}

// Fake is a Sink that records every call for assertions in tests, instead of writing anywhere.
type Fake struct {
	Lines []string
}

// Log implements Sink by formatting and appending to Lines.
func (f *Fake) Log(level Level, format string, args ...interface{}) {
	f.Lines = append(f.Lines, fmt.Sprintf("%d: %s", level, fmt.Sprintf(format, args...)))
}
