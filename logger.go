package tsip

import (
	"io"
	"log"
	"os"

	"github.com/asticode/go-astikit"
)

// logger is the package-level, swappable diagnostic logger. It is used for
// conditions a library function can recover from on its own (unregistered
// table ids, malformed descriptors, demux continuity errors) and therefore
// does not want to surface as a Go error.
var logger astikit.StdLogger = astikit.AdaptStdLogger(log.New(os.Stderr, "", log.LstdFlags))

// SetLogger overrides the package-level logger used for non-fatal
// diagnostics. Passing nil restores a logger that discards everything.
func SetLogger(l *log.Logger) {
	if l == nil {
		logger = astikit.AdaptStdLogger(log.New(io.Discard, "", 0))
		return
	}
	logger = astikit.AdaptStdLogger(l)
}

// PrefixedLogger wraps an astikit.StdLogger and prepends a fixed prefix to
// every message, so a component (demux, analyzer, zap) can identify itself
// in shared output without threading a logger name through every call.
// Ported in spirit from tsduck's ReportWithPrefix.
type PrefixedLogger struct {
	base   astikit.StdLogger
	prefix string
}

// NewPrefixedLogger returns a PrefixedLogger writing through base with
// every message prefixed by prefix (e.g. "[demux] "). If base is nil, the
// package-level Logger is used.
func NewPrefixedLogger(prefix string, base astikit.StdLogger) *PrefixedLogger {
	if base == nil {
		base = logger
	}
	return &PrefixedLogger{base: base, prefix: prefix}
}

// Printf prefixes format's output and forwards it to the wrapped logger.
func (p *PrefixedLogger) Printf(format string, args ...interface{}) {
	p.base.Printf(p.prefix+format, args...)
}

// Logger returns the package-level diagnostic logger, for collaborators
// (demux, analyzer, zap) that want to wrap it with a PrefixedLogger.
func Logger() astikit.StdLogger { return logger }
