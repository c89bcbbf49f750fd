package gpucompute

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucompute/bytecode"
)

// nopHandler is a slog.Handler that discards all records. Enabled returns
// false so callers skip formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for gpucompute, the bytecode package
// and the backends of every open device. By default nothing is logged.
// Pass nil to restore silence.
//
// Log levels:
//   - [slog.LevelDebug]: pipeline builds, cache hits, shader compiles
//   - [slog.LevelInfo]: devices opened and recovered
//   - [slog.LevelWarn]: device loss, discarded pipeline builds
//
// Example:
//
//	gpucompute.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	bytecode.SetLogger(l)

	liveMu.Lock()
	devs := make([]*Device, 0, len(live))
	for d := range live {
		devs = append(devs, d)
	}
	liveMu.Unlock()
	for _, d := range devs {
		propagateLogger(d.backendDevice(), l)
	}
}

// Logger returns the current logger. Safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

func slogger() *slog.Logger { return loggerPtr.Load() }

// loggerSetter is implemented by backends that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes l to a backend that implements loggerSetter.
// Called from SetLogger and whenever a device gets a backend.
func propagateLogger(b any, l *slog.Logger) {
	if ls, ok := b.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}

// live tracks open devices for logger propagation.
var (
	liveMu sync.Mutex
	live   = map[*Device]struct{}{}
)

func trackDevice(d *Device) {
	liveMu.Lock()
	live[d] = struct{}{}
	liveMu.Unlock()
}

func untrackDevice(d *Device) {
	liveMu.Lock()
	delete(live, d)
	liveMu.Unlock()
}
