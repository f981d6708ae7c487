// Package progress provides a best-effort, side-channel progress observer
// for long-running conversion operations. The core pipeline carries no
// output dependency: it advances an injected Observer and callers decide
// how to render it. Observers must never affect the outcome of an
// operation.
package progress

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Observer receives progress notifications from a running operation.
// Implementations must be safe for concurrent use: workers advance the
// observer from multiple goroutines.
type Observer interface {
	// Begin announces the operation and the total number of units, or -1
	// when the total is unknown.
	Begin(op string, total int64)
	// Advance reports n completed units.
	Advance(n int64)
	// End announces completion of the operation.
	End(op string)
}

// Nop returns an observer that discards all notifications.
func Nop() Observer { return nopObserver{} }

type nopObserver struct{}

func (nopObserver) Begin(string, int64) {}
func (nopObserver) Advance(int64)       {}
func (nopObserver) End(string)          {}

// Logger is an Observer that periodically reports progress through a zap
// logger. Reporting is rate-limited so tight worker loops do not flood
// the log.
type Logger struct {
	log      *zap.Logger
	interval time.Duration

	op      string
	total   int64
	done    atomic.Int64
	lastLog atomic.Int64 // unix nanos of last emitted line
	started time.Time
}

// NewLogger creates a logging observer reporting at most once per interval.
func NewLogger(log *zap.Logger, interval time.Duration) *Logger {
	if interval <= 0 {
		interval = time.Second
	}
	return &Logger{log: log, interval: interval}
}

// Begin implements Observer.
func (l *Logger) Begin(op string, total int64) {
	l.op = op
	l.total = total
	l.done.Store(0)
	l.started = time.Now()
	l.log.Info("starting", zap.String("op", op), zap.Int64("total", total))
}

// Advance implements Observer.
func (l *Logger) Advance(n int64) {
	done := l.done.Add(n)

	now := time.Now().UnixNano()
	last := l.lastLog.Load()
	if now-last < int64(l.interval) {
		return
	}
	if !l.lastLog.CompareAndSwap(last, now) {
		return
	}

	fields := []zap.Field{
		zap.String("op", l.op),
		zap.Int64("done", done),
	}
	if l.total > 0 {
		fields = append(fields, zap.Int64("total", l.total))
	}
	l.log.Info("progress", fields...)
}

// End implements Observer.
func (l *Logger) End(op string) {
	l.log.Info("finished",
		zap.String("op", op),
		zap.Int64("done", l.done.Load()),
		zap.Duration("elapsed", time.Since(l.started)))
}

// Count is a trivial observer that only accumulates advanced units.
// Used in tests to assert progress reporting without rendering.
type Count struct {
	Total atomic.Int64
	Done  atomic.Int64
	Ended atomic.Int64
}

// Begin implements Observer.
func (c *Count) Begin(_ string, total int64) { c.Total.Store(total) }

// Advance implements Observer.
func (c *Count) Advance(n int64) { c.Done.Add(n) }

// End implements Observer.
func (c *Count) End(string) { c.Ended.Add(1) }
