// Package foreground tracks whether the application has been brought to the
// foreground since launch and exits cold push-triggered launches.
package foreground

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// GracePeriod is how long a cold push launch waits for a resume before exiting.
const GracePeriod = time.Second

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func())

// Option configures a Guard.
type Option func(*Guard)

// WithAfterFunc replaces the timer used for the grace period.
func WithAfterFunc(fn AfterFunc) Option {
	return func(g *Guard) {
		g.afterFunc = fn
	}
}

// WithGracePeriod overrides GracePeriod.
func WithGracePeriod(d time.Duration) Option {
	return func(g *Guard) {
		g.grace = d
	}
}

// Guard holds the process-wide foreground flag. The flag never reverts to false.
type Guard struct {
	foregrounded atomic.Bool
	exitOnce     sync.Once
	afterFunc    AfterFunc
	grace        time.Duration
	logger       *slog.Logger
}

func NewGuard(logger *slog.Logger, opts ...Option) *Guard {
	g := &Guard{
		afterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		grace:     GracePeriod,
		logger:    logger.With("component", "ForegroundGuard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HasBeenForegrounded reports whether the app was foregrounded at any point.
func (g *Guard) HasBeenForegrounded() bool {
	return g.foregrounded.Load()
}

// MarkForeground records a resume signal or a foreground window at startup.
func (g *Guard) MarkForeground() {
	if g.foregrounded.CompareAndSwap(false, true) {
		g.logger.Debug("Application foregrounded")
	}
}

// ScheduleExit runs exit after the grace period unless the app is foregrounded
// by then. exit runs at most once for the lifetime of the guard.
func (g *Guard) ScheduleExit(exit func()) {
	g.logger.Debug("Scheduling exit of background launch", "grace", g.grace)
	g.afterFunc(g.grace, func() {
		if g.HasBeenForegrounded() {
			g.logger.Debug("Exit suppressed, application was foregrounded")
			return
		}
		g.exitOnce.Do(func() {
			g.logger.Info("Exiting background launch")
			exit()
		})
	})
}
