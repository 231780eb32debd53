package server

import (
	"log/slog"
	"sync"
	"time"
)

// Watchdog forces the process to exit if shutdown has not completed within
// the grace period after it was armed.
type Watchdog struct {
	grace  time.Duration
	exit   func(code int)
	logger *slog.Logger

	mu       sync.Mutex
	timer    *time.Timer
	disarmed bool
	fired    bool
}

// NewWatchdog creates an unarmed Watchdog.
func NewWatchdog(grace time.Duration, exit func(code int), logger *slog.Logger) *Watchdog {
	return &Watchdog{grace: grace, exit: exit, logger: logger}
}

// Arm starts the countdown. Later calls and calls after Disarm do nothing.
func (w *Watchdog) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil || w.disarmed {
		return
	}
	w.logger.Info("shutdown watchdog armed", "grace_period", w.grace.String())
	w.timer = time.AfterFunc(w.grace, w.fire)
}

// Disarm cancels a pending countdown and prevents future arming.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.disarmed = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Armed reports whether the countdown is running.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timer != nil && !w.disarmed && !w.fired
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.disarmed {
		w.mu.Unlock()
		return
	}
	w.fired = true
	w.mu.Unlock()

	w.logger.Warn("server still running after grace period, forcing exit")
	w.exit(0)
}
