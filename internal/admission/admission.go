// Package admission computes and enforces the global concurrent-session
// cap from the OS file-descriptor limits (spec.md §4.2, C2).
package admission

import (
	"sync/atomic"

	"go.uber.org/zap"
)

const (
	reservedFDs      = 150
	fdRaiseTarget    = 65535
	highFDThreshold  = 10000
	defaultCapFloor  = 100
	unconfiguredCeil = 50000
)

// Controller holds the effective admission cap and lets it be lowered
// (degraded) at runtime without ever going below the floor.
type Controller struct {
	cap    atomic.Int64
	logger *zap.SugaredLogger
}

// New queries the process FD limits, attempts to raise them, and
// computes the effective cap from maxWorkCount (0 means unconfigured)
// per spec.md §4.2.
func New(maxWorkCount int, logger *zap.SugaredLogger) *Controller {
	fdLimit := raiseFDLimit(logger)
	usable := fdLimit - reservedFDs
	if usable < 0 {
		usable = 0
	}

	var effective int
	switch {
	case maxWorkCount == 0:
		if fdLimit >= highFDThreshold {
			effective = minInt(usable, unconfiguredCeil)
		} else {
			effective = maxInt(defaultCapFloor, usable)
		}
	case maxWorkCount > usable:
		effective = maxInt(defaultCapFloor, usable)
		logger.Warnw("configured max_work_count exceeds usable file descriptors, clamping",
			"configured", maxWorkCount, "usable_fds", usable, "clamped_to", effective)
	default:
		effective = maxWorkCount
	}

	if effective < defaultCapFloor {
		effective = defaultCapFloor
	}

	c := &Controller{logger: logger}
	c.cap.Store(int64(effective))

	logger.Infow("admission cap computed",
		"fd_limit", fdLimit, "usable_fds", usable, "effective_cap", effective)

	return c
}

// Cap returns the current effective admission cap.
func (c *Controller) Cap() int {
	return int(c.cap.Load())
}

// Degrade lowers the cap at runtime (e.g. observed resource pressure)
// without dropping below the floor. Logged once by the caller.
func (c *Controller) Degrade(newCap int) {
	if newCap < defaultCapFloor {
		newCap = defaultCapFloor
	}
	c.cap.Store(int64(newCap))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
