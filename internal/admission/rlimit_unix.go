//go:build unix

package admission

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// raiseFDLimit queries the soft/hard file-descriptor limits, attempts
// to raise the soft limit to the hard limit, and — if still under
// fdRaiseTarget — attempts that as a last resort, all best effort.
func raiseFDLimit(logger *zap.SugaredLogger) int {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		logger.Warnw("failed to query RLIMIT_NOFILE, assuming conservative default", "error", err)
		return defaultCapFloor + reservedFDs
	}

	soft, hard := rlim.Cur, rlim.Max

	if soft < hard {
		attempt := unix.Rlimit{Cur: hard, Max: hard}
		if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &attempt); err == nil {
			soft = hard
		}
	}

	if soft < fdRaiseTarget {
		target := uint64(fdRaiseTarget)
		if target > hard {
			target = hard
		}
		if target > soft {
			attempt := unix.Rlimit{Cur: target, Max: hard}
			if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &attempt); err == nil {
				soft = target
			}
		}
	}

	return int(soft)
}
