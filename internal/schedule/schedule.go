// Package schedule implements C4, the scheduler: it pulls Targets off
// the ingest channel, opens a Session per target under the admission
// cap, dispatches each session's pending probes to a reactor pool, and
// sweeps completed sessions into the result pipeline (spec.md §4.4).
package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/scanline/fingerprinter/internal/admission"
	"github.com/scanline/fingerprinter/internal/latency"
	"github.com/scanline/fingerprinter/internal/model"
	"github.com/scanline/fingerprinter/internal/probe"
	"github.com/scanline/fingerprinter/internal/resolve"
	"github.com/scanline/fingerprinter/internal/session"
	"github.com/scanline/fingerprinter/internal/vendor"
)

// sweepInterval is the scheduler main loop's poll granularity
// (spec.md §4.4 step 7: "sleep briefly and iterate").
const sweepInterval = 5 * time.Millisecond

// Options configures a Scheduler.
type Options struct {
	Reactors       int
	ProbeTimeout   time.Duration
	DNSTimeout     time.Duration
	ProbeMode      session.ProbeMode
	Enabled        []probe.Protocol
	OnlySuccess    bool
	AdaptiveTimeout bool
	Vendor         *vendor.Detector // nil disables vendor classification
	RateLimitPPS   int              // 0 disables admission pacing
}

// reactor is one worker goroutine in the probe-dispatch pool, tracked
// by a pending-task counter so the scheduler can pick the least-loaded
// reactor for each dispatch (SPEC_FULL.md §6, grounded in the
// teacher's worker-pool dispatch idiom).
type reactor struct {
	tasks chan func()
	load  atomic.Int64
}

// Scheduler owns the active-session set and the reactor pool that
// executes their probes.
type Scheduler struct {
	opts     Options
	admit    *admission.Controller
	resolver *resolve.Resolver
	lat      *latency.Manager
	logger   *zap.SugaredLogger

	reactors []*reactor
	limiter  *rate.Limiter // nil when admission pacing is disabled

	mu     sync.Mutex
	active []*session.Session

	degradeOnce sync.Once

	Reports chan model.ScanReport
}

// New constructs a Scheduler and starts its reactor pool.
func New(opts Options, admit *admission.Controller, resolver *resolve.Resolver, lat *latency.Manager, logger *zap.SugaredLogger) *Scheduler {
	if opts.Reactors <= 0 {
		opts.Reactors = 4
	}

	s := &Scheduler{
		opts:     opts,
		admit:    admit,
		resolver: resolver,
		lat:      lat,
		logger:   logger,
		Reports:  make(chan model.ScanReport, 1024),
	}

	if opts.RateLimitPPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitPPS), opts.RateLimitPPS)
	}

	for i := 0; i < opts.Reactors; i++ {
		r := &reactor{tasks: make(chan func(), 256)}
		s.reactors = append(s.reactors, r)
		go s.runReactor(r)
	}

	return s
}

func (s *Scheduler) runReactor(r *reactor) {
	for task := range r.tasks {
		task()
	}
}

// leastLoaded returns the reactor with the smallest pending-task count.
func (s *Scheduler) leastLoaded() *reactor {
	best := s.reactors[0]
	for _, r := range s.reactors[1:] {
		if r.load.Load() < best.load.Load() {
			best = r
		}
	}
	return best
}

// Run is the scheduler main loop: it consumes targets, opens sessions
// under the admission cap, dispatches pending probes round-robin, and
// sweeps releasable sessions into Reports. It returns when targets is
// closed, drained, and every active session has been released, or ctx
// is cancelled.
//
// The targets case is gated to a nil channel whenever the active set
// is already at the admission cap, or once targets has been drained.
// A nil channel is never ready, so the select falls through to the
// ticker case instead of blocking admission on a loop that would
// otherwise starve dispatchPending/sweep of the cycles they need to
// ever free up capacity.
func (s *Scheduler) Run(ctx context.Context, targets <-chan model.Target) {
	defer close(s.Reports)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	targetsOpen := true

	for {
		var targetsCh <-chan model.Target
		if targetsOpen && s.activeCount() < s.admit.Cap() {
			targetsCh = targets
		}

		select {
		case <-ctx.Done():
			s.drainRemaining()
			return
		case t, ok := <-targetsCh:
			if !ok {
				targetsOpen = false
			} else {
				s.admitTarget(ctx, t)
			}
		case <-ticker.C:
			s.dispatchPending()
			s.sweep()
		}

		if !targetsOpen && len(s.snapshotActive()) == 0 {
			return
		}
	}
}

func (s *Scheduler) admitTarget(ctx context.Context, t model.Target) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
	}

	sess := session.New(ctx, t, s.resolver, s.opts.DNSTimeout, s.opts.ProbeMode, s.opts.Enabled, s.opts.OnlySuccess, s.lat)

	s.mu.Lock()
	s.active = append(s.active, sess)
	s.mu.Unlock()
}

func (s *Scheduler) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// ActiveCount returns the number of currently admitted, un-harvested
// sessions. Safe for concurrent use by the admin status API.
func (s *Scheduler) ActiveCount() int { return s.activeCount() }

func (s *Scheduler) snapshotActive() []*session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session.Session, len(s.active))
	copy(out, s.active)
	return out
}

// dispatchPending round-robins each active session's next pending
// probe out to the least-loaded reactor.
func (s *Scheduler) dispatchPending() {
	for _, sess := range s.snapshotActive() {
		if sess.State() == session.StateFailed {
			continue
		}
		name, port, ok := sess.NextProbe()
		if !ok {
			continue
		}

		proto, ok := probe.ByName(name)
		if !ok {
			continue
		}

		timeout := s.opts.ProbeTimeout
		if s.opts.AdaptiveTimeout {
			timeout = s.lat.SuggestTimeout(sess.Target.ResolvedIP)
		}

		r := s.leastLoaded()
		r.load.Add(1)

		localSess, localProto, localPort, localTimeout := sess, proto, port, timeout
		r.tasks <- func() {
			defer r.load.Add(-1)
			result := probe.Run(context.Background(), localProto, localSess.Target.ResolvedIP, localPort, localSess.Target.HostLabel(), localTimeout)
			if s.opts.Vendor != nil && result.Accessible && result.Attributes.Banner != "" {
				result.Attributes.Vendor = s.opts.Vendor.Detect(result.Attributes.Banner)
			}
			if result.ResourceExhausted {
				s.degradeOnAdmission()
			}
			localSess.PushResult(result, s.lat)
		}
	}
}

// degradeOnAdmission lowers the admission cap once, the first time a
// probe connect fails with EMFILE/ENFILE, rather than on every such
// failure (spec.md §7 "Admission-degradation (logged once; cap
// lowered; no abort)").
func (s *Scheduler) degradeOnAdmission() {
	s.degradeOnce.Do(func() {
		newCap := s.admit.Cap() * 9 / 10
		s.admit.Degrade(newCap)
		s.logger.Warnw("admission cap degraded after file-descriptor exhaustion",
			"new_cap", newCap)
	})
}

// sweep harvests every releasable active session into Reports and
// removes it from the active set.
func (s *Scheduler) sweep() {
	s.mu.Lock()
	remaining := s.active[:0]
	var released []*session.Session
	for _, sess := range s.active {
		if sess.Releasable() {
			released = append(released, sess)
		} else {
			remaining = append(remaining, sess)
		}
	}
	s.active = remaining
	s.mu.Unlock()

	for _, sess := range released {
		report := sess.Finalize()
		if sess.State() == session.StateFailed && sess.DNSError != "" {
			report.Protocols = append(report.Protocols, model.ProtocolResult{
				ProtocolName: "DNS",
				HostLabel:    sess.Target.HostLabel(),
				Accessible:   false,
				Error:        sess.DNSError,
			})
		}
		s.Reports <- report
	}
}

func (s *Scheduler) drainRemaining() {
	s.dispatchPending()
	s.sweep()
}
