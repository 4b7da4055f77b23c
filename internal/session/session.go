// Package session implements C5: the per-target session state
// machine — DNS resolution, per-protocol pending-port queues, result
// aggregation, and releasability (spec.md §4.5).
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scanline/fingerprinter/internal/latency"
	"github.com/scanline/fingerprinter/internal/model"
	"github.com/scanline/fingerprinter/internal/probe"
	"github.com/scanline/fingerprinter/internal/resolve"
)

// State is the session lifecycle state (spec.md §4.5 diagram).
type State int32

const (
	StatePending State = iota
	StateDNSRunning
	StateProbeRunning
	StateCompleted
	StateFailed
	StateTimeout
)

// ProbeMode selects which ports each protocol's queue is seeded with.
type ProbeMode int

const (
	// ProtocolDefaults seeds each protocol's queue with that
	// protocol's own default ports.
	ProtocolDefaults ProbeMode = iota
	// AllAvailable seeds every protocol's queue with the full
	// available-ports union.
	AllAvailable
)

// Session is the per-target coordinating record.
type Session struct {
	Target      model.Target
	DNSError    string
	state       atomic.Int32
	probeMode   ProbeMode

	availablePorts []int
	protocolOrder  []string
	pendingPorts   map[string][]int
	pendingIdx     map[string]int

	expectedProbes  int64
	completedProbes atomic.Int64

	onlySuccess bool

	mu      sync.Mutex
	results []model.ProtocolResult

	StartedAt time.Time
}

// New constructs a Session for target: resolving DNS inline (per
// spec.md §4.4 step 4 — "DNS runs inline in this step; cheap for IP
// targets") unless the target is already an IP, then seeding the
// per-protocol pending-port queues.
func New(
	ctx context.Context,
	target model.Target,
	resolver *resolve.Resolver,
	dnsTimeout time.Duration,
	mode ProbeMode,
	enabled []probe.Protocol,
	onlySuccess bool,
	lat *latency.Manager,
) *Session {
	s := &Session{
		Target:      target,
		probeMode:   mode,
		onlySuccess: onlySuccess,
		StartedAt:   time.Now(),
		pendingPorts: make(map[string][]int),
		pendingIdx:   make(map[string]int),
	}

	if target.Kind == model.KindIP {
		s.Target.ResolvedIP = target.InputValue
		s.state.Store(int32(StateProbeRunning))
	} else {
		s.state.Store(int32(StateDNSRunning))
		result := resolver.Resolve(ctx, target.HostName, dnsTimeout)
		if !result.Success {
			s.state.Store(int32(StateFailed))
			s.DNSError = "DNS Resolution Failed"
			return s
		}
		s.Target.ResolvedIP = result.IP
		s.state.Store(int32(StateProbeRunning))
	}

	s.initPortQueues(enabled)
	return s
}

func (s *Session) initPortQueues(enabled []probe.Protocol) {
	portSet := make(map[int]bool)
	for _, p := range enabled {
		for _, port := range p.DefaultPorts {
			portSet[port] = true
		}
	}
	s.availablePorts = make([]int, 0, len(portSet))
	for port := range portSet {
		s.availablePorts = append(s.availablePorts, port)
	}

	var total int64
	for _, p := range enabled {
		var ports []int
		switch s.probeMode {
		case AllAvailable:
			ports = append(ports, s.availablePorts...)
		default:
			ports = append(ports, p.DefaultPorts...)
		}
		s.protocolOrder = append(s.protocolOrder, p.Name)
		s.pendingPorts[p.Name] = ports
		total += int64(len(ports))
	}
	s.expectedProbes = total
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// NextProbe removes and returns the head of the first non-empty
// per-protocol queue, in protocol-registration order.
func (s *Session) NextProbe() (protocolName string, port int, ok bool) {
	for _, name := range s.protocolOrder {
		idx := s.pendingIdx[name]
		queue := s.pendingPorts[name]
		if idx < len(queue) {
			s.pendingIdx[name] = idx + 1
			return name, queue[idx], true
		}
	}
	return "", 0, false
}

// HasPending reports whether any protocol still has ports queued.
func (s *Session) HasPending() bool {
	for _, name := range s.protocolOrder {
		if s.pendingIdx[name] < len(s.pendingPorts[name]) {
			return true
		}
	}
	return false
}

// PushResult records one probe's outcome: increments the completed
// counter, feeds the latency manager on a successful timed probe, and
// appends the result unless only_success filters it out.
func (s *Session) PushResult(r model.ProtocolResult, lat *latency.Manager) {
	s.completedProbes.Add(1)

	if r.Accessible && r.Attributes.ResponseTimeMs > 0 && lat != nil {
		lat.Sample(s.Target.ResolvedIP, float64(r.Attributes.ResponseTimeMs)*1000)
	}

	if s.onlySuccess && !r.Accessible {
		return
	}

	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
}

// Releasable reports whether this session may be harvested: DNS
// failed before any probe was enqueued, there was nothing to probe,
// or every expected probe has completed (spec.md §4.5 releasable()).
func (s *Session) Releasable() bool {
	if s.State() == StateFailed {
		return true
	}
	if s.expectedProbes == 0 {
		return true
	}
	return s.completedProbes.Load() >= s.expectedProbes
}

// ExpectedProbes returns the total probe count computed at construction.
func (s *Session) ExpectedProbes() int64 { return s.expectedProbes }

// CompletedProbes returns the current completed-probe count.
func (s *Session) CompletedProbes() int64 { return s.completedProbes.Load() }

// Finalize transitions a still-running session to COMPLETED and
// builds its ScanReport. Callers must only call this once, on harvest.
func (s *Session) Finalize() model.ScanReport {
	if s.State() != StateFailed {
		s.state.Store(int32(StateCompleted))
	}

	s.mu.Lock()
	protocols := make([]model.ProtocolResult, len(s.results))
	copy(protocols, s.results)
	s.mu.Unlock()

	return model.ScanReport{
		Target:      s.Target,
		Protocols:   protocols,
		TotalTimeMs: time.Since(s.StartedAt).Milliseconds(),
	}
}
