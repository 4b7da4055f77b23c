// Package latency implements C7, the latency manager: a per-/24 EWMA
// of RTT (Jacobson's algorithm) used to derive adaptive probe timeouts
// (spec.md §4.7).
package latency

import (
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	minSuggestedTimeout = 800 * time.Millisecond
	maxSuggestedTimeout = 4000 * time.Millisecond
)

type subnetLatency struct {
	srttUs    float64
	rttvarUs  float64
	initialized bool
}

// Manager is a reader-biased concurrent map from IPv4 /24 key to its
// SubnetLatency, threaded explicitly through the scheduler and probe
// tasks rather than kept as a process-wide singleton.
type Manager struct {
	mu      sync.RWMutex
	subnets map[string]*subnetLatency
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{subnets: make(map[string]*subnetLatency)}
}

// Sample feeds one RTT observation (microseconds) for the /24 subnet
// containing ip, updating srtt/rttvar via Jacobson's algorithm.
func (m *Manager) Sample(ip string, rttUs float64) {
	key := subnetKey(ip)
	if key == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subnets[key]
	if !ok {
		s = &subnetLatency{}
		m.subnets[key] = s
	}

	if !s.initialized {
		s.srttUs = rttUs
		s.rttvarUs = rttUs / 2
		s.initialized = true
		return
	}

	diff := rttUs - s.srttUs
	if diff < 0 {
		diff = -diff
	}
	s.rttvarUs += (diff - s.rttvarUs) / 4
	s.srttUs += (rttUs - s.srttUs) / 8
}

// SuggestTimeout returns the adaptive timeout for ip, clamped to
// [800ms, 4000ms]. Unknown subnets return the minimum.
func (m *Manager) SuggestTimeout(ip string) time.Duration {
	key := subnetKey(ip)
	if key == "" {
		return minSuggestedTimeout
	}

	m.mu.RLock()
	s, ok := m.subnets[key]
	var initialized bool
	var srttUs, rttvarUs float64
	if ok {
		initialized = s.initialized
		srttUs = s.srttUs
		rttvarUs = s.rttvarUs
	}
	m.mu.RUnlock()

	if !ok || !initialized {
		return minSuggestedTimeout
	}

	suggestedUs := srttUs + 4*rttvarUs
	suggested := time.Duration(suggestedUs) * time.Microsecond
	if suggested < minSuggestedTimeout {
		return minSuggestedTimeout
	}
	if suggested > maxSuggestedTimeout {
		return maxSuggestedTimeout
	}
	return suggested
}

func subnetKey(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	v4 := parsed.To4()
	if v4 == nil {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d", v4[0], v4[1], v4[2])
}
