package latency

import (
	"sync"
	"testing"
)

func TestUnknownSubnetReturnsMinimum(t *testing.T) {
	m := New()
	if got := m.SuggestTimeout("203.0.113.9"); got != minSuggestedTimeout {
		t.Errorf("unknown subnet = %v, want %v", got, minSuggestedTimeout)
	}
}

func TestSampleConvergesAndClamps(t *testing.T) {
	m := New()
	for i := 0; i < 50; i++ {
		m.Sample("10.0.0.7", 500_000) // 500ms in microseconds, steady state
	}
	got := m.SuggestTimeout("10.0.0.7")
	if got < minSuggestedTimeout || got > maxSuggestedTimeout {
		t.Errorf("SuggestTimeout = %v, want within [%v, %v]", got, minSuggestedTimeout, maxSuggestedTimeout)
	}
}

func TestSuggestTimeoutClampsHighVariance(t *testing.T) {
	m := New()
	m.Sample("198.51.100.4", 100_000)
	m.Sample("198.51.100.4", 10_000_000) // huge jump in RTT
	got := m.SuggestTimeout("198.51.100.4")
	if got > maxSuggestedTimeout {
		t.Errorf("SuggestTimeout = %v, want <= max %v", got, maxSuggestedTimeout)
	}
}

func TestSubnetKeyIgnoresHostOctet(t *testing.T) {
	m := New()
	// 1s first sample: srtt 1s + 4*rttvar 0.5s = 3s, above the 800ms floor.
	m.Sample("10.1.2.3", 1_000_000)
	got := m.SuggestTimeout("10.1.2.250")
	if got == minSuggestedTimeout {
		t.Errorf("expected 10.1.2.250 to share the /24 sample with 10.1.2.3")
	}
}

func TestSubnetKeyRejectsNonIPv4(t *testing.T) {
	if subnetKey("not-an-ip") != "" {
		t.Error("expected empty key for invalid input")
	}
	if subnetKey("::1") != "" {
		t.Error("expected empty key for IPv6 input")
	}
}

// TestConcurrentSampleAndSuggestTimeout exercises Sample (writer) and
// SuggestTimeout (reader) from many goroutines at once against the
// same subnet. It doesn't assert on the values — run with -race to
// catch the data race this guards against.
func TestConcurrentSampleAndSuggestTimeout(t *testing.T) {
	m := New()
	const ip = "192.0.2.1"

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			m.Sample(ip, float64(100_000+n*1000))
		}(i)
		go func() {
			defer wg.Done()
			m.SuggestTimeout(ip)
		}()
	}
	wg.Wait()
}
