package session

import (
	"context"
	"testing"
	"time"

	"github.com/scanline/fingerprinter/internal/model"
	"github.com/scanline/fingerprinter/internal/probe"
	"github.com/scanline/fingerprinter/internal/resolve"
)

func TestIPTargetSkipsDNS(t *testing.T) {
	target := model.Target{InputValue: "192.0.2.10", Kind: model.KindIP}
	s := New(context.Background(), target, resolve.New(), time.Second, ProtocolDefaults, []probe.Protocol{probe.SMTP}, false, nil)

	if s.State() != StateProbeRunning {
		t.Fatalf("State() = %v, want StateProbeRunning", s.State())
	}
	if s.Target.ResolvedIP != "192.0.2.10" {
		t.Errorf("ResolvedIP = %q, want 192.0.2.10", s.Target.ResolvedIP)
	}
}

func TestUnresolvableHostnameFails(t *testing.T) {
	target := model.Target{InputValue: "this-host-should-not-resolve.invalid", HostName: "this-host-should-not-resolve.invalid", Kind: model.KindHostname}
	s := New(context.Background(), target, resolve.New(), 200*time.Millisecond, ProtocolDefaults, []probe.Protocol{probe.SMTP}, false, nil)

	if s.State() != StateFailed {
		t.Fatalf("State() = %v, want StateFailed", s.State())
	}
	if s.DNSError == "" {
		t.Error("expected a non-empty DNSError")
	}
	if !s.Releasable() {
		t.Error("a failed session must be immediately releasable")
	}
}

func TestNextProbeOrderAndExhaustion(t *testing.T) {
	target := model.Target{InputValue: "192.0.2.1", Kind: model.KindIP}
	s := New(context.Background(), target, resolve.New(), time.Second, ProtocolDefaults, []probe.Protocol{probe.SMTP, probe.POP3}, false, nil)

	var seen []string
	for {
		name, _, ok := s.NextProbe()
		if !ok {
			break
		}
		seen = append(seen, name)
	}

	wantCount := len(probe.SMTP.DefaultPorts) + len(probe.POP3.DefaultPorts)
	if len(seen) != wantCount {
		t.Fatalf("got %d probes, want %d: %v", len(seen), wantCount, seen)
	}
	if seen[0] != "SMTP" {
		t.Errorf("expected SMTP ports first, got %v", seen)
	}
	if _, _, ok := s.NextProbe(); ok {
		t.Error("expected NextProbe to report exhaustion")
	}
}

func TestReleasableOnlyAfterAllProbesComplete(t *testing.T) {
	target := model.Target{InputValue: "192.0.2.1", Kind: model.KindIP}
	s := New(context.Background(), target, resolve.New(), time.Second, ProtocolDefaults, []probe.Protocol{probe.SMTP}, false, nil)

	if s.Releasable() {
		t.Fatal("should not be releasable before any probe completes")
	}

	for i := int64(0); i < s.ExpectedProbes(); i++ {
		if s.Releasable() {
			t.Fatalf("became releasable early at completed=%d of %d", i, s.ExpectedProbes())
		}
		s.PushResult(model.ProtocolResult{ProtocolName: "SMTP", Accessible: false}, nil)
	}

	if !s.Releasable() {
		t.Error("expected releasable after all expected probes completed")
	}
}

func TestOnlySuccessFiltersFailedResults(t *testing.T) {
	target := model.Target{InputValue: "192.0.2.1", Kind: model.KindIP}
	s := New(context.Background(), target, resolve.New(), time.Second, ProtocolDefaults, []probe.Protocol{probe.SMTP}, true, nil)

	s.PushResult(model.ProtocolResult{ProtocolName: "SMTP", Accessible: false}, nil)
	report := s.Finalize()
	if len(report.Protocols) != 0 {
		t.Errorf("expected only_success to drop the failed result, got %+v", report.Protocols)
	}
}
