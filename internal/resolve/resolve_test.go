package resolve

import (
	"context"
	"testing"
	"time"
)

func TestResolveUnresolvableNameFails(t *testing.T) {
	r := New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := r.Resolve(ctx, "this-domain-should-never-exist.invalid", 300*time.Millisecond)
	if result.Success {
		t.Fatalf("expected resolution failure, got IP %q", result.IP)
	}
	if result.Error == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestParseHostOutput(t *testing.T) {
	out := "mail.example.com has address 192.0.2.10\nmail.example.com has IPv6 address 2001:db8::1\n"
	if got := parseHostOutput(out); got != "192.0.2.10" {
		t.Errorf("parseHostOutput() = %q, want 192.0.2.10", got)
	}
}

func TestParseHostOutputNoMatch(t *testing.T) {
	if got := parseHostOutput("host not found\n"); got != "" {
		t.Errorf("parseHostOutput() = %q, want empty", got)
	}
}

func TestParseNslookupOutput(t *testing.T) {
	out := "Server:\t\t127.0.0.53\nAddress:\t127.0.0.53#53\n\nName:\tmail.example.com\nAddress: 192.0.2.10\n"
	if got := parseNslookupOutput(out); got != "192.0.2.10" {
		t.Errorf("parseNslookupOutput() = %q, want 192.0.2.10", got)
	}
}
