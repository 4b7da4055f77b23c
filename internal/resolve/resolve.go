// Package resolve implements C3, the DNS resolver: resolve a hostname
// to one IPv4 address with bounded retry, or bypass resolution
// entirely when the target is already an IP (spec.md §4.3).
package resolve

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"
)

// Result is the outcome of a resolve attempt.
type Result struct {
	IP        string
	MXRecords []string
	Success   bool
	Error     string
}

const maxAttempts = 3

// Resolver resolves hostnames to IPv4 addresses, preferring the
// library-based Go resolver and falling back to a subprocess lookup
// when it errors (spec.md §4.3: "may be backed by (a) a library-based
// async resolver ... or (b) a subprocess fallback").
type Resolver struct {
	netResolver *net.Resolver
}

// New creates a Resolver backed by the pure-Go stdlib resolver.
func New() *Resolver {
	return &Resolver{
		netResolver: &net.Resolver{PreferGo: true},
	}
}

// Resolve attempts up to 3 total lookups with no backoff, honoring
// timeout on each attempt, and returns the first successful A-record
// IPv4 address. MX records are collected best-effort and are
// informational only.
func (r *Resolver) Resolve(ctx context.Context, name string, timeout time.Duration) Result {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		ip, err := r.lookupOnce(attemptCtx, name)
		cancel()

		if err == nil && ip != "" {
			mx := r.lookupMX(ctx, name, timeout)
			return Result{IP: ip, MXRecords: mx, Success: true}
		}
		lastErr = err
	}

	msg := "DNS Resolution Failed"
	if lastErr != nil {
		msg = fmt.Sprintf("DNS Resolution Failed: %v", lastErr)
	}
	return Result{Success: false, Error: msg}
}

func (r *Resolver) lookupOnce(ctx context.Context, name string) (string, error) {
	addrs, err := r.netResolver.LookupIPAddr(ctx, name)
	if err == nil {
		if ip := firstIPv4(addrs); ip != "" {
			return ip, nil
		}
		err = fmt.Errorf("no A record for %s", name)
	}

	// Library resolver failed (e.g. no system resolver available in a
	// minimal container); fall back to a subprocess lookup.
	if ip, fbErr := r.subprocessLookup(ctx, name); fbErr == nil {
		return ip, nil
	}

	return "", err
}

func firstIPv4(addrs []net.IPAddr) string {
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}

func (r *Resolver) lookupMX(ctx context.Context, name string, timeout time.Duration) []string {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	records, err := r.netResolver.LookupMX(ctx, name)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, strings.TrimSuffix(rec.Host, "."))
	}
	return out
}

// subprocessLookup shells out to `host`, falling back to `nslookup`,
// mirroring the os/exec subprocess pattern used elsewhere in the
// retrieval pack for OS-feature lookups that have no portable Go API.
func (r *Resolver) subprocessLookup(ctx context.Context, name string) (string, error) {
	if path, err := exec.LookPath("host"); err == nil {
		out, err := exec.CommandContext(ctx, path, "-t", "A", name).Output()
		if err == nil {
			if ip := parseHostOutput(string(out)); ip != "" {
				return ip, nil
			}
		}
	}

	if path, err := exec.LookPath("nslookup"); err == nil {
		out, err := exec.CommandContext(ctx, path, name).Output()
		if err == nil {
			if ip := parseNslookupOutput(string(out)); ip != "" {
				return ip, nil
			}
		}
	}

	return "", fmt.Errorf("subprocess DNS lookup unavailable for %s", name)
}

func parseHostOutput(out string) string {
	for _, line := range strings.Split(out, "\n") {
		idx := strings.LastIndex(line, " has address ")
		if idx == -1 {
			continue
		}
		candidate := strings.TrimSpace(line[idx+len(" has address "):])
		if net.ParseIP(candidate) != nil {
			return candidate
		}
	}
	return ""
}

func parseNslookupOutput(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(strings.TrimSpace(line), "Address:") {
			continue
		}
		candidate := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "Address:"))
		if net.ParseIP(candidate) != nil && strings.Count(candidate, ".") == 3 {
			return candidate
		}
	}
	return ""
}
