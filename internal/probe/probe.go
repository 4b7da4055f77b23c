// Package probe implements C6, the per-protocol asynchronous probe
// state machines: connect, write, read-until, parse, with strict
// timeout discipline and a single completion path (spec.md §4.6).
package probe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/scanline/fingerprinter/internal/model"
)

// Script runs a protocol's connect-time wire exchange over an already
// TCP-connected conn and returns the attributes it parsed. An error
// return means the probe failed; Run records it in ProtocolResult.Error
// labelled as the "probe" stage (connect failures happen in Run itself
// and are labelled "connect").
type Script func(conn net.Conn, r *bufio.Reader, hostLabel string, port int) (model.ProtocolAttributes, error)

// Protocol describes one probeable protocol: its name, default ports
// (spec.md §4.6.1-4.6.7), and its wire script.
type Protocol struct {
	Name         string
	DefaultPorts []int
	Script       Script
}

// Run executes one probe: resolve the endpoint, arm a deadline equal
// to timeout covering the whole script, connect, run the script, and
// produce exactly one ProtocolResult. No probe retries itself
// (spec.md §4.6: "retries, if any, happen at the queue level").
func Run(ctx context.Context, proto Protocol, ip string, port int, hostLabel string, timeout time.Duration) model.ProtocolResult {
	result := model.ProtocolResult{ProtocolName: proto.Name, HostLabel: hostLabel, Port: port}

	start := time.Now()
	deadline := start.Add(timeout)

	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		result.Accessible = false
		result.Error = classifyError(err, proto.Name, "connect")
		result.ResourceExhausted = IsResourceExhausted(err)
		return result
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		result.Accessible = false
		result.Error = err.Error()
		return result
	}

	reader := bufio.NewReader(conn)
	attrs, err := proto.Script(conn, reader, hostLabel, port)
	if err != nil {
		result.Accessible = false
		result.Error = classifyError(err, proto.Name, "probe")
		return result
	}

	attrs.ResponseTimeMs = time.Since(start).Milliseconds()
	result.Accessible = true
	result.Attributes = attrs
	return result
}

// IsResourceExhausted reports whether err is a connect failure caused
// by the process hitting its file-descriptor limit rather than a
// refused or timed-out connection.
func IsResourceExhausted(err error) bool {
	return errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE)
}

func classifyError(err error, protoName, stage string) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s probe timed out", protoName)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("%s probe timed out", protoName)
	}
	return fmt.Sprintf("%s %s failed: %v", protoName, stage, err)
}
