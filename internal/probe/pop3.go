package probe

import (
	"bufio"
	"fmt"
	"net"
	"strings"

	"github.com/scanline/fingerprinter/internal/model"
)

// POP3 implements spec.md §4.6.2: a single banner line is the whole
// script; capability booleans are inferred from recognizable tokens
// in that banner since CAPA is not issued by the core probe.
var POP3 = Protocol{
	Name:         "POP3",
	DefaultPorts: []int{110, 995},
	Script:       pop3Script,
}

func pop3Script(_ net.Conn, r *bufio.Reader, hostLabel string, port int) (model.ProtocolAttributes, error) {
	var attrs model.ProtocolAttributes

	line, err := readLine(r)
	if err != nil {
		return attrs, fmt.Errorf("banner read: %w", err)
	}

	upper := strings.ToUpper(line)
	if !strings.HasPrefix(line, "+OK") && !strings.Contains(upper, "OK") {
		return attrs, fmt.Errorf("unexpected banner: %q", line)
	}

	attrs.Banner = line
	if strings.Contains(upper, "USER") {
		attrs.User = true
	}
	if strings.Contains(upper, "TOP") {
		attrs.Top = true
	}
	if strings.Contains(upper, "PIPELINING") {
		attrs.Pipelining = true
	}
	if strings.Contains(upper, "UIDL") {
		attrs.UIDL = true
	}
	if strings.Contains(upper, "STLS") {
		attrs.STLS = true
	}

	return attrs, nil
}
