package probe

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/scanline/fingerprinter/internal/model"
)

// SMTP implements spec.md §4.6.1: read the 220 banner, send EHLO,
// parse capability lines up to the terminal "250 " line.
var SMTP = Protocol{
	Name:         "SMTP",
	DefaultPorts: []int{25, 465, 587, 2525},
	Script:       smtpScript,
}

func smtpScript(conn net.Conn, r *bufio.Reader, hostLabel string, port int) (model.ProtocolAttributes, error) {
	var attrs model.ProtocolAttributes

	banner, err := readLine(r)
	if err != nil {
		return attrs, fmt.Errorf("banner read: %w", err)
	}
	if !strings.HasPrefix(banner, "220") {
		return attrs, fmt.Errorf("unexpected banner: %q", banner)
	}
	attrs.Banner = banner

	if _, err := conn.Write([]byte("EHLO scanner\r\n")); err != nil {
		return attrs, fmt.Errorf("EHLO write: %w", err)
	}

	for {
		line, err := readLine(r)
		if err != nil {
			return attrs, fmt.Errorf("EHLO read: %w", err)
		}

		terminal := strings.HasPrefix(line, "250 ")
		var content string
		switch {
		case terminal:
			content = strings.TrimPrefix(line, "250 ")
		case strings.HasPrefix(line, "250-"):
			content = strings.TrimPrefix(line, "250-")
		default:
			continue
		}

		parseSMTPCapability(&attrs, content)
		if terminal {
			break
		}
	}

	return attrs, nil
}

func parseSMTPCapability(attrs *model.ProtocolAttributes, content string) {
	upper := strings.ToUpper(content)
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return
	}

	switch {
	case upper == "PIPELINING":
		attrs.Pipelining = true
	case upper == "STARTTLS":
		attrs.StartTLS = true
	case upper == "8BITMIME":
		attrs.EightBitMIME = true
	case upper == "DSN":
		attrs.DSN = true
	case upper == "SMTPUTF8":
		attrs.UTF8 = true
	case strings.HasPrefix(upper, "SIZE"):
		attrs.SizeSupported = true
		if len(fields) > 1 {
			if n, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
				attrs.SizeLimit = n
			}
		}
	case strings.HasPrefix(upper, "AUTH"):
		if len(fields) > 1 {
			attrs.AuthMethods = strings.Join(fields[1:], " ")
		}
	}
}
