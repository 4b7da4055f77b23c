package probe

import (
	"bufio"
	"fmt"
	"net"
	"strings"

	"github.com/scanline/fingerprinter/internal/model"
)

const imapTag = "A001"

// IMAP implements spec.md §4.6.3: read the greeting, issue
// "A001 CAPABILITY", and parse lines until the tagged response.
var IMAP = Protocol{
	Name:         "IMAP",
	DefaultPorts: []int{143, 993},
	Script:       imapScript,
}

func imapScript(conn net.Conn, r *bufio.Reader, hostLabel string, port int) (model.ProtocolAttributes, error) {
	var attrs model.ProtocolAttributes

	greeting, err := readLine(r)
	if err != nil {
		return attrs, fmt.Errorf("greeting read: %w", err)
	}
	if !strings.HasPrefix(greeting, "* OK") && !strings.HasPrefix(greeting, "* PREAUTH") {
		return attrs, fmt.Errorf("unexpected greeting: %q", greeting)
	}
	attrs.Banner = greeting

	if _, err := conn.Write([]byte(imapTag + " CAPABILITY\r\n")); err != nil {
		return attrs, fmt.Errorf("CAPABILITY write: %w", err)
	}

	for {
		line, err := readLine(r)
		if err != nil {
			return attrs, fmt.Errorf("CAPABILITY read: %w", err)
		}

		upper := strings.ToUpper(line)
		if strings.HasPrefix(upper, "* CAPABILITY") {
			attrs.Capabilities = strings.TrimSpace(line)
			parseIMAPCapability(&attrs, upper)
		}

		if strings.Contains(line, imapTag) {
			if strings.Contains(upper, "OK") {
				return attrs, nil
			}
			return attrs, fmt.Errorf("CAPABILITY command failed: %q", line)
		}
	}
}

func parseIMAPCapability(attrs *model.ProtocolAttributes, upperLine string) {
	if strings.Contains(upperLine, "IMAP4REV1") {
		attrs.IMAP4rev1 = true
	}
	if strings.Contains(upperLine, "STARTTLS") {
		attrs.StartTLS = true
	}
	if strings.Contains(upperLine, "AUTH=PLAIN") {
		attrs.AuthPlain = true
	}
	if strings.Contains(upperLine, "AUTH=LOGIN") {
		attrs.AuthLogin = true
	}
	if strings.Contains(upperLine, "IDLE") {
		attrs.Idle = true
	}
	if strings.Contains(upperLine, "UNSELECT") {
		attrs.Unselect = true
	}
	if strings.Contains(upperLine, "UIDPLUS") {
		attrs.UIDPlus = true
	}
	if strings.Contains(upperLine, "QUOTA") {
		attrs.Quota = true
	}
	if strings.Contains(upperLine, "ACL") {
		attrs.ACL = true
	}
	if strings.Contains(upperLine, "SASL") {
		attrs.SASL = true
	}
}
