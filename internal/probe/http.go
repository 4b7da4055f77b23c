package probe

import (
	"bufio"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/scanline/fingerprinter/internal/model"
)

// HTTP implements spec.md §4.6.4: a HEAD request, header parsing, and
// a body-sniff vendor override for generic-LB or missing Server headers.
var HTTP = Protocol{
	Name:         "HTTP",
	DefaultPorts: []int{80, 443, 8080, 8443},
	Script:       httpScript,
}

var (
	statusLineRE = regexp.MustCompile(`HTTP/\d\.\d\s+(\d+)`)
	vendorSniffRE = regexp.MustCompile(`(?i)(nginx/|apache/|iis/|litespeed)[^\s<"]*`)
	genericLBMarkers = []string{"lego", "nws"}
)

func httpScript(conn net.Conn, r *bufio.Reader, hostLabel string, port int) (model.ProtocolAttributes, error) {
	var attrs model.ProtocolAttributes

	req := fmt.Sprintf("HEAD / HTTP/1.1\r\nHost: %s\r\nUser-Agent: curl/8.7.1\r\nAccept: */*\r\n\r\n", hostLabel)
	if _, err := conn.Write([]byte(req)); err != nil {
		return attrs, fmt.Errorf("request write: %w", err)
	}

	lines, err := readHeaderBlock(r)
	if err != nil {
		return attrs, fmt.Errorf("header read: %w", err)
	}
	if len(lines) == 0 {
		return attrs, fmt.Errorf("empty response")
	}

	statusLine := lines[0]
	if m := statusLineRE.FindStringSubmatch(statusLine); m != nil {
		if code, err := strconv.Atoi(m[1]); err == nil {
			attrs.StatusCode = code
		}
	}

	for _, h := range lines[1:] {
		lower := strings.ToLower(h)
		switch {
		case strings.HasPrefix(lower, "server:"):
			attrs.Server = strings.TrimSpace(h[len("server:"):])
		case strings.HasPrefix(lower, "content-type:"):
			attrs.ContentType = strings.TrimSpace(h[len("content-type:"):])
		}
	}

	banner := statusLine
	if attrs.Server != "" {
		banner += " [" + attrs.Server + "]"
	}

	if attrs.StatusCode >= 400 || attrs.Server == "" || isGenericLB(attrs.Server) {
		body := readLimited(r, 4096)
		if vendor := sniffVendor(body); vendor != "" {
			banner += " (Detected: " + vendor + ")"
		}
	}

	attrs.Banner = banner
	return attrs, nil
}

func isGenericLB(server string) bool {
	lower := strings.ToLower(server)
	for _, marker := range genericLBMarkers {
		if lower == marker {
			return true
		}
	}
	return false
}

func sniffVendor(body []byte) string {
	m := vendorSniffRE.FindString(string(body))
	return m
}
