package probe

import (
	"bufio"
	"fmt"
	"net"

	"github.com/scanline/fingerprinter/internal/model"
)

// bannerLineScript is the shared "connect, read one line, record as
// banner, succeed on any received byte" template spec.md §4.6.5-4.6.7
// describes for FTP, SSH, and Telnet.
func bannerLineScript(_ net.Conn, r *bufio.Reader, _ string, _ int) (model.ProtocolAttributes, error) {
	var attrs model.ProtocolAttributes

	line, err := readLine(r)
	if err != nil {
		return attrs, fmt.Errorf("banner read: %w", err)
	}

	attrs.Banner = line
	return attrs, nil
}

// FTP implements spec.md §4.6.5.
var FTP = Protocol{
	Name:         "FTP",
	DefaultPorts: []int{21, 990},
	Script:       bannerLineScript,
}

// SSH implements spec.md §4.6.7.
var SSH = Protocol{
	Name:         "SSH",
	DefaultPorts: []int{22},
	Script:       bannerLineScript,
}

// Telnet implements spec.md §4.6.6 (same template as SSH/FTP).
var Telnet = Protocol{
	Name:         "Telnet",
	DefaultPorts: []int{23},
	Script:       bannerLineScript,
}
