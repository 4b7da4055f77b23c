package probe

import (
	"bufio"
	"io"
	"strings"
)

// readLine reads one CRLF- (or LF-) terminated line and strips the
// terminator. If the peer closes the connection before any byte
// arrives, it returns io.EOF so callers can report "accessible=false"
// per spec.md §8's zero-length-banner boundary case; a partial final
// line before EOF is still returned successfully.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readHeaderBlock reads lines until an empty line (the CRLFCRLF
// terminator of an HTTP header block), returning the lines read
// excluding the terminating blank line.
func readHeaderBlock(r *bufio.Reader) ([]string, error) {
	var lines []string
	for {
		line, err := readLine(r)
		if err != nil {
			if len(lines) > 0 {
				return lines, nil
			}
			return nil, err
		}
		if line == "" {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

// readLimited best-effort reads up to max bytes without requiring the
// full amount (used for the HTTP body-sniff step, where the server may
// send fewer bytes or hold the connection open).
func readLimited(r *bufio.Reader, max int) []byte {
	buf := make([]byte, max)
	n, _ := io.ReadFull(r, buf)
	return buf[:n]
}
