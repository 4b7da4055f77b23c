package probe

// All lists every protocol the engine knows how to probe, in the
// fixed order spec.md §4.6 presents them — this order also determines
// next_probe()'s "first non-empty per-protocol queue" tie-break.
var All = []Protocol{SMTP, POP3, IMAP, HTTP, FTP, Telnet, SSH}

// DefaultEnabled mirrors spec.md §6.1: SMTP, POP3, IMAP are on by
// default; FTP, Telnet, SSH, and HTTP must be explicitly enabled
// (--enable-ftp, --enable-telnet, --enable-ssh, --enable-http) or
// turned off (--no-smtp, --no-pop3, --no-imap).
func DefaultEnabled() map[string]bool {
	return map[string]bool{
		"SMTP": true,
		"POP3": true,
		"IMAP": true,
		"HTTP": false,
		"FTP":  false,
		"Telnet": false,
		"SSH":  false,
	}
}

// ByName looks up a Protocol by its case-sensitive Name.
func ByName(name string) (Protocol, bool) {
	for _, p := range All {
		if p.Name == name {
			return p, true
		}
	}
	return Protocol{}, false
}

// Enabled filters All down to the protocols whose name is set true in
// the enabled map.
func Enabled(enabled map[string]bool) []Protocol {
	out := make([]Protocol, 0, len(All))
	for _, p := range All {
		if enabled[p.Name] {
			out = append(out, p)
		}
	}
	return out
}
