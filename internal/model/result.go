package model

// ProtocolAttributes is the sum of per-protocol attribute shapes plus the
// common fields every protocol probe may set.
type ProtocolAttributes struct {
	Banner          string `json:"banner,omitempty"`
	Vendor          string `json:"vendor,omitempty"`
	ResponseTimeMs  int64  `json:"response_time_ms,omitempty"`

	// SMTP
	Pipelining    bool   `json:"pipelining,omitempty"`
	StartTLS      bool   `json:"starttls,omitempty"`
	SizeSupported bool   `json:"size_supported,omitempty"`
	SizeLimit     int64  `json:"size_limit,omitempty"`
	UTF8          bool   `json:"utf8,omitempty"`
	EightBitMIME  bool   `json:"eight_bit_mime,omitempty"`
	DSN           bool   `json:"dsn,omitempty"`
	AuthMethods   string `json:"auth_methods,omitempty"`

	// POP3
	STLS bool `json:"stls,omitempty"`
	User bool `json:"user,omitempty"`
	Top  bool `json:"top,omitempty"`
	UIDL bool `json:"uidl,omitempty"`

	// IMAP (StartTLS is shared with SMTP above). Capabilities holds the
	// raw untagged CAPABILITY response line; POP3 never populates it
	// since its probe only reads the banner and never issues CAPA
	// (spec.md §4.6.2).
	Quota        bool   `json:"quota,omitempty"`
	ACL          bool   `json:"acl,omitempty"`
	IMAP4rev1    bool   `json:"imap4rev1,omitempty"`
	AuthPlain    bool   `json:"auth_plain,omitempty"`
	AuthLogin    bool   `json:"auth_login,omitempty"`
	Idle         bool   `json:"idle,omitempty"`
	Unselect     bool   `json:"unselect,omitempty"`
	UIDPlus      bool   `json:"uidplus,omitempty"`
	SASL         bool   `json:"sasl,omitempty"`
	Capabilities string `json:"capabilities,omitempty"`

	// HTTP
	Server      string `json:"server,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	StatusCode  int    `json:"status_code,omitempty"`
}

// ProtocolResult is the outcome of a single (protocol, port) probe.
type ProtocolResult struct {
	ProtocolName string
	HostLabel    string
	Port         int
	Accessible   bool
	Error        string
	Attributes   ProtocolAttributes

	// ResourceExhausted is set when the connect attempt failed because
	// the process hit its file-descriptor limit (EMFILE/ENFILE), as
	// opposed to a refused or timed-out connection. The scheduler uses
	// this to degrade the admission cap (spec.md §7 "Admission-degradation").
	ResourceExhausted bool
}

// ScanReport is the aggregate of all ProtocolResults for a single Target,
// created once per Session at completion.
type ScanReport struct {
	Target       Target
	Protocols    []ProtocolResult
	TotalTimeMs  int64
}
