package pipeline

import (
	"strings"
	"testing"

	"github.com/scanline/fingerprinter/internal/model"
)

func sampleReport() model.ScanReport {
	return model.ScanReport{
		Target: model.Target{HostName: "mail.example.com", ResolvedIP: "192.0.2.1"},
		Protocols: []model.ProtocolResult{
			{ProtocolName: "SMTP", HostLabel: "mail.example.com", Port: 25, Accessible: true, Attributes: model.ProtocolAttributes{Banner: "220 ready"}},
			{ProtocolName: "POP3", HostLabel: "mail.example.com", Port: 110, Accessible: false, Error: "POP3 connect failed: refused"},
		},
		TotalTimeMs: 42,
	}
}

func TestFormatTextIncludesBannerOnlyForOK(t *testing.T) {
	text := formatText(sampleReport(), false)
	if !strings.Contains(text, "mail.example.com (192.0.2.1)") {
		t.Errorf("missing header line: %q", text)
	}
	if !strings.Contains(text, "[SMTP] mail.example.com:25 -> OK") {
		t.Errorf("missing SMTP OK line: %q", text)
	}
	if !strings.Contains(text, "banner: 220 ready") {
		t.Errorf("missing banner line: %q", text)
	}
	if !strings.Contains(text, "[POP3] mail.example.com:110 -> FAIL") {
		t.Errorf("missing POP3 FAIL line: %q", text)
	}
}

func TestFormatTextOnlySuccessDropsFailures(t *testing.T) {
	text := formatText(sampleReport(), true)
	if strings.Contains(text, "POP3") {
		t.Errorf("only_success should have dropped the POP3 row: %q", text)
	}
}

func TestCSVRowsOnlySuccess(t *testing.T) {
	rows := csvRows(sampleReport(), true)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row with only_success, got %d", len(rows))
	}
	if rows[0][2] != "SMTP" {
		t.Errorf("unexpected row: %+v", rows[0])
	}
}

func TestCSVRowsAllIncluded(t *testing.T) {
	rows := csvRows(sampleReport(), false)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
}

func TestRequiredLinesAssignsStableSequence(t *testing.T) {
	seqOf := map[string]int{}
	next := 0
	seqFn := func(ip string) int {
		if n, ok := seqOf[ip]; ok {
			return n
		}
		next++
		seqOf[ip] = next
		return next
	}

	lines1 := requiredLines(sampleReport(), false, seqFn)
	lines2 := requiredLines(sampleReport(), false, seqFn)

	if len(lines1) != 2 || len(lines2) != 2 {
		t.Fatalf("expected 2 lines per call, got %d and %d", len(lines1), len(lines2))
	}
	if !strings.HasPrefix(lines1[0], "1,192.0.2.1,25,") {
		t.Errorf("unexpected first line: %q", lines1[0])
	}
	if !strings.HasPrefix(lines2[0], "1,192.0.2.1,25,") {
		t.Errorf("expected stable sequence number across calls: %q", lines2[0])
	}
}

func TestExtensionFor(t *testing.T) {
	cases := map[string]string{"text": "txt", "report": "txt", "required": "txt", "csv": "csv", "json": "json"}
	for format, want := range cases {
		if got := extensionFor(format); got != want {
			t.Errorf("extensionFor(%q) = %q, want %q", format, got, want)
		}
	}
}
