package pipeline

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/scanline/fingerprinter/internal/model"
)

// csvHeader is the fixed header row for the csv format (spec.md §6.4).
var csvHeader = []string{
	"domain", "ip", "protocol", "host", "port", "accessible",
	"error", "vendor", "banner", "response_time_ms", "details",
}

// formatText renders one report as the §6.4 "text" stream block, also
// used verbatim for "report" (spec.md: "currently equivalent to text").
func formatText(report model.ScanReport, onlySuccess bool) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s (%s)\n", report.Target.HostLabel(), report.Target.ResolvedIP)

	for _, p := range report.Protocols {
		if onlySuccess && !p.Accessible {
			continue
		}
		status := "FAIL"
		if p.Accessible {
			status = "OK"
		}
		fmt.Fprintf(&buf, "  [%s] %s:%d -> %s\n", p.ProtocolName, p.HostLabel, p.Port, status)
		if p.Accessible && p.Attributes.Banner != "" {
			fmt.Fprintf(&buf, "    banner: %s\n", p.Attributes.Banner)
		}
	}
	return buf.String()
}

// csvRows renders one report's included protocol rows as csv records
// (header is written once by the caller).
func csvRows(report model.ScanReport, onlySuccess bool) [][]string {
	var rows [][]string
	for _, p := range report.Protocols {
		if onlySuccess && !p.Accessible {
			continue
		}
		details := p.Attributes.Capabilities
		if details == "" {
			details = p.Attributes.AuthMethods
		}
		rows = append(rows, []string{
			report.Target.HostName,
			report.Target.ResolvedIP,
			p.ProtocolName,
			p.HostLabel,
			strconv.Itoa(p.Port),
			strconv.FormatBool(p.Accessible),
			p.Error,
			p.Attributes.Vendor,
			p.Attributes.Banner,
			strconv.FormatInt(p.Attributes.ResponseTimeMs, 10),
			details,
		})
	}
	return rows
}

func writeCSVRows(w *csv.Writer, rows [][]string) error {
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// jsonTargetObject is the per-target shape the "json" format emits
// (spec.md §6.4: "domain, ip, total_time_ms, and protocols array").
type jsonTargetObject struct {
	Domain      string                  `json:"domain"`
	IP          string                  `json:"ip"`
	TotalTimeMs int64                   `json:"total_time_ms"`
	Protocols   []model.ProtocolResult `json:"protocols"`
}

func toJSONObject(report model.ScanReport, onlySuccess bool) jsonTargetObject {
	protocols := report.Protocols
	if onlySuccess {
		filtered := make([]model.ProtocolResult, 0, len(protocols))
		for _, p := range protocols {
			if p.Accessible {
				filtered = append(filtered, p)
			}
		}
		protocols = filtered
	}
	return jsonTargetObject{
		Domain:      report.Target.HostName,
		IP:          report.Target.ResolvedIP,
		TotalTimeMs: report.TotalTimeMs,
		Protocols:   protocols,
	}
}

// requiredLines renders the "required" format's "<seq>,<ip>,<port>,<banner>"
// lines, assigning seq the first time an IP is seen across the run.
func requiredLines(report model.ScanReport, onlySuccess bool, seqOf func(ip string) int) []string {
	var lines []string
	seq := seqOf(report.Target.ResolvedIP)
	for _, p := range report.Protocols {
		if onlySuccess && !p.Accessible {
			continue
		}
		lines = append(lines, fmt.Sprintf("%d,%s,%d,%s", seq, report.Target.ResolvedIP, p.Port, p.Attributes.Banner))
	}
	return lines
}

func extensionFor(format string) string {
	switch format {
	case "csv":
		return "csv"
	case "json":
		return "json"
	default: // text, report, required
		return "txt"
	}
}
