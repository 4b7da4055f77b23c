// Package ingest implements C1, the target ingester: stream-parses
// input file(s) into Targets, expanding CIDR blocks and ranges, and
// applies resume-IP skip semantics (spec.md §4.1). Resuming by a count
// of targets to skip is not supported; only a last-emitted IP is.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/scanline/fingerprinter/internal/model"
)

// MaxExpansion caps how many addresses a single CIDR/range line may emit.
const MaxExpansion = 1048576

// Ingester streams Targets from one or more input files into a
// bounded channel, blocking (back-pressure) when the channel is full
// and stopping cleanly when ctx is cancelled.
type Ingester struct {
	logger      *zap.SugaredLogger
	resumeIP    string // last_ip from a loaded checkpoint; empty disables skip mode
	truncations int
}

// New creates an Ingester. resumeIP, if non-empty, puts the ingester in
// skip mode per spec.md §4.1 "Resume semantics".
func New(resumeIP string, logger *zap.SugaredLogger) *Ingester {
	return &Ingester{logger: logger, resumeIP: resumeIP}
}

// Truncations returns how many CIDR/range lines hit the MaxExpansion cap.
func (ing *Ingester) Truncations() int {
	return ing.truncations
}

// Run walks path (a file or, recursively, a directory of files) and
// streams Targets into out. It returns when input is exhausted or ctx
// is cancelled. The caller is responsible for closing out after Run
// returns if it owns the channel's lifetime exclusively.
func (ing *Ingester) Run(ctx context.Context, path string, out chan<- model.Target) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("ingest: cannot stat input path: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		files, err = walkDir(path)
		if err != nil {
			return fmt.Errorf("ingest: cannot walk input directory: %w", err)
		}
	}

	skipping := ing.resumeIP != ""

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil
		}
		skipping, err = ing.ingestFile(ctx, file, skipping, out)
		if err != nil {
			ing.logger.Warnw("unreadable input file, skipping", "file", file, "error", err)
			continue
		}
	}

	return nil
}

// walkDir returns regular target-list files under root in deterministic
// order, skipping dotfiles and any file whose extension isn't .txt or
// .list (extensionless files are accepted), matching common operator
// conventions for a directory of target lists.
func walkDir(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		switch strings.ToLower(filepath.Ext(d.Name())) {
		case "", ".txt", ".list":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (ing *Ingester) ingestFile(ctx context.Context, path string, skipping bool, out chan<- model.Target) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return skipping, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return skipping, nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		targets, truncated := ing.expandLine(line)
		if truncated {
			ing.truncations++
			ing.logger.Warnw("line exceeded expansion cap, truncating", "line", line, "cap", MaxExpansion)
		}

		for _, t := range targets {
			if skipping {
				if t.Kind == model.KindIP && t.InputValue == ing.resumeIP {
					skipping = false
				}
				continue
			}
			if !send(ctx, out, t) {
				return skipping, nil
			}
		}
	}

	return skipping, scanner.Err()
}

func send(ctx context.Context, out chan<- model.Target, t model.Target) bool {
	select {
	case out <- t:
		return true
	case <-ctx.Done():
		return false
	}
}

// expandLine applies the line grammar of spec.md §4.1: CIDR, range, or
// a bare literal target.
func (ing *Ingester) expandLine(line string) ([]model.Target, bool) {
	if strings.Contains(line, "/") {
		return ing.expandCIDR(line)
	}
	if strings.Contains(line, ",") {
		if targets, ok, truncated := ing.expandRange(line); ok {
			return targets, truncated
		}
	}
	return []model.Target{newTarget(line)}, false
}

func (ing *Ingester) expandCIDR(line string) ([]model.Target, bool) {
	parts := strings.SplitN(line, "/", 2)
	if len(parts) != 2 {
		return []model.Target{newTarget(line)}, false
	}

	ipStr, prefixStr := parts[0], parts[1]
	ip := net.ParseIP(ipStr)
	if ip == nil || ip.To4() == nil {
		ing.logger.Warnw("invalid CIDR line, dropping", "line", line)
		return nil, false
	}

	prefix, err := strconv.Atoi(prefixStr)
	if err != nil || prefix < 0 || prefix > 32 {
		ing.logger.Warnw("invalid CIDR prefix, dropping", "line", line)
		return nil, false
	}

	base := ipToUint32(ip.To4())
	var mask uint32
	if prefix == 0 {
		mask = 0
	} else {
		mask = ^uint32(0) << (32 - prefix)
	}
	network := base & mask
	hostmask := ^mask
	broadcast := network | hostmask

	total := uint64(broadcast) - uint64(network) + 1
	truncated := false
	if total > MaxExpansion {
		total = MaxExpansion
		truncated = true
	}

	targets := make([]model.Target, 0, total)
	for i := uint64(0); i < total; i++ {
		targets = append(targets, newTarget(uint32ToIP(network + uint32(i)).String()))
	}
	return targets, truncated
}

func (ing *Ingester) expandRange(line string) ([]model.Target, bool, bool) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 {
		return nil, false, false
	}

	aStr, bStr := strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1])
	a := net.ParseIP(aStr)
	b := net.ParseIP(bStr)
	if a == nil || a.To4() == nil || b == nil || b.To4() == nil {
		return nil, false, false
	}

	lo, hi := ipToUint32(a.To4()), ipToUint32(b.To4())
	if lo > hi {
		lo, hi = hi, lo
	}

	total := uint64(hi) - uint64(lo) + 1
	truncated := false
	if total > MaxExpansion {
		total = MaxExpansion
		truncated = true
	}

	targets := make([]model.Target, 0, total)
	for i := uint64(0); i < total; i++ {
		targets = append(targets, newTarget(uint32ToIP(lo + uint32(i)).String()))
	}
	return targets, true, truncated
}

func newTarget(value string) model.Target {
	if ip := net.ParseIP(value); ip != nil && ip.To4() != nil {
		return model.Target{InputValue: value, Kind: model.KindIP}
	}
	return model.Target{InputValue: value, HostName: value, Kind: model.KindHostname}
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
}

func uint32ToIP(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
