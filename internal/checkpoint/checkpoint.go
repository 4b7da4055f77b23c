// Package checkpoint implements C9: atomic progress persistence so a
// scan can resume from the last processed IP after an interruption
// (spec.md §4.9).
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// State is the persisted checkpoint document.
type State struct {
	LastIP          string `json:"last_ip"`
	ProcessedCount  int64  `json:"processed_count"`
	SuccessfulCount int64  `json:"successful_count"`
	Timestamp       string `json:"timestamp"`
	InputFileHash   string `json:"input_file_hash"`
}

// Manager persists State to <output_dir>/<input_basename>.progress.json.
type Manager struct {
	path      string
	inputHash string
}

// New derives the checkpoint path from outputDir and inputPath and
// computes inputPath's fingerprint for staleness detection.
func New(outputDir, inputPath string) (*Manager, error) {
	base := filepath.Base(inputPath)
	path := filepath.Join(outputDir, base+".progress.json")

	hash, err := fingerprint(inputPath)
	if err != nil {
		return nil, err
	}

	return &Manager{path: path, inputHash: hash}, nil
}

// Path returns the checkpoint file's path.
func (m *Manager) Path() string { return m.path }

// Load reads an existing checkpoint, if present and matching the
// current input file's fingerprint. A stale (different input) or
// absent checkpoint returns (nil, nil) so callers treat it as "start
// fresh" rather than an error.
func (m *Manager) Load() (*State, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: read: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("checkpoint: decode: %w", err)
	}

	if st.InputFileHash != m.inputHash {
		return nil, nil
	}
	return &st, nil
}

// Save writes lastIP/processedCount/successfulCount atomically via
// write-then-rename.
func (m *Manager) Save(lastIP string, processedCount, successfulCount int64) error {
	st := State{
		LastIP:          lastIP,
		ProcessedCount:  processedCount,
		SuccessfulCount: successfulCount,
		Timestamp:       time.Now().UTC().Format("2006-01-02 15:04:05"),
		InputFileHash:   m.inputHash,
	}

	data, err := json.MarshalIndent(&st, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: mkdir: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write temp file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

// Delete removes the checkpoint file on clean scan completion. A
// missing file is not an error.
func (m *Manager) Delete() error {
	err := os.Remove(m.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checkpoint: delete: %w", err)
	}
	return nil
}

// fingerprint computes "<size>_<mtime_seconds>_<sha256-of-first-1KiB>"
// per spec.md §4.9.
func fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("checkpoint: open input: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("checkpoint: stat input: %w", err)
	}

	buf := make([]byte, 1024)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("checkpoint: read input head: %w", err)
	}

	sum := sha256.Sum256(buf[:n])

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d_%d_%s", info.Size(), info.ModTime().UTC().Unix(), hex.EncodeToString(sum[:]))
	return sb.String(), nil
}
