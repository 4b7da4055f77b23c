package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/scanline/fingerprinter/internal/model"
)

func collect(t *testing.T, ing *Ingester, path string) []model.Target {
	t.Helper()
	out := make(chan model.Target, 4096)

	// Drain concurrently: Run blocks once out is full (back-pressure).
	done := make(chan []model.Target)
	go func() {
		var targets []model.Target
		for tg := range out {
			targets = append(targets, tg)
		}
		done <- targets
	}()

	err := ing.Run(context.Background(), path, out)
	close(out)
	targets := <-done
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return targets
}

func writeInput(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "targets.txt")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func TestExpandLiteralAndComments(t *testing.T) {
	path := writeInput(t, "# comment", "", "mail.example.com", "10.0.0.5")
	ing := New("", zap.NewNop().Sugar())
	targets := collect(t, ing, path)

	if len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %d: %+v", len(targets), targets)
	}
	if targets[0].Kind != model.KindHostname || targets[0].HostName != "mail.example.com" {
		t.Errorf("unexpected first target: %+v", targets[0])
	}
	if targets[1].Kind != model.KindIP || targets[1].InputValue != "10.0.0.5" {
		t.Errorf("unexpected second target: %+v", targets[1])
	}
}

func TestExpandCIDRBoundaries(t *testing.T) {
	path := writeInput(t, "192.168.1.0/30")
	ing := New("", zap.NewNop().Sugar())
	targets := collect(t, ing, path)

	want := []string{"192.168.1.0", "192.168.1.1", "192.168.1.2", "192.168.1.3"}
	if len(targets) != len(want) {
		t.Fatalf("expected %d targets, got %d", len(want), len(targets))
	}
	for i, w := range want {
		if targets[i].InputValue != w {
			t.Errorf("target %d: got %s, want %s", i, targets[i].InputValue, w)
		}
	}
}

func TestExpandRangeOrdersLowToHigh(t *testing.T) {
	path := writeInput(t, "10.0.0.5,10.0.0.2")
	ing := New("", zap.NewNop().Sugar())
	targets := collect(t, ing, path)

	want := []string{"10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"}
	if len(targets) != len(want) {
		t.Fatalf("expected %d targets, got %d", len(want), len(targets))
	}
	for i, w := range want {
		if targets[i].InputValue != w {
			t.Errorf("target %d: got %s, want %s", i, targets[i].InputValue, w)
		}
	}
}

func TestExpansionCapTruncates(t *testing.T) {
	path := writeInput(t, "10.0.0.0/8") // would be ~16M addresses
	ing := New("", zap.NewNop().Sugar())
	targets := collect(t, ing, path)

	if len(targets) != MaxExpansion {
		t.Fatalf("expected expansion capped at %d, got %d", MaxExpansion, len(targets))
	}
	if ing.Truncations() != 1 {
		t.Errorf("expected 1 truncation recorded, got %d", ing.Truncations())
	}
}

func TestResumeSkipsUntilLastIPThenDropsIt(t *testing.T) {
	path := writeInput(t, "10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4")
	ing := New("10.0.0.2", zap.NewNop().Sugar())
	targets := collect(t, ing, path)

	if len(targets) != 2 {
		t.Fatalf("expected 2 remaining targets after resume, got %d: %+v", len(targets), targets)
	}
	if targets[0].InputValue != "10.0.0.3" || targets[1].InputValue != "10.0.0.4" {
		t.Errorf("unexpected resume result: %+v", targets)
	}
}

func TestInvalidCIDRIsDropped(t *testing.T) {
	path := writeInput(t, "not-an-ip/24", "10.0.0.1")
	ing := New("", zap.NewNop().Sugar())
	targets := collect(t, ing, path)

	if len(targets) != 1 || targets[0].InputValue != "10.0.0.1" {
		t.Fatalf("expected only the valid literal to survive, got %+v", targets)
	}
}

func TestWalkDirSkipsDotfilesAndWrongExtensions(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("hosts.txt", "10.0.0.1\n")
	write("more.list", "10.0.0.2\n")
	write("noext", "10.0.0.3\n")
	write(".hidden.txt", "10.0.0.4\n")
	write("notes.md", "10.0.0.5\n")
	write("archive.tar.gz", "10.0.0.6\n")

	files, err := walkDir(dir)
	if err != nil {
		t.Fatalf("walkDir: %v", err)
	}

	want := []string{
		filepath.Join(dir, "hosts.txt"),
		filepath.Join(dir, "more.list"),
		filepath.Join(dir, "noext"),
	}
	if len(files) != len(want) {
		t.Fatalf("walkDir() = %v, want %v", files, want)
	}
	for i, w := range want {
		if files[i] != w {
			t.Errorf("files[%d] = %q, want %q", i, files[i], w)
		}
	}
}
