package obslog

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesLevelAndMessage(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.now = func() time.Time { return time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC) }

	l.Info("store opened at %s", "/tmp/store")
	l.Warn("shard depth mismatch")
	l.Error("write failed: %v", "disk full")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "[INFO]") || !strings.Contains(lines[0], "store opened at /tmp/store") {
		t.Fatalf("unexpected INFO line: %q", lines[0])
	}
	if !strings.Contains(lines[1], "[WARN]") || !strings.Contains(lines[1], "shard depth mismatch") {
		t.Fatalf("unexpected WARN line: %q", lines[1])
	}
	if !strings.Contains(lines[2], "[ERROR]") || !strings.Contains(lines[2], "write failed: disk full") {
		t.Fatalf("unexpected ERROR line: %q", lines[2])
	}
	if !strings.HasPrefix(lines[0], "2026-07-30T12:00:00Z") {
		t.Fatalf("expected RFC3339 timestamp prefix, got %q", lines[0])
	}
}

func TestDefaultLoggerWritesToStderrByDefault(t *testing.T) {
	if Default == nil {
		t.Fatal("expected a package-level default logger")
	}
	if Default.out != os.Stderr {
		t.Fatal("expected the default logger to write to os.Stderr")
	}
}
