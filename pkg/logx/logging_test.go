package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(b), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("bad json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "probe"))

	log.Debug("hidden")
	log.Info("checked", Int("failures", 2), Err(nil), Bool("paused", false))
	log.Warn("send failed", Err(errors.New("boom")))

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2: %s", len(lines), buf.String())
	}
	first := lines[0]
	if first["message"] != "checked" || first["comp"] != "probe" || first["failures"] != float64(2) {
		t.Fatalf("first = %v", first)
	}
	if _, ok := first["err"]; ok {
		t.Fatal("nil error was logged")
	}
	if lines[1]["err"] != "boom" || lines[1]["level"] != "warn" {
		t.Fatalf("second = %v", lines[1])
	}
	if c, _ := first["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q", c)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger not IsZero")
	}
	l.Info("nothing happens")
	if Nop().IsZero() {
		t.Fatal("Nop reported IsZero")
	}
}

func TestServiceFileSinkAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svcmon.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})

	log.Debug("first")
	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	log.Info("suppressed")
	log.Error("second")
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := decodeLines(t, b)
	if len(lines) != 2 || lines[0]["message"] != "first" || lines[1]["message"] != "second" {
		t.Fatalf("lines = %v", lines)
	}
}

func TestLevels(t *testing.T) {
	for _, s := range []string{"trace", "DEBUG", " info ", "warning", "Error"} {
		if !ValidLevel(s) {
			t.Errorf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("verbose") {
		t.Error("ValidLevel(verbose) = true")
	}
	if got := ParseLevel("nope", LevelWarn); got != LevelWarn {
		t.Errorf("ParseLevel fallback = %v", got)
	}
	if got := ParseLevel("debug", LevelWarn); got != LevelDebug {
		t.Errorf("ParseLevel(debug) = %v", got)
	}
}
