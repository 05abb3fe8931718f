package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "vaultd", "dev", slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("ready", slog.String("vault", "0xf1"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"message":  "ready",
		"severity": "INFO",
		"service":  "vaultd",
		"env":      "dev",
		"vault":    "0xf1",
	} {
		if line[key] != want {
			t.Fatalf("%s: got %v want %s", key, line[key], want)
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp missing: %v", line)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"Error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("%q: got %v want %v", raw, got, want)
		}
	}
}

func TestMaskSecret(t *testing.T) {
	a := MaskSecret("token", "alice-token")
	b := MaskSecret("token", "alice-token")
	c := MaskSecret("token", "bob-token")
	if a.Value.String() != b.Value.String() || a.Value.String() == c.Value.String() {
		t.Fatalf("fingerprints not stable: %v %v %v", a, b, c)
	}
	if !strings.HasPrefix(a.Value.String(), RedactedValue+":") || strings.Contains(a.Value.String(), "alice") {
		t.Fatalf("secret leaked: %v", a)
	}
	if MaskSecret("token", "").Value.String() != "" {
		t.Fatalf("empty secret changed")
	}
	if len(Fingerprint("x")) != 8 {
		t.Fatalf("unexpected fingerprint length %q", Fingerprint("x"))
	}
}

func TestRotatingFile(t *testing.T) {
	if RotatingFile(FileConfig{Path: "  "}) != nil {
		t.Fatalf("blank path should disable the file")
	}
	path := filepath.Join(t.TempDir(), "vaultd.log")
	file := RotatingFile(FileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 2})
	logger := New(file, "vaultd", "", slog.LevelInfo)
	logger.Info("rotated")
	if err := file.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"message":"rotated"`) {
		t.Fatalf("unexpected log file %q", data)
	}
}
