package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON log output, got error: %v\nraw output: %s", err, buf.String())
	}
	return entry
}

func TestSetup_ReturnsJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, Config{Level: "info"})

	l.Info("test message", zap.String("key", "value"))

	entry := decodeEntry(t, &buf)
	if entry["msg"] != "test message" {
		t.Errorf("msg = %q, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %q, want %q", entry["key"], "value")
	}
}

func TestSetup_IncludesTimeLevelAndCaller(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, Config{Level: "info"})

	l.Warn("warning test")

	entry := decodeEntry(t, &buf)
	if entry["level"] != "warn" {
		t.Errorf("level = %q, want %q", entry["level"], "warn")
	}
	ts, ok := entry["ts"].(string)
	if !ok || !strings.Contains(ts, "T") {
		t.Errorf("ts = %v, want an ISO8601 timestamp", entry["ts"])
	}
	if _, ok := entry["caller"]; !ok {
		t.Error("expected 'caller' field in JSON log output")
	}
}

func TestSetup_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, Config{Level: "warn"})

	l.Info("dropped")
	l.Debug("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected no output below warn, got %s", buf.String())
	}

	l.Error("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Error("error entry should be written")
	}
}

func TestSetup_DevUsesConsoleEncoder(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, Config{Level: "debug", Dev: true})

	l.Debug("dev message")

	out := buf.String()
	if !strings.Contains(out, "dev message") {
		t.Fatalf("debug entry missing: %q", out)
	}
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("dev output should not be JSON: %q", out)
	}
}

func TestSetupDefault_ReplacesGlobal(t *testing.T) {
	var buf bytes.Buffer
	l := SetupDefault(&buf, Config{Level: "info"})
	defer zap.ReplaceGlobals(zap.NewNop())

	if zap.L() != l {
		t.Error("zap.L() should return the configured logger")
	}
	zap.L().Info("via global")
	if !strings.Contains(buf.String(), "via global") {
		t.Error("global logger should write to the configured writer")
	}
}

func TestLevelFromString(t *testing.T) {
	tests := map[string]string{
		"debug":   "debug",
		"INFO":    "info",
		"warning": "warn",
		"error":   "error",
		"bogus":   "info",
		"":        "info",
	}
	for in, want := range tests {
		if got := levelFromString(in).String(); got != want {
			t.Errorf("levelFromString(%q) = %q, want %q", in, got, want)
		}
	}
}
