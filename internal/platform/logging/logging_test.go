package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Format: FormatJSON, Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info().Msg("hidden")
	logger.Warn().Str("condition", "scope_zz").Msg("unknown condition")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["level"] != "warn" || entry["condition"] != "scope_zz" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestNewConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger = Service(logger, "game")
	logger.Info().Msg("turn started")

	out := buf.String()
	if !strings.Contains(out, "turn started") || !strings.Contains(out, "service=game") {
		t.Fatalf("unexpected console output %q", out)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []Config{
		{Level: "loud"},
		{Format: "xml"},
	}
	for _, cfg := range tests {
		if _, err := New(cfg); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}
