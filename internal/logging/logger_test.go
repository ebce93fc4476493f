package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(slog.LevelInfo, "json", &buf)

	logger.Info("[BEACON] started", "mode", "config")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if rec["msg"] != "[BEACON] started" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["mode"] != "config" {
		t.Errorf("mode = %v", rec["mode"])
	}
	if rec["app"] != "eddystone-beacon" {
		t.Errorf("app = %v", rec["app"])
	}
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := New(slog.LevelInfo, "text", &buf)

	logger.Info("[ADV] swap", "slot", 2)

	out := buf.String()
	if !strings.Contains(out, "[ADV] swap") || !strings.Contains(out, "slot") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func TestNew_Level(t *testing.T) {
	tests := []struct {
		format string
	}{
		{"text"},
		{"json"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(slog.LevelWarn, tt.format, &buf)

			logger.Info("dropped")
			if buf.Len() != 0 {
				t.Errorf("info logged at warn level: %q", buf.String())
			}
			logger.Warn("kept")
			if !strings.Contains(buf.String(), "kept") {
				t.Errorf("warn not logged: %q", buf.String())
			}
		})
	}
}
