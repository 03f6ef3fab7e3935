package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"cloudpico-beacon/internal/config"
)

func TestNew_JSONForReleaseBuilds(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.Config{AppEnv: "prod", LogLevel: slog.LevelInfo}, "1.2.0", "cloudpico-beacon")

	logger.Debug("hidden")
	logger.Info("advertising started", "count", 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1 (debug filtered): %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	for key, want := range map[string]any{
		"msg":     "advertising started",
		"app":     "cloudpico-beacon",
		"version": "1.2.0",
		"env":     "prod",
		"count":   float64(1),
	} {
		if rec[key] != want {
			t.Errorf("%s = %v, want %v", key, rec[key], want)
		}
	}
}

func TestNew_TextForDevBuilds(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.Config{AppEnv: "dev", LogLevel: slog.LevelDebug}, "dev", "cloudpico-beacon")

	logger.Debug("frame published", "count", 7)

	out := buf.String()
	if strings.HasPrefix(out, "{") {
		t.Fatalf("dev output looks like JSON: %q", out)
	}
	for _, want := range []string{"frame published", "count", "7", "app", "logger_test.go"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}
