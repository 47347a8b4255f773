package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, expected %v", tt.in, got, tt.want)
		}
	}
}

func TestValidLevel(t *testing.T) {
	for _, level := range []string{"trace", "debug", "info", "warn", "warning", "error", "Info"} {
		if !ValidLevel(level) {
			t.Errorf("Expected %q to be valid", level)
		}
	}
	for _, level := range []string{"", "verbose", "fatal"} {
		if ValidLevel(level) {
			t.Errorf("Expected %q to be invalid", level)
		}
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	InitWriter("debug", false, &buf)
	t.Cleanup(func() { Init("info", false) })

	WithComponent("camera").Info().Str("source", "/dev/ttyACM0").Msg("Connected")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected one JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["component"] != "camera" {
		t.Errorf("Expected component=camera, got %v", entry["component"])
	}
	if entry["message"] != "Connected" || entry["level"] != "info" {
		t.Errorf("Unexpected entry %v", entry)
	}
}

func TestInitWriter_Level(t *testing.T) {
	var buf bytes.Buffer
	InitWriter("warn", false, &buf)
	t.Cleanup(func() { Init("info", false) })

	Get().Info().Msg("hidden")
	Get().Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Info message logged at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("Warn message missing")
	}
}

func TestInitWriter_Pretty(t *testing.T) {
	var buf bytes.Buffer
	InitWriter("info", true, &buf)
	t.Cleanup(func() { Init("info", false) })

	WithComponent("api").Info().Msg("Starting")

	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("Expected console output, got JSON: %q", out)
	}
	if !strings.Contains(out, "Starting") {
		t.Errorf("Message missing from %q", out)
	}
}
