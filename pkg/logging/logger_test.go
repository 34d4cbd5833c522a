package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo || cfg.Pretty || cfg.File != "" {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
	if cfg.Output != os.Stderr {
		t.Error("Expected default output to be stderr")
	}
}

func TestSetup_LevelFiltering(t *testing.T) {
	emit := map[string]func(zerolog.Logger){
		"debug": func(l zerolog.Logger) { l.Debug().Msg("debug message") },
		"info":  func(l zerolog.Logger) { l.Info().Msg("info message") },
		"warn":  func(l zerolog.Logger) { l.Warn().Msg("warn message") },
		"error": func(l zerolog.Logger) { l.Error().Msg("error message") },
	}

	tests := []struct {
		level LogLevel
		want  []string
		drop  []string
	}{
		{LevelDebug, []string{"debug", "info", "warn", "error"}, nil},
		{LevelInfo, []string{"info", "warn", "error"}, []string{"debug"}},
		{LevelWarn, []string{"warn", "error"}, []string{"debug", "info"}},
		{LevelError, []string{"error"}, []string{"debug", "info", "warn"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf})
			for _, f := range emit {
				f(logger)
			}

			output := buf.String()
			for _, name := range tt.want {
				if !strings.Contains(output, name+" message") {
					t.Errorf("%s message missing at level %s", name, tt.level)
				}
			}
			for _, name := range tt.drop {
				if strings.Contains(output, name+" message") {
					t.Errorf("%s message should be filtered at level %s", name, tt.level)
				}
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewLogger_ComponentField(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := NewLogger("controller")
	logger.Info().Str("version", "v2").Msg("Controller activated")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %q", buf.String())
	}
	if entry["component"] != "controller" || entry["version"] != "v2" {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("entry has no timestamp")
	}
}

func TestSetup_File(t *testing.T) {
	buf := &bytes.Buffer{}
	path := filepath.Join(t.TempDir(), "asset-cache.log")

	logger := Setup(Config{Level: LevelInfo, Output: buf, File: path})
	logger.Info().Str("version", "v1").Msg("file message")
	if err := Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !strings.Contains(buf.String(), "file message") {
		t.Errorf("console output missing message: %q", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"version":"v1"`) {
		t.Errorf("log file missing JSON fields: %q", data)
	}

	if err := Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestSetup_Pretty(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})
	logger.Info().Msg("pretty message")

	output := buf.String()
	if strings.HasPrefix(output, "{") {
		t.Errorf("Expected console format, got JSON %q", output)
	}
	if !strings.Contains(output, "pretty message") {
		t.Errorf("Expected output to contain message, got %q", output)
	}
}
