package logging

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		opts   Options
		wantAt zapcore.Level
	}{
		{"debug json", Options{Level: "debug", Format: FormatJSON}, zapcore.DebugLevel},
		{"info console", Options{Level: "info", Format: FormatConsole}, zapcore.InfoLevel},
		{"warn upper-case", Options{Level: "WARN"}, zapcore.WarnLevel},
		{"error", Options{Level: "error"}, zapcore.ErrorLevel},
		{"invalid level defaults to info", Options{Level: "invalid", Format: "yaml"}, zapcore.InfoLevel},
		{"stderr output", Options{Level: "info", OutputPaths: []string{"stderr"}}, zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Act
			logger, err := New(tt.opts)

			// Assert
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if logger == nil {
				t.Fatal("New() returned nil logger")
			}
			if !logger.Core().Enabled(tt.wantAt) {
				t.Errorf("level %v not enabled", tt.wantAt)
			}
			if tt.wantAt > zapcore.DebugLevel && logger.Core().Enabled(tt.wantAt-1) {
				t.Errorf("level %v enabled below %v", tt.wantAt-1, tt.wantAt)
			}
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cartsync.log")

	logger, err := New(Options{Level: "info", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("hello")
	_ = logger.Sync()
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" info ":  zapcore.InfoLevel,
		"Warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}

	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
