package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/me/daskcondor/pkg/model"
)

func TestNewLoggerWithWriter_Formats(t *testing.T) {
	tests := []struct {
		format string
		want   []string
	}{
		{"text", []string{"msg=\"workers started\"", "cluster_id=42"}},
		{"JSON", []string{`"msg":"workers started"`, `"cluster_id":42`}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			NewLoggerWithWriter(slog.LevelInfo, tt.format, &buf).Info("workers started", "cluster_id", 42)
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("output %q missing %q", buf.String(), w)
				}
			}
		})
	}
}

func TestNewLoggerWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(slog.LevelWarn, "text", &buf)

	logger.Info("tick")
	logger.Warn("query failed")

	if strings.Contains(buf.String(), "tick") {
		t.Errorf("info record written at warn level: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "query failed") {
		t.Errorf("warn record missing: %s", buf.String())
	}
}

func TestNewLoggerWithWriter_DebugAddsSource(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithWriter(slog.LevelDebug, "text", &buf).With("component", "reconcile").Debug("tick")

	out := buf.String()
	if !strings.Contains(out, "source=") {
		t.Errorf("debug output has no source: %s", out)
	}
	if !strings.Contains(out, "component=reconcile") {
		t.Errorf("component attribute missing: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		err   bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"Error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if (err != nil) != tt.err {
			t.Errorf("ParseLevel(%q) error = %v", tt.input, err)
		}
		if err != nil && !errors.Is(err, model.ErrInvalidParameter) {
			t.Errorf("ParseLevel(%q) error = %v, want ErrInvalidParameter", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestCheckFormat(t *testing.T) {
	for _, f := range []string{"", "text", "json", "JSON"} {
		if err := CheckFormat(f); err != nil {
			t.Errorf("CheckFormat(%q) = %v", f, err)
		}
	}
	if err := CheckFormat("xml"); !errors.Is(err, model.ErrInvalidParameter) {
		t.Errorf("CheckFormat(xml) = %v, want ErrInvalidParameter", err)
	}
}
