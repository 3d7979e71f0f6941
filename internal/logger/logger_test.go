package logger

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"WARN", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"invalid", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tc := range testCases {
		result := ParseLevel(tc.input)
		if result != tc.expected {
			t.Errorf("ParseLevel(%q) = %v, expected %v", tc.input, result, tc.expected)
		}
	}
}

func TestFromZapCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core)).WithRequest("req-123").WithFields(String("component", "audit"))

	log.Warn("audit write failed",
		Error(errors.New("sink down")),
		Int64("execution_ms", 12),
		Bool("dropped", true),
		Float64("tokens", 0.5),
		Strings("authorities", []string{"ROLE_USER"}),
		Duration("elapsed", time.Second),
	)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["request_id"] != "req-123" {
		t.Errorf("request_id = %v", ctx["request_id"])
	}
	if ctx["component"] != "audit" {
		t.Errorf("component = %v", ctx["component"])
	}
	if ctx["error"] != "sink down" {
		t.Errorf("error = %v", ctx["error"])
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Errorf("level = %v", entries[0].Level)
	}
}

func TestLevelFiltering(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := FromZap(zap.New(core))

	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message")
	log.Error("error message")

	if logs.Len() != 2 {
		t.Fatalf("expected 2 entries at warn and above, got %d", logs.Len())
	}
}

func TestNewFromConfigFormats(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		log := NewFromConfig("debug", format)
		if log == nil {
			t.Fatalf("NewFromConfig(%q) returned nil", format)
		}
		log.Debug("debug message", String("format", format))
	}
}

func TestFromZapNil(t *testing.T) {
	log := FromZap(nil)
	log.Error("discarded")
}

func TestGlobalLogger(t *testing.T) {
	original := GetDefault()
	defer SetDefault(original)

	core, logs := observer.New(zapcore.InfoLevel)
	SetDefault(FromZap(zap.New(core)))

	Info("global message")
	Warn("global warning")
	ErrorLog("global error")
	Debug("filtered")

	if logs.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", logs.Len())
	}
}
