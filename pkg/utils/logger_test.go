package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitLogger_Levels(t *testing.T) {
	tests := []struct {
		level   string
		enabled zapcore.Level
		blocked zapcore.Level
	}{
		{"debug", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"", zapcore.InfoLevel, zapcore.DebugLevel},
		{"WARNING", zapcore.WarnLevel, zapcore.InfoLevel},
		{"error", zapcore.ErrorLevel, zapcore.WarnLevel},
		{"nonsense", zapcore.InfoLevel, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := InitLogger(LogConfig{Level: tt.level})
			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("level %s must be enabled", tt.enabled)
			}
			if logger.Core().Enabled(tt.blocked) {
				t.Errorf("level %s must be filtered", tt.blocked)
			}
		})
	}
}

func TestInitLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perpguard.log")

	logger := InitLogger(LogConfig{Level: "info", Format: "json", Output: path})
	logger.Info("breaker opened", Breaker("venue_api"))
	logger.Sync()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("log entry is not valid JSON: %v: %s", err, content)
	}
	if entry["message"] != "breaker opened" || entry["breaker"] != "venue_api" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("entry must carry ts")
	}
}

func TestInitLogger_TextFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perpguard.log")

	logger := InitLogger(LogConfig{Format: "text", Output: path})
	logger.Warn("slow ping")
	logger.Sync()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "WARN") || strings.HasPrefix(string(content), "{") {
		t.Errorf("expected console encoding, got %q", content)
	}
}

func TestInitLogger_InvalidFileOutput(t *testing.T) {
	// недоступный путь - fallback на stderr без паники
	logger := InitLogger(LogConfig{Output: "/nonexistent/directory/log.txt"})
	if logger == nil {
		t.Fatal("InitLogger returned nil for invalid output")
	}
	logger.Info("still works")
}

func TestFieldConstructors(t *testing.T) {
	var buf bytes.Buffer

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			MessageKey: "message",
			LevelKey:   "level",
		}),
		zapcore.AddSync(&buf),
		zapcore.InfoLevel,
	)
	logger := zap.New(core)

	logger.Info("test",
		Component("overfill"),
		Symbol("BTCUSDT"),
		OrderID("order-456"),
		FillID("fill-1"),
		Breaker("venue_api"),
		Side("BUY"),
		State("HALF_OPEN"),
		Price(25000.50),
		Quantity(0.5),
		Latency(15.5),
		RequestID("req-789"),
		ReportID("rep-1"),
	)
	logger.Sync()

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	expected := map[string]interface{}{
		"component":  "overfill",
		"symbol":     "BTCUSDT",
		"order_id":   "order-456",
		"fill_id":    "fill-1",
		"breaker":    "venue_api",
		"side":       "BUY",
		"state":      "HALF_OPEN",
		"price":      25000.5,
		"quantity":   0.5,
		"latency_ms": 15.5,
		"request_id": "req-789",
		"report_id":  "rep-1",
	}
	for key, want := range expected {
		if got := entry[key]; got != want {
			t.Errorf("field %s = %v, want %v", key, got, want)
		}
	}
}

func BenchmarkLogger_Info(b *testing.B) {
	logger := InitLogger(LogConfig{Level: "info", Output: filepath.Join(b.TempDir(), "bench.log")})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("fill recorded", OrderID("o-1"), Quantity(0.5), Price(100))
	}
}
