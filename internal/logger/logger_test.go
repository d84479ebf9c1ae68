package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func jsonLogger(buf *bytes.Buffer) *slog.Logger {
	opts := &slog.HandlerOptions{ReplaceAttr: sanitizeAttributes}
	return slog.New(slog.NewJSONHandler(buf, opts))
}

func TestSensitiveAttributesRedacted(t *testing.T) {
	var buf bytes.Buffer
	log := jsonLogger(&buf)

	log.Info("delivering",
		slog.String("webhook_url", "https://discord.com/api/webhooks/1/secrettoken"),
		slog.String("recipient", "bob@example.net"),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshaling log line: %v", err)
	}
	if entry["webhook_url"] != "[REDACTED]" {
		t.Errorf("webhook_url = %v, want redacted", entry["webhook_url"])
	}
	if entry["recipient"] != "bob@example.net" {
		t.Errorf("recipient = %v, should pass through", entry["recipient"])
	}
	if strings.Contains(buf.String(), "secrettoken") {
		t.Error("webhook token leaked into log output")
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := SetCorrelationID(context.Background(), "req-123")
	if got := GetCorrelationID(ctx); got != "req-123" {
		t.Errorf("GetCorrelationID = %q, want req-123", got)
	}
	if got := GetCorrelationID(context.Background()); got != "" {
		t.Errorf("GetCorrelationID on empty context = %q, want empty", got)
	}
}

func TestWithCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	log := jsonLogger(&buf)

	ctx := SetCorrelationID(context.Background(), "req-456")
	WithCorrelationID(ctx, log).Info("hello")

	if !strings.Contains(buf.String(), "req-456") {
		t.Errorf("log line missing correlation id: %s", buf.String())
	}
}

func TestNewRespectsLevel(t *testing.T) {
	log := New(Config{Level: "error", Format: "json", Output: "stderr"})
	if log.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at error level")
	}
	if !log.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at error level")
	}
}
