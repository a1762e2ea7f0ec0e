package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func capture(t *testing.T, fn func(l *slog.Logger)) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	l := slog.New(&RedactingHandler{base: base})
	fn(l)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestRedactingHandler_sensitiveKeys(t *testing.T) {
	entry := capture(t, func(l *slog.Logger) {
		l.Info("request",
			"authorization", "Bearer secret-value",
			"messages", "the full prompt text",
			"model", "gpt-4o",
		)
	})

	if entry["authorization"] != "[REDACTED]" {
		t.Errorf("authorization = %v, want redacted", entry["authorization"])
	}
	if entry["messages"] != "[REDACTED]" {
		t.Errorf("messages = %v, want redacted", entry["messages"])
	}
	if entry["model"] != "gpt-4o" {
		t.Errorf("model = %v, should pass through", entry["model"])
	}
}

func TestRedactingHandler_credentialShapedKeys(t *testing.T) {
	entry := capture(t, func(l *slog.Logger) {
		l.Info("config",
			"openai_api_key", "sk-123",
			"db_password", "hunter2",
			"listen_addr", ":8080",
		)
	})

	if entry["openai_api_key"] != "[REDACTED]" {
		t.Errorf("openai_api_key = %v, want redacted", entry["openai_api_key"])
	}
	if entry["db_password"] != "[REDACTED]" {
		t.Errorf("db_password = %v, want redacted", entry["db_password"])
	}
	if entry["listen_addr"] != ":8080" {
		t.Errorf("listen_addr = %v, should pass through", entry["listen_addr"])
	}
}

func TestRedactingHandler_withAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	l := slog.New(&RedactingHandler{base: base}).With("x-api-key", "abc123")
	l.Info("ping")

	if !strings.Contains(buf.String(), "[REDACTED]") || strings.Contains(buf.String(), "abc123") {
		t.Errorf("pre-bound attr leaked: %s", buf.String())
	}
}

func TestSetLevel(t *testing.T) {
	SetLevel("debug")
	var buf bytes.Buffer
	h := &RedactingHandler{base: slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: globalLevel})}
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be enabled after SetLevel(debug)")
	}

	SetLevel("error")
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled after SetLevel(error)")
	}
	SetLevel("info")
}
