// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("expected default format 'json', got %q", cfg.Format)
	}
	if !cfg.Timestamp {
		t.Error("expected timestamps on by default")
	}
}

func TestInitWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(Config{Level: "debug", Output: io.Discard}) })

	Info().Str("customer_id", "c-1").Msg("prediction served")

	out := buf.String()
	if !strings.Contains(out, `"message":"prediction served"`) {
		t.Errorf("missing message in %s", out)
	}
	if !strings.Contains(out, `"customer_id":"c-1"`) {
		t.Errorf("missing field in %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()

	if !ValidLevel("warn") {
		t.Error("warn should be valid")
	}
	if ValidLevel("loud") {
		t.Error("loud should be invalid")
	}
}

func TestCtxAddsIDs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := ContextWithLogger(context.Background(), NewTestLogger(&buf))
	ctx = ContextWithRequestID(ctx, "req-42")
	ctx = ContextWithRunID(ctx, "run-7")

	Ctx(ctx).Error().Msg("x")

	out := buf.String()
	if !strings.Contains(out, `"request_id":"req-42"`) || !strings.Contains(out, `"run_id":"run-7"`) {
		t.Errorf("expected both ids, got %s", out)
	}
}

func TestIDsFromEmptyContext(t *testing.T) {
	t.Parallel()

	if RequestIDFromContext(context.Background()) != "" {
		t.Error("expected empty request id")
	}
	if RunIDFromContext(context.Background()) != "" {
		t.Error("expected empty run id")
	}
	if len(GenerateRunID()) != 8 {
		t.Error("run id should be 8 characters")
	}
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})
	t.Cleanup(func() { Init(Config{Level: "debug", Output: io.Discard}) })

	sl := slog.New(NewSlogHandler(NewTestLogger(&buf))).With("service", "http").WithGroup("evt")
	sl.Warn("service restarted", "attempt", 3)

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected warn level, got %s", out)
	}
	if !strings.Contains(out, `"service":"http"`) || strings.Contains(out, `"evt.service"`) {
		t.Errorf("attr added before the group must stay ungrouped, got %s", out)
	}
	if !strings.Contains(out, `"evt.attempt":3`) {
		t.Errorf("expected grouped record attr, got %s", out)
	}
}
