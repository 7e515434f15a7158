package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextFieldsAreAttached(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := FromZap(zap.New(core))

	ctx := WithRunID(WithRequestID(context.Background(), "req-1"), "run-9")
	l.Infof(ctx, "simulated %d items", 3)
	l.Debugf(ctx, "dropped below level")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Message != "simulated 3 items" {
		t.Fatalf("message = %q", entries[0].Message)
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" || fields["run_id"] != "run-9" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestNewFallsBackToInfo(t *testing.T) {
	l, err := New("verbose")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ce := l.logger.Check(zap.DebugLevel, "x"); ce != nil {
		t.Fatalf("debug should be disabled for unknown levels")
	}
	if ce := l.logger.Check(zap.InfoLevel, "x"); ce == nil {
		t.Fatalf("info should be enabled")
	}
}
