package serviceerr

import (
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewWrapsCauseWithDottedCode(t *testing.T) {
	cause := errors.New("disk full")
	err := New("payouts.request", "insert_failed", cause)

	if got := Code(err); got != "payouts.request.insert_failed" {
		t.Fatalf("unexpected code %q", got)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through errors.Is")
	}
	if err.Error() != "payouts.request.insert_failed: disk full" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestCodeSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", New("faces.search", "query_failed", nil))
	if got := Code(err); got != "faces.search.query_failed" {
		t.Fatalf("unexpected code %q", got)
	}
	if Code(errors.New("plain")) != "" {
		t.Fatalf("expected empty code for plain errors")
	}
}

func TestLogAttachesOperationAndReason(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Log(zap.New(core), "access service error", "access.login", "lookup_failed", errors.New("boom"), zap.String("code", "ABC123"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["operation"] != "access.login" || fields["reason"] != "lookup_failed" || fields["code"] != "ABC123" {
		t.Fatalf("unexpected fields %v", fields)
	}
}
