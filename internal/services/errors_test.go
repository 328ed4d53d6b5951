package services_test

import (
	"errors"
	"strings"
	"testing"

	"easel/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "generate", "queue prompt", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"generate", "queue prompt", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if err.Error() != "transient failure: service failure" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestRetryable(t *testing.T) {
	if services.Retryable(services.Wrap(services.ErrValidation, "prepare", "validate", "invalid", nil)) {
		t.Fatal("validation errors should not be retryable")
	}
	if !services.Retryable(services.Wrap(services.ErrTransient, "generate", "watch", "socket closed", errors.New("io"))) {
		t.Fatal("transient errors should be retryable")
	}
	if !services.Retryable(errors.New("untagged")) {
		t.Fatal("untagged errors default to retryable")
	}
}
