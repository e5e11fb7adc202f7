package errors

import (
	"errors"
	"testing"
)

func TestStartupErrorIsFatal(t *testing.T) {
	err := NewStartupError("wayland", "failed to bind global", errors.New("no such global"))
	if err.Severity() != SeverityFatal {
		t.Errorf("expected fatal severity, got %v", err.Severity())
	}
	if err.Retryable() {
		t.Error("startup errors should not be retryable")
	}
	if err.Error() == "" {
		t.Error("expected non-empty error message")
	}
}

func TestTransientErrorIsRetryable(t *testing.T) {
	err := NewTransientError("dbus", "malformed signal payload", nil)
	if err.Severity() != SeverityError {
		t.Errorf("expected error severity, got %v", err.Severity())
	}
	if !err.Retryable() {
		t.Error("transient errors should be retryable")
	}
}

func TestConfigurationErrorDowngrade(t *testing.T) {
	err := NewConfigurationError("match_rules[2].name", "unknown rule \"Hiber\"")
	if err.Severity() != SeverityFatal {
		t.Errorf("expected fatal severity at construction, got %v", err.Severity())
	}

	downgraded := err.Downgrade()
	if downgraded.Severity() != SeverityWarning {
		t.Errorf("expected warning severity after downgrade, got %v", downgraded.Severity())
	}
	if err.Severity() != SeverityFatal {
		t.Error("Downgrade should not mutate the original error")
	}
}

func TestInhibitorErrorIsWarning(t *testing.T) {
	err := NewInhibitorError("Inhibit call failed", errors.New("dbus timeout"))
	if err.Severity() != SeverityWarning {
		t.Errorf("expected warning severity, got %v", err.Severity())
	}
}

func TestGetSeverityUnwrapsStdlibErrors(t *testing.T) {
	plain := errors.New("boom")
	if GetSeverity(plain) != SeverityError {
		t.Errorf("expected default SeverityError for a plain error, got %v", GetSeverity(plain))
	}
	if GetSeverity(nil) != SeverityWarning {
		t.Errorf("expected SeverityWarning for nil error, got %v", GetSeverity(nil))
	}
}

func TestWrapPreservesIs(t *testing.T) {
	sentinel := errors.New("sentinel")
	wrapped := Wrap(sentinel, "context")
	if !Is(wrapped, sentinel) {
		t.Error("Wrap should preserve errors.Is compatibility")
	}
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil, ...) should return nil")
	}
}
