package logging

import (
	"errors"
	"log/slog"
	"testing"
)

func TestWithOperation(t *testing.T) {
	logger := slog.Default()
	result := WithOperation(logger, "test_operation")
	if result == nil {
		t.Error("WithOperation returned nil")
	}
}

func TestOperationAttr(t *testing.T) {
	attr := Operation("test_op")
	if attr.Key != KeyOperation {
		t.Errorf("Operation key = %q, want %q", attr.Key, KeyOperation)
	}
	if attr.Value.String() != "test_op" {
		t.Errorf("Operation value = %q, want %q", attr.Value.String(), "test_op")
	}
}

func TestTaskIDAttr(t *testing.T) {
	attr := TaskID("t-123")
	if attr.Key != KeyTaskID {
		t.Errorf("TaskID key = %q, want %q", attr.Key, KeyTaskID)
	}
}

func TestErr(t *testing.T) {
	attr := Err(errors.New("boom"))
	if attr.Key != KeyError {
		t.Errorf("Err key = %q, want %q", attr.Key, KeyError)
	}
	if attr.Value.String() != "boom" {
		t.Errorf("Err value = %q, want %q", attr.Value.String(), "boom")
	}

	// A nil error yields an empty group that slog omits.
	nilAttr := Err(nil)
	if nilAttr.Key != "" {
		t.Errorf("Err(nil) key = %q, want empty", nilAttr.Key)
	}
}

func TestAnonymizeEmail(t *testing.T) {
	if AnonymizeEmail("") != "" {
		t.Error("Expected empty result for empty email")
	}

	a := AnonymizeEmail("ada@example.com")
	b := AnonymizeEmail("ada@example.com")
	if a != b {
		t.Error("Expected stable hash for the same email")
	}
	if a == "ada@example.com" {
		t.Error("Expected the email to be hashed")
	}
	if AnonymizeEmail("other@example.com") == a {
		t.Error("Expected different emails to hash differently")
	}
}
