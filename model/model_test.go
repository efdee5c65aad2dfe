package model

import "testing"

func TestTruncateShortString(t *testing.T) {
	got := Truncate("hello", 10)
	if got != "hello" {
		t.Fatalf("expected 'hello', got %q", got)
	}
}

func TestTruncateLongString(t *testing.T) {
	got := Truncate("hello world", 8)
	if got != "hello..." {
		t.Fatalf("expected 'hello...', got %q", got)
	}
}

func TestTruncateVerySmallMaxLen(t *testing.T) {
	got := Truncate("hello", 2)
	if got != "he" {
		t.Fatalf("expected 'he', got %q", got)
	}
}

func TestTruncateUnicode(t *testing.T) {
	got := Truncate("こんにちは世界", 6)
	if got != "こんに..." {
		t.Fatalf("expected 'こんに...', got %q", got)
	}
}

func TestOutcomeStatusConstants(t *testing.T) {
	if string(OutcomeSuccess) != "success" {
		t.Fatalf("expected 'success', got %q", OutcomeSuccess)
	}
	if string(OutcomeError) != "error" {
		t.Fatalf("expected 'error', got %q", OutcomeError)
	}
}

func TestRoleConstants(t *testing.T) {
	if string(RoleUser) != "user" {
		t.Fatalf("expected 'user', got %q", RoleUser)
	}
	if string(RoleAssistant) != "assistant" {
		t.Fatalf("expected 'assistant', got %q", RoleAssistant)
	}
}
