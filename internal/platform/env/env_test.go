package env

import (
	"testing"
	"time"
)

func TestDurationDefaultAndParse(t *testing.T) {
	if d, err := Duration("PRAXIS_TEST_UNSET", 3*time.Second); err != nil || d != 3*time.Second {
		t.Fatalf("expected default 3s, got %v err=%v", d, err)
	}
	t.Setenv("PRAXIS_TEST_DURATION", "250ms")
	if d, err := Duration("PRAXIS_TEST_DURATION", time.Second); err != nil || d != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v err=%v", d, err)
	}
	t.Setenv("PRAXIS_TEST_DURATION", "nope")
	if _, err := Duration("PRAXIS_TEST_DURATION", time.Second); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestStringEmptyValueCountsAsSet(t *testing.T) {
	if got := String("PRAXIS_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("PRAXIS_TEST_STRING", "")
	if got := String("PRAXIS_TEST_STRING", "fallback"); got != "" {
		t.Fatalf("expected empty value to win over default, got %q", got)
	}
}

func TestIntParse(t *testing.T) {
	t.Setenv("PRAXIS_TEST_INT", "42")
	if i, err := Int("PRAXIS_TEST_INT", 1); err != nil || i != 42 {
		t.Fatalf("expected 42, got %d err=%v", i, err)
	}
	t.Setenv("PRAXIS_TEST_INT", "x")
	if _, err := Int("PRAXIS_TEST_INT", 1); err == nil {
		t.Fatalf("expected parse error")
	}
}
