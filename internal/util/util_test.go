package util

import "testing"

func TestForwardSpecAndProbePatternAgree(t *testing.T) {
	spec := ForwardSpec(10000, "db.internal", 22)
	if spec != "10000:db.internal:22" {
		t.Fatalf("unexpected forward spec: %s", spec)
	}
	pattern := ProbePattern(10000, " db.internal ")
	if pattern != "10000:db.internal" {
		t.Fatalf("unexpected probe pattern: %s", pattern)
	}
	if spec[:len(pattern)] != pattern {
		t.Fatalf("probe pattern %q is not a prefix of %q", pattern, spec)
	}
}

func TestValidatePort(t *testing.T) {
	for _, p := range []int{1, 22, 10000, 65535} {
		if err := ValidatePort(p); err != nil {
			t.Fatalf("port %d: %v", p, err)
		}
	}
	for _, p := range []int{0, -1, 65536} {
		if err := ValidatePort(p); err == nil {
			t.Fatalf("expected error for port %d", p)
		}
	}
}

func TestEmptyDash(t *testing.T) {
	if EmptyDash("  ") != "-" || EmptyDash("bob") != "bob" {
		t.Fatal("unexpected EmptyDash result")
	}
}
