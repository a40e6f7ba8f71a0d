package main

import "testing"

func TestRunRejectsUnknownFlag(t *testing.T) {
	if code := run([]string{"-not-a-flag"}); code != -1 {
		t.Fatalf("expected exit code -1 for a bad flag, got %d", code)
	}
}

