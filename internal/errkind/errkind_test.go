package errkind

import (
	"errors"
	"testing"
)

func TestExitCode(t *testing.T) {
	if got := AssertError.ExitCode(); got != 25 {
		t.Errorf("AssertError.ExitCode()=%d, want 25", got)
	}
	if got := Kind(999).ExitCode(); got != 1 {
		t.Errorf("unknown kind ExitCode()=%d, want 1", got)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(FileWriteError, cause, "write %s failed", "backup.manifest")

	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is did not find wrapped cause")
	}
	var target *Error
	if !errors.As(err, &target) {
		t.Fatalf("errors.As did not recover *Error")
	}
	if target.Kind != FileWriteError {
		t.Errorf("Kind=%v, want FileWriteError", target.Kind)
	}
}

func TestAsDefaultsUnknownErrors(t *testing.T) {
	plain := errors.New("boom")
	e := As(plain)
	if e.Kind != RuntimeError {
		t.Errorf("As(plain).Kind=%v, want RuntimeError", e.Kind)
	}
}

func TestWithHint(t *testing.T) {
	e := New(ArchiveMismatchError, "wal mismatch").WithHint("is archive_command configured?")
	if e.Hint == "" {
		t.Fatal("expected hint to be set")
	}
}
