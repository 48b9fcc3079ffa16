package backup

import (
	"path/filepath"
	"testing"
)

func TestVerifyStandbyTimelineMatches(t *testing.T) {
	controlPath := filepath.Join(t.TempDir(), "pg_control")
	writeFakeControl(t, controlPath, 111, 1300, 202)

	// writeFakeControl puts 16<<20 at the timeline dword's offset (it
	// doubles as the fixture's walSegSz magic), so the primary timeline
	// under test has to be the same value.
	if err := VerifyStandbyTimeline(controlPath, 16<<20); err != nil {
		t.Fatalf("VerifyStandbyTimeline: %v", err)
	}
}

func TestVerifyStandbyTimelineMismatch(t *testing.T) {
	controlPath := filepath.Join(t.TempDir(), "pg_control")
	writeFakeControl(t, controlPath, 111, 1300, 202)

	if err := VerifyStandbyTimeline(controlPath, 99); err == nil {
		t.Fatal("expected a timeline mismatch error")
	}
}
