package lock

import "testing"

func TestFileLock(t *testing.T) {
	dir := t.TempDir()

	l1 := New(dir, "test1", Backup)
	ok, err := l1.TryLock()
	if err != nil || !ok {
		t.Fatalf("first lock failed: ok=%v err=%v", ok, err)
	}
	defer func() { _ = l1.Unlock() }()

	l2 := New(dir, "test1", Backup)
	ok, err = l2.TryLock()
	if err != nil {
		t.Fatalf("second lock error: %v", err)
	}
	if ok {
		t.Fatalf("lock should be held by first process")
	}
}

func TestFileLockIndependentTypes(t *testing.T) {
	dir := t.TempDir()

	archiveLock := New(dir, "test1", Archive)
	ok, err := archiveLock.TryLock()
	if err != nil || !ok {
		t.Fatalf("archive lock failed: ok=%v err=%v", ok, err)
	}
	defer func() { _ = archiveLock.Unlock() }()

	backupLock := New(dir, "test1", Backup)
	ok, err = backupLock.TryLock()
	if err != nil || !ok {
		t.Fatalf("backup lock should succeed independently of archive lock: ok=%v err=%v", ok, err)
	}
	defer func() { _ = backupLock.Unlock() }()
}

func TestStopFile(t *testing.T) {
	dir := t.TempDir()

	if err := CheckStop(dir, "test1"); err != nil {
		t.Fatalf("unexpected stop before Stop() called: %v", err)
	}

	if err := Stop(dir, "test1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := CheckStop(dir, "test1"); err == nil {
		t.Fatal("expected CheckStop to report stop file")
	}
	if err := CheckStop(dir, "other"); err != nil {
		t.Fatalf("other stanza should be unaffected: %v", err)
	}

	if err := Resume(dir, "test1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := CheckStop(dir, "test1"); err != nil {
		t.Fatalf("expected stop cleared after Resume: %v", err)
	}
}

func TestStopAll(t *testing.T) {
	dir := t.TempDir()

	if err := Stop(dir, "all"); err != nil {
		t.Fatalf("Stop(all): %v", err)
	}
	if err := CheckStop(dir, "whatever-stanza"); err == nil {
		t.Fatal("expected all-stop to cover every stanza")
	}
}
