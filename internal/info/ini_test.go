package info

import (
	"path/filepath"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	d := NewDoc()
	d.Set("db", "id", 1)
	d.Set("db", "version", "16")
	raw := d.Encode()

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var id int
	if ok, err := got.Get("db", "id", &id); err != nil || !ok {
		t.Fatalf("Get db.id: ok=%v err=%v", ok, err)
	}
	if id != 1 {
		t.Errorf("id=%d, want 1", id)
	}
}

func TestDecodeRejectsCorruptChecksum(t *testing.T) {
	d := NewDoc()
	d.Set("db", "id", 1)
	raw := d.Encode()
	raw = append(raw[:len(raw)-5], []byte(`bad"`+"\n")...)

	if _, err := Decode(raw); err == nil {
		t.Fatal("expected checksum error")
	}
}

func TestSaveDualCopyAndLoadFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.info")

	d := NewDoc()
	d.Set("cipher", "cipher-type", "aes-256-cbc")
	if err := SaveDualCopy(path, d); err != nil {
		t.Fatalf("SaveDualCopy: %v", err)
	}

	loaded, usedCopy, err := LoadDualCopy(path)
	if err != nil {
		t.Fatalf("LoadDualCopy: %v", err)
	}
	if usedCopy {
		t.Error("expected primary to satisfy load")
	}
	var typ string
	loaded.Get("cipher", "cipher-type", &typ)
	if typ != "aes-256-cbc" {
		t.Errorf("cipher-type=%q, want aes-256-cbc", typ)
	}
}

func TestLoadFallsBackToCopyWhenPrimaryCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.info")

	d := NewDoc()
	d.Set("db", "id", 7)
	if err := SaveDualCopy(path, d); err != nil {
		t.Fatalf("SaveDualCopy: %v", err)
	}
	corruptFile(t, path)

	loaded, usedCopy, err := LoadDualCopy(path)
	if err != nil {
		t.Fatalf("LoadDualCopy should fall back to .copy: %v", err)
	}
	if !usedCopy {
		t.Error("expected usedCopy=true")
	}
	var id int
	loaded.Get("db", "id", &id)
	if id != 7 {
		t.Errorf("id=%d, want 7", id)
	}
}

func corruptFile(t *testing.T, path string) {
	t.Helper()
	if err := writeBytes(nil, path, []byte("garbage\n")); err != nil {
		t.Fatalf("corrupt primary: %v", err)
	}
}
