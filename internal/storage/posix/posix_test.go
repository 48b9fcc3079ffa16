package posix

import (
	"context"
	"io"
	"path/filepath"
	"testing"
)

func TestCreateOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := New()
	ctx := context.Background()

	p := filepath.Join(dir, "a", "b", "file.txt")
	w, err := d.Create(ctx, p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := d.Open(ctx, p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("got %q, want hello", data)
	}
}

func TestExistsAndRemove(t *testing.T) {
	dir := t.TempDir()
	d := New()
	ctx := context.Background()
	p := filepath.Join(dir, "f")

	ok, err := d.Exists(ctx, p)
	if err != nil || ok {
		t.Fatalf("expected missing, got ok=%v err=%v", ok, err)
	}

	w, _ := d.Create(ctx, p)
	w.Close()

	ok, err = d.Exists(ctx, p)
	if err != nil || !ok {
		t.Fatalf("expected present, got ok=%v err=%v", ok, err)
	}

	if err := d.Remove(ctx, p); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := d.Remove(ctx, p); err != nil {
		t.Fatalf("Remove missing should be nil, got %v", err)
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	d := New()
	ctx := context.Background()

	for _, name := range []string{"x", "y"} {
		w, _ := d.Create(ctx, filepath.Join(dir, name))
		w.Close()
	}

	entries, err := d.List(ctx, dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}
