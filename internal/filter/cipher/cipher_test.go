package cipher

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte("the quick brown fox jumps over the lazy dog, repeated for length")

	var out bytes.Buffer
	w, err := NewEncryptWriter("correct horse battery staple", &out)
	if err != nil {
		t.Fatalf("NewEncryptWriter: %v", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := Decrypt("correct horse battery staple", bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestDecryptWrongPassphraseUsuallyFailsPadding(t *testing.T) {
	var out bytes.Buffer
	w, _ := NewEncryptWriter("right-pass", &out)
	w.Write([]byte("secret data"))
	w.Close()

	// A wrong passphrase yields different padding bytes most of the time,
	// which this filter treats as a padding error.
	_, err := Decrypt("wrong-pass", bytes.NewReader(out.Bytes()))
	if err == nil {
		t.Log("wrong passphrase happened to produce valid padding; not deterministic, skipping assertion")
	}
}

func TestDecryptRejectsShortInput(t *testing.T) {
	_, err := Decrypt("pass", bytes.NewReader([]byte("short")))
	if err == nil {
		t.Fatal("expected error for too-short ciphertext")
	}
}
