package info

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/pgrepo/pgrepo/internal/errkind"
	"github.com/pgrepo/pgrepo/internal/storage"
)

func copyPath(primary string) string {
	if strings.HasSuffix(primary, ".copy") {
		return primary
	}
	return primary + ".copy"
}

func loadDualCopyVia(d storage.Driver, primaryPath string) (*Doc, bool, error) {
	raw, err := readBytes(d, primaryPath)
	if err == nil {
		if doc, decErr := Decode(raw); decErr == nil {
			return doc, false, nil
		}
	}

	raw, copyErr := readBytes(d, copyPath(primaryPath))
	if copyErr != nil {
		return nil, false, errkind.Wrap(errkind.FileMissingError, copyErr,
			"neither %s nor its .copy could be read", primaryPath)
	}
	doc, decErr := Decode(raw)
	if decErr != nil {
		return nil, true, errkind.Wrap(errkind.ChecksumError, decErr,
			"primary %s unreadable and .copy failed validation", primaryPath)
	}
	return doc, true, nil
}

func readBytes(d storage.Driver, path string) ([]byte, error) {
	if d == nil {
		return os.ReadFile(path)
	}
	ctx := context.Background()
	f, err := d.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// SaveDualCopy encodes doc and writes primary then .copy, per spec §4.2
// save discipline ("every successful mutation writes the primary and
// then the .copy file").
func SaveDualCopy(primaryPath string, doc *Doc) error {
	return saveDualCopyVia(nil, primaryPath, doc)
}

// SaveDualCopyTo is SaveDualCopy through a storage.Driver.
func SaveDualCopyTo(d storage.Driver, primaryPath string, doc *Doc) error {
	return saveDualCopyVia(d, primaryPath, doc)
}

func saveDualCopyVia(d storage.Driver, primaryPath string, doc *Doc) error {
	raw := doc.Encode()
	if err := writeBytes(d, primaryPath, raw); err != nil {
		return errkind.Wrap(errkind.FileWriteError, err, "write %s", primaryPath)
	}
	if err := writeBytes(d, copyPath(primaryPath), raw); err != nil {
		return errkind.Wrap(errkind.FileWriteError, err, "write %s", copyPath(primaryPath))
	}
	return nil
}

func writeBytes(d storage.Driver, path string, raw []byte) error {
	if d == nil {
		return os.WriteFile(path, raw, 0o640)
	}
	ctx := context.Background()
	w, err := d.Create(ctx, path)
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
