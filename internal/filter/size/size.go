// Package size implements a pass-through Filter that counts bytes written,
// used to record a manifest file's size without a second read pass.
package size

import "io"

type Writer struct {
	n    int64
	next io.Writer
}

func New(next io.Writer) *Writer { return &Writer{next: next} }

func (w *Writer) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	if w.next != nil {
		return w.next.Write(p)
	}
	return len(p), nil
}

func (w *Writer) Close() error {
	if c, ok := w.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (w *Writer) Name() string { return "size" }

// Size returns the total byte count observed so far.
func (w *Writer) Size() int64 { return w.n }
