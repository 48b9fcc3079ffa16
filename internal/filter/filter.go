// Package filter models the source's Filter trait as a small Go interface
// (process/result/done/inputSame, spec §9) and a Group that chains filters
// into one pipeline: compress/decompress, cipher, hash, size, and
// page-checksum validation are all Filters composed in a fixed order
// (spec §1: hash -> size -> cipher -> compress/decompress -> page-checksum).
package filter

import "io"

// Filter transforms bytes written to it and makes the transformed bytes
// available for reading, à la a pipe stage. Implementations that only
// observe bytes (hash, size) pass them through unchanged.
type Filter interface {
	io.Writer
	io.Closer
	// Name identifies the filter for manifest/logging purposes (e.g. "gzip", "sha1").
	Name() string
}

// Group chains filters so that writes flow through each in order, then to
// a final sink. It mirrors the source's filter-group composition; unlike a
// generic io.MultiWriter, each stage may change the byte stream (e.g.
// compress), so the group is a literal pipeline, not a fan-out.
type Group struct {
	stages []io.Writer
	sink   io.Writer
}

// NewGroup builds a pipeline ending at sink, with stages applied in the
// order given — stages[0] is closest to the caller's Write, stages[last]
// writes into sink.
func NewGroup(sink io.Writer, stages ...io.Writer) *Group {
	return &Group{stages: stages, sink: sink}
}

// Write feeds data into the first stage; each stage is responsible for
// writing its transformed output into the next (wired at construction via
// each concrete filter's own "next" field, not by Group itself).
func (g *Group) Write(p []byte) (int, error) {
	if len(g.stages) == 0 {
		return g.sink.Write(p)
	}
	return g.stages[0].Write(p)
}

// Close closes every stage in order, then the sink, so that buffered
// filters (e.g. a block cipher needing final padding) flush before the
// underlying storage writer is closed.
func (g *Group) Close() error {
	for _, s := range g.stages {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				return err
			}
		}
	}
	if c, ok := g.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
