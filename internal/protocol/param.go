// Package protocol implements the remote worker wire protocol (spec §6,
// "Wire protocol to workers"): a command tag plus an ordered list of typed
// parameters, framed one-call-one-reply, carried over either an SSH-exec'd
// remote process (internal/ssh, the default transport) or a TLS listener
// (the supplemented server/server-ping commands, SPEC_FULL.md EXPANSION).
package protocol

import (
	"fmt"

	"github.com/pgrepo/pgrepo/internal/errkind"
)

// ParamKind discriminates the fixed typed-parameter set the wire protocol
// carries (spec §6): bool, i64, u64, string, nullable-string,
// list-of-string, and a sub-list for nested structures (e.g. a manifest
// file entry).
type ParamKind int

const (
	KindBool ParamKind = iota
	KindInt64
	KindUint64
	KindString
	KindNullString
	KindStringList
	KindList
)

// Param is one tagged-union wire value. Only the field matching Kind is
// meaningful; the others are zero. Params are small enough, and built
// exclusively through the constructors below, that a single flat struct
// is simpler than an interface hierarchy here and gob-encodes directly.
type Param struct {
	Kind     ParamKind
	BoolV    bool
	Int64V   int64
	Uint64V  uint64
	StringV  string
	Null     bool // true when Kind == KindNullString and the value is absent
	StrListV []string
	ListV    []Param
}

func ParamBool(b bool) Param             { return Param{Kind: KindBool, BoolV: b} }
func ParamInt64(n int64) Param           { return Param{Kind: KindInt64, Int64V: n} }
func ParamUint64(n uint64) Param         { return Param{Kind: KindUint64, Uint64V: n} }
func ParamString(s string) Param         { return Param{Kind: KindString, StringV: s} }
func ParamStringList(ss []string) Param  { return Param{Kind: KindStringList, StrListV: ss} }
func ParamList(ps []Param) Param         { return Param{Kind: KindList, ListV: ps} }

// ParamNullString builds a nullable string param from a Go nil-able
// pointer, matching the optional manifest/backup fields (prior, reference)
// that are genuinely absent rather than empty.
func ParamNullString(s *string) Param {
	if s == nil {
		return Param{Kind: KindNullString, Null: true}
	}
	return Param{Kind: KindNullString, StringV: *s}
}

// String renders p for logging and error context.
func (p Param) String() string {
	switch p.Kind {
	case KindBool:
		return fmt.Sprintf("%t", p.BoolV)
	case KindInt64:
		return fmt.Sprintf("%d", p.Int64V)
	case KindUint64:
		return fmt.Sprintf("%d", p.Uint64V)
	case KindString:
		return p.StringV
	case KindNullString:
		if p.Null {
			return "<null>"
		}
		return p.StringV
	case KindStringList:
		return fmt.Sprintf("%v", p.StrListV)
	case KindList:
		return fmt.Sprintf("%v", p.ListV)
	default:
		return "<unknown param>"
	}
}

// Request is one job dispatched to a worker: a command tag identifying
// the operation (e.g. "archive-push-file", "backup-copy-file",
// "verify-file") plus its ordered typed arguments.
type Request struct {
	Tag    string
	Params []Param
}

// Response is a worker's answer to one Request: on success Params holds
// the ordered typed results; on failure ErrKind/ErrMessage carry the
// worker's error kind and message, which the dispatcher re-raises with
// "could not <verb> <key>: [<code>] <message>" context (spec §7).
type Response struct {
	OK         bool
	Params     []Param
	ErrKind    errkind.Kind
	ErrMessage string
}

// Err reconstructs the worker's error as an *errkind.Error, or nil if the
// response was successful.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	return errkind.New(r.ErrKind, "%s", r.ErrMessage)
}
