// Package errkind is a closed, typed replacement for a string-keyed error
// hierarchy: every error the engine raises carries one Kind from a fixed
// enum, a message, an optional wrapped cause, and maps to exactly one
// process exit code consulted once at the command boundary.
package errkind

import "fmt"

// Kind is a closed error-kind enum (spec §7).
type Kind int

const (
	AssertError Kind = iota
	FormatError
	FileMissingError
	FileOpenError
	FileReadError
	FileWriteError
	FileOwnerError
	PathMissingError
	PathOpenError
	PathNotEmptyError
	CryptoError
	ChecksumError
	ConfigError
	OptionInvalidError
	OptionInvalidValueError
	ParamRequiredError
	ParamInvalidError
	LockAcquireError
	ArchiveMismatchError
	ArchiveTimeoutError
	ArchiveDisabledError
	BackupSetInvalidError
	BackupMismatchError
	DbMismatchError
	DbQueryError
	DbConnectError
	PgRunningError
	PostmasterRunningError
	HostInvalidError
	RepoInvalidError
	TablespaceMapError
	LinkMapError
	FeatureNotSupportedError
	ProtocolError
	RuntimeError
	StopError
	TermError
	TimeoutError
	DiskSpaceError
)

var names = map[Kind]string{
	AssertError:              "AssertError",
	FormatError:              "FormatError",
	FileMissingError:         "FileMissingError",
	FileOpenError:            "FileOpenError",
	FileReadError:            "FileReadError",
	FileWriteError:           "FileWriteError",
	FileOwnerError:           "FileOwnerError",
	PathMissingError:         "PathMissingError",
	PathOpenError:            "PathOpenError",
	PathNotEmptyError:        "PathNotEmptyError",
	CryptoError:              "CryptoError",
	ChecksumError:            "ChecksumError",
	ConfigError:              "ConfigError",
	OptionInvalidError:       "OptionInvalidError",
	OptionInvalidValueError:  "OptionInvalidValueError",
	ParamRequiredError:       "ParamRequiredError",
	ParamInvalidError:        "ParamInvalidError",
	LockAcquireError:         "LockAcquireError",
	ArchiveMismatchError:     "ArchiveMismatchError",
	ArchiveTimeoutError:      "ArchiveTimeoutError",
	ArchiveDisabledError:     "ArchiveDisabledError",
	BackupSetInvalidError:    "BackupSetInvalidError",
	BackupMismatchError:      "BackupMismatchError",
	DbMismatchError:          "DbMismatchError",
	DbQueryError:             "DbQueryError",
	DbConnectError:           "DbConnectError",
	PgRunningError:           "PgRunningError",
	PostmasterRunningError:   "PostmasterRunningError",
	HostInvalidError:        "HostInvalidError",
	RepoInvalidError:         "RepoInvalidError",
	TablespaceMapError:       "TablespaceMapError",
	LinkMapError:             "LinkMapError",
	FeatureNotSupportedError: "FeatureNotSupportedError",
	ProtocolError:            "ProtocolError",
	RuntimeError:             "RuntimeError",
	StopError:                "StopError",
	TermError:                "TermError",
	TimeoutError:             "TimeoutError",
	DiskSpaceError:           "DiskSpaceError",
}

func (k Kind) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	return "UnknownError"
}

// exitCodes assigns each kind its process exit code. 0 (success) and 1
// (generic failure, also returned for an unrecognized kind) keep their
// shell meaning; the engine's own codes run from 25 to 63, matching the S2
// scenario's AssertError=25 anchor.
var exitCodes = map[Kind]int{
	AssertError:              25,
	FormatError:              26,
	FileMissingError:         27,
	FileOpenError:            28,
	FileReadError:            29,
	FileWriteError:           30,
	FileOwnerError:           31,
	PathMissingError:         32,
	PathOpenError:            33,
	PathNotEmptyError:        34,
	CryptoError:              35,
	ChecksumError:            36,
	ConfigError:              37,
	OptionInvalidError:       38,
	OptionInvalidValueError:  39,
	ParamRequiredError:       40,
	ParamInvalidError:        41,
	LockAcquireError:         42,
	ArchiveMismatchError:     43,
	ArchiveTimeoutError:      44,
	ArchiveDisabledError:     45,
	BackupSetInvalidError:    46,
	BackupMismatchError:      47,
	DbMismatchError:          48,
	DbQueryError:             49,
	DbConnectError:           50,
	PgRunningError:           51,
	PostmasterRunningError:   52,
	HostInvalidError:        53,
	RepoInvalidError:         54,
	TablespaceMapError:       55,
	LinkMapError:             56,
	FeatureNotSupportedError: 57,
	ProtocolError:            58,
	RuntimeError:             59,
	StopError:                60,
	TermError:                61,
	TimeoutError:             62,
	DiskSpaceError:           63,
}

// ExitCode returns the code assigned to k, or 1 if k is unrecognized.
func (k Kind) ExitCode() int {
	if c, ok := exitCodes[k]; ok {
		return c
	}
	return 1
}

// Error is the engine's single error type: a kind, a message, and an
// optional wrapped cause (errors.Is/errors.As friendly via Unwrap).
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
	Hint  string
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("[%s] %s\nHINT: %s", e.Kind, e.Msg, e.Hint)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a bare error of kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of kind around cause, preserving it for errors.Is/As.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// WithHint attaches a user-facing repair hint (spec §7 user-visible surface).
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// As extracts the engine Kind from any error, defaulting to RuntimeError for
// errors the engine did not originate (e.g. raw I/O errors bubbling up
// unwrapped) so the exit mapper always has a kind to consult.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if ok := errorsAs(err, &e); ok {
		return e
	}
	return &Error{Kind: RuntimeError, Msg: err.Error(), Cause: err}
}

// errorsAs is a tiny indirection over errors.As kept local to avoid an
// import cycle in callers that alias this package's own As.
func errorsAs(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
