// Package errs implements the §7 error taxonomy: configuration errors,
// Docker errors, daemon-unreachable errors, and migration errors are
// distinct error *kinds* a caller can branch on instead of string-matching a
// message. Hot drift is logged as a warning and has no kind here. The tagged-error
// shape (a struct carrying a code/kind plus an xerrors.Frame for
// FormatError) is grounded directly on ComplexError in the teacher's
// pkg/commands/errors.go; WrapStack mirrors that file's WrapError, adding a
// stack trace at the plugin's top-level boundary via go-errors.
package errs

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
	"golang.org/x/xerrors"
)

// Kind tags a Tagged error by the §7 taxonomy category.
type Kind int

const (
	// KindConfiguration covers invalid shell commands, invalid env keys,
	// and empty argv for the raw-exec path (§7 "Configuration errors").
	KindConfiguration Kind = iota
	// KindDocker covers non-zero docker CLI exits surfaced as errors.
	KindDocker
	// KindMigration covers legacy-registry JSON parse/rename failures
	// that abort plugin init (§7 "Migration failures").
	KindMigration
	// KindDaemonUnreachable covers docker CLI failures whose stderr
	// indicates the daemon itself is down or unreachable, as distinct from
	// a docker CLI command that ran fine and rejected the request (§7
	// "Docker errors" vs. supplemented feature 5, SPEC_FULL.md).
	KindDaemonUnreachable
)

// Tagged is an error carrying a Kind so callers can branch on error
// category instead of matching message text, adapted from ComplexError.
type Tagged struct {
	Kind    Kind
	Message string
	frame   xerrors.Frame
}

// New builds a Tagged error of the given kind.
func New(kind Kind, message string) error {
	return Tagged{Kind: kind, Message: message, frame: xerrors.Caller(1)}
}

// Newf builds a Tagged error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return Tagged{Kind: kind, Message: fmt.Sprintf(format, args...), frame: xerrors.Caller(1)}
}

// FormatError implements xerrors.Formatter.
func (e Tagged) FormatError(p xerrors.Printer) error {
	p.Print(e.Message)
	e.frame.Format(p)
	return nil
}

// Format implements fmt.Formatter via xerrors.FormatError.
func (e Tagged) Format(f fmt.State, c rune) { xerrors.FormatError(e, f, c) }

func (e Tagged) Error() string { return fmt.Sprint(e) }

// Is reports whether err is a Tagged error of the given kind, unwrapping
// through any wrapping layers via xerrors.As.
func Is(err error, kind Kind) bool {
	var tagged Tagged
	if xerrors.As(err, &tagged) {
		return tagged.Kind == kind
	}
	return false
}

// WrapStack wraps err with a stack trace for the plugin's top-level
// boundary, mirroring WrapError in the teacher's pkg/commands/errors.go.
// Returns nil for a nil err, since go-errors.Wrap otherwise returns a
// non-nil *Error wrapping nil.
func WrapStack(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, 1)
}
