package candystore

import (
	"errors"
	"fmt"

	"github.com/facebookgo/stackerr"
)

// ErrBadScriptResult is returned by out-of-process Substrate
// implementations (substrate/redis) when a server-side script returns a
// shape the client doesn't recognize — a protocol-version mismatch
// between the client and whatever Lua/EVAL logic is actually loaded on
// the server, never an ordinary miss.
var ErrBadScriptResult = errors.New("candystore: unexpected script result shape")

// CorruptionError reports a structural invariant violation detected
// mid-operation: a missing prev/next neighbor that must exist, a failed
// CAS that should have succeeded, or a descriptor absent where an item
// row said otherwise. It always carries a captured stack, so a host's log
// sink gets a trace even if the caller only inspects the error value.
type CorruptionError struct {
	// Op names the operation that detected the violation (e.g. "insert",
	// "remove_tail").
	Op string
	// Detail is a human-readable description including the offending row
	// identifiers.
	Detail string
	stack  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("candystore: corruption in %s: %s", e.Op, e.Detail)
}

func (e *CorruptionError) Unwrap() error { return e.stack }

func newCorruption(op, format string, args ...interface{}) error {
	detail := fmt.Sprintf(format, args...)
	return &CorruptionError{
		Op:     op,
		Detail: detail,
		stack:  stackerr.Newf("candystore: corruption in %s: %s", op, detail),
	}
}

// wrapSubstrateErr wraps an error surfaced by the Substrate unchanged in
// meaning, attaching a stack if one isn't already present.
func wrapSubstrateErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return stackerr.Wrap(fmt.Errorf("candystore: substrate error in %s: %w", op, err))
}
