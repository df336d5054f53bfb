package assessment

import (
	"errors"
	"fmt"

	"github.com/covenantwatch/covenantwatch/internal/llm"
)

// Kind classifies why an AI assessment failed.
type Kind string

const (
	KindNoAPIKey  Kind = "no_api_key"
	KindTransport Kind = "transport"
	KindParse     Kind = "parse"
)

// Error is returned by every Client operation. Callers are expected to fall
// back to local heuristics on any Kind.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("assessment: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func transportError(op string, err error) *Error {
	if errors.Is(err, llm.ErrNoAPIKey) {
		return &Error{Op: op, Kind: KindNoAPIKey, Err: err}
	}
	return &Error{Op: op, Kind: KindTransport, Err: err}
}

func parseError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindParse, Err: err}
}
