// Package faults classifies the errors that end a flow run.
//
// Callers distinguish a broken definition (fix the flow or prompt file), a
// failed process (retry the run; the task resumes from its persisted step) and
// a failed write of the task record (stop; memory and disk disagree).
package faults

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a fatal run error.
type Kind int

const (
	KindLoad        Kind = iota + 1 // flow, prompt or hook definition missing or malformed
	KindProcess                     // agent could not be spawned or transcript not written
	KindPersistence                 // task record could not be read or written
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "definition load error"
	case KindProcess:
		return "process error"
	case KindPersistence:
		return "persistence error"
	default:
		return "unknown error"
	}
}

// Error is a fatal run error tagged with its Kind.
type Error struct {
	Kind Kind
	Op   string // what was being attempted, e.g. "load flow new"
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Load wraps err as a definition load error.
func Load(op string, err error) error {
	return &Error{Kind: KindLoad, Op: op, Err: err}
}

// Process wraps err as a process error.
func Process(op string, err error) error {
	return &Error{Kind: KindProcess, Op: op, Err: err}
}

// Persistence wraps err as a persistence error.
func Persistence(op string, err error) error {
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

func IsLoad(err error) bool        { return KindOf(err) == KindLoad }
func IsProcess(err error) bool     { return KindOf(err) == KindProcess }
func IsPersistence(err error) bool { return KindOf(err) == KindPersistence }
