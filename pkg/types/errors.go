package types

import (
	"errors"
	"fmt"
	"strings"
)

// Configuration errors. These indicate a programming or metadata mistake and
// are surfaced immediately to the caller.
var (
	ErrDuplicateProperty         = errors.New("duplicate property")
	ErrUnknownProperty           = errors.New("unknown property")
	ErrDuplicateRelationship     = errors.New("duplicate relationship")
	ErrRelationshipNotFound      = errors.New("relationship not found")
	ErrInvalidRelationshipAccess = errors.New("invalid relationship access")
	ErrUnknownClass              = errors.New("unknown class")
	ErrDuplicateClass            = errors.New("duplicate class")
	ErrInvalidClassDef           = errors.New("invalid class definition")
)

// Identity and consistency errors.
var (
	ErrDuplicateIdentity = errors.New("duplicate identity")
	ErrAmbiguousMatch    = errors.New("ambiguous match")
	ErrRecordNotFound    = errors.New("record not found")
	ErrInvalidKey        = errors.New("invalid primary key")
)

// Query errors.
var (
	ErrIndexOutOfRange = errors.New("index out of range")
)

// Lifecycle errors raised by domain objects and the unit of work.
var (
	ErrReadOnlyProperty   = errors.New("property is read-only")
	ErrObjectDeleted      = errors.New("object is deleted")
	ErrClassMismatch      = errors.New("object class does not match relationship")
	ErrNotRelated         = errors.New("object is not part of the relationship")
	ErrConversion         = errors.New("value conversion failed")
	ErrValidation         = errors.New("validation failed")
	ErrDeletePrevented    = errors.New("delete prevented")
	ErrPersist            = errors.New("persist failed")
	ErrTransactionStarted = errors.New("transaction already committed or rolled back")
)

// Backend errors.
var (
	ErrBackendEmpty    = errors.New("backend must not be empty")
	ErrBackendUnknown  = errors.New("unknown backend")
	ErrAlreadyAttached = errors.New("store already attached")
	ErrStoreDetached   = errors.New("store is detached")
)

// ValidationFailure describes one property (or object-level rule) that failed
// validation.
type ValidationFailure struct {
	Class    string `json:"class"`
	Key      string `json:"key,omitempty"`
	Property string `json:"property"`
	Reason   string `json:"reason"`
}

func (f ValidationFailure) String() string {
	if f.Key == "" {
		return fmt.Sprintf("%s.%s: %s", f.Class, f.Property, f.Reason)
	}
	return fmt.Sprintf("%s %s.%s: %s", f.Class, f.Key, f.Property, f.Reason)
}

// ValidationError aggregates every failure found while validating a unit of
// work. It matches ErrValidation under errors.Is.
type ValidationError struct {
	Failures []ValidationFailure
}

func (e *ValidationError) Error() string {
	lines := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		lines = append(lines, f.String())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(lines, "; "))
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Reasons returns the failure lines in order.
func (e *ValidationError) Reasons() []string {
	out := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.String())
	}
	return out
}

// DeletePreventedError reports the relationships that block deleting an
// object. It matches ErrDeletePrevented under errors.Is.
type DeletePreventedError struct {
	Class   string
	Key     string
	Reasons []string
}

func (e *DeletePreventedError) Error() string {
	return fmt.Sprintf("cannot delete %s %s: %s", e.Class, e.Key, strings.Join(e.Reasons, "; "))
}

// Is reports whether target is ErrDeletePrevented.
func (e *DeletePreventedError) Is(target error) bool {
	return target == ErrDeletePrevented
}

// ChangeError identifies which change in a batch a store rejected.
type ChangeError struct {
	Index  int
	Change Change
	Err    error
}

func (e *ChangeError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Change.Op, e.Change.Record.Class, e.Change.Record.Key, e.Err)
}

func (e *ChangeError) Unwrap() error { return e.Err }

// PersistError wraps a storage failure with the identity of the object being
// written. Property is set when the failure concerns a single value, such as
// an auto-increment assignment.
type PersistError struct {
	Class    string
	Key      string
	Op       ChangeOp
	Property string
	Err      error
}

func (e *PersistError) Error() string {
	target := e.Class
	if e.Key != "" {
		target += " " + e.Key
	}
	if e.Property != "" {
		target += "." + e.Property
	}
	return fmt.Sprintf("persist %s %s: %v", e.Op, target, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Is reports whether target is ErrPersist.
func (e *PersistError) Is(target error) bool {
	return target == ErrPersist
}
