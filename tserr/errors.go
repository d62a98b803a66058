// Package tserr implements Toasty's structured error type (spec §7). Unlike
// the teacher's habit of returning bare fmt.Errorf-wrapped strings
// (drivers/base/base_driver.go, migration/manager.go), the planning core
// needs callers to branch on error *kind*, so each kind is a distinct Go
// type satisfying the error interface, composed through errors.Is/As via
// Unwrap rather than string matching.
package tserr

import (
	"errors"
	"fmt"
)

// Kind enumerates the structured error categories from spec §7.
type Kind int

const (
	KindTypeConversion Kind = iota
	KindMissingField
	KindConditionFailed
	KindConstraintViolation
	KindNoViableIndex
	KindUnsupportedFeature
	KindDriver
	KindConnectionPool
	KindAdhoc
)

func (k Kind) String() string {
	switch k {
	case KindTypeConversion:
		return "type_conversion"
	case KindMissingField:
		return "missing_field"
	case KindConditionFailed:
		return "condition_failed"
	case KindConstraintViolation:
		return "constraint_violation"
	case KindNoViableIndex:
		return "no_viable_index"
	case KindUnsupportedFeature:
		return "unsupported_feature"
	case KindDriver:
		return "driver"
	case KindConnectionPool:
		return "connection_pool"
	default:
		return "adhoc"
	}
}

// Error is the structured error carried across every package boundary in
// the core. Display (via Error()) walks the cause chain, matching the
// propagation policy in spec §7.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, tserr.ConditionFailed) style checks against a
// zero-value sentinel of the same Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func new_(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func TypeConversion(value any, targetTy string) *Error {
	return new_(KindTypeConversion, "cannot convert value %v to %s", value, targetTy)
}

func MissingField(model, field string) *Error {
	return new_(KindMissingField, "missing required field %s.%s on insert", model, field)
}

// ConditionFailed is a sentinel: compare with errors.Is(err, tserr.ConditionFailed).
var ConditionFailed = &Error{Kind: KindConditionFailed, Message: "condition did not hold for all matched rows"}

type ConstraintKind int

const (
	ConstraintUnique ConstraintKind = iota
	ConstraintForeignKey
	ConstraintNotNull
	ConstraintCheck
)

func (c ConstraintKind) String() string {
	switch c {
	case ConstraintUnique:
		return "unique"
	case ConstraintForeignKey:
		return "foreign_key"
	case ConstraintNotNull:
		return "not_null"
	default:
		return "check"
	}
}

func ConstraintViolation(kind ConstraintKind, detail string) *Error {
	return new_(KindConstraintViolation, "%s constraint violated: %s", kind, detail)
}

func NoViableIndex(table, filterSummary string) *Error {
	return new_(KindNoViableIndex, "no index on table %s satisfies filter %s", table, filterSummary)
}

func UnsupportedFeature(description string) *Error {
	return new_(KindUnsupportedFeature, "%s", description)
}

func Driver(cause error) *Error {
	return &Error{Kind: KindDriver, Message: "driver operation failed", Cause: cause}
}

func ConnectionPool(cause error) *Error {
	return &Error{Kind: KindConnectionPool, Message: "connection pool error", Cause: cause}
}

func Adhoc(format string, args ...any) *Error {
	return new_(KindAdhoc, format, args...)
}

// Wrapf wraps an existing error with additional context while preserving
// its Kind when it is already a *Error; otherwise it is folded into Adhoc.
func Wrapf(err error, format string, args ...any) *Error {
	var te *Error
	if errors.As(err, &te) {
		return &Error{Kind: te.Kind, Message: fmt.Sprintf(format, args...), Cause: err}
	}
	return &Error{Kind: KindAdhoc, Message: fmt.Sprintf(format, args...), Cause: err}
}
