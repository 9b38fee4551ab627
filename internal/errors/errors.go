// Package errors defines the engine's error taxonomy and the type codes
// and SQL states an exception frame carries; the frame itself is built
// in internal/wire (exception.go).
//
// The taxonomy has seven kinds: ConstraintViolation, Serialization,
// ViewDesync, UnsupportedAggregate, PlanNotFound, CatalogVersionMismatch,
// and UserFunctionError. Every constructor wraps with github.com/pkg/errors
// so that %+v and StackTrace() carry a real call stack into the exception
// frame, rather than just an error code and cause with no trace.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the taxonomy's error categories.
type Kind int

const (
	KindConstraintViolation Kind = iota
	KindSerialization
	KindViewDesync
	KindUnsupportedAggregate
	KindPlanNotFound
	KindCatalogVersionMismatch
	KindUserFunctionError
)

func (k Kind) String() string {
	switch k {
	case KindConstraintViolation:
		return "ConstraintViolation"
	case KindSerialization:
		return "Serialization"
	case KindViewDesync:
		return "ViewDesync"
	case KindUnsupportedAggregate:
		return "UnsupportedAggregate"
	case KindPlanNotFound:
		return "PlanNotFound"
	case KindCatalogVersionMismatch:
		return "CatalogVersionMismatch"
	case KindUserFunctionError:
		return "UserFunctionError"
	default:
		return "Unknown"
	}
}

// TypeCode is the stable integer the exception frame serializes in place
// of Kind's string name.
func (k Kind) TypeCode() int32 { return int32(k) }

// EngineError is the concrete error type the dispatcher catches, classifies
// by Kind, and either surfaces as a recoverable exception or treats as
// fatal to the current batch.
type EngineError struct {
	kind     Kind
	sqlState int32
	msg      string
	cause    error
	fallible bool
}

func (e *EngineError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *EngineError) Unwrap() error { return e.cause }

// Kind returns the error's taxonomy category.
func (e *EngineError) Kind() Kind { return e.kind }

// SQLState is the four-digit-style code serialized into the exception
// frame's sql_state field.
func (e *EngineError) SQLState() int32 { return e.sqlState }

// Fallible reports whether the caller that raised this error offered the
// choice between throwing it as a recoverable exception (fallible=true)
// versus treating it as fatal. Only ConstraintViolation varies by call
// site; every other kind is unconditionally fatal to the batch.
func (e *EngineError) Fallible() bool { return e.fallible }

// StackTrace exposes github.com/pkg/errors' frame list for exception-frame
// serialization.
func (e *EngineError) StackTrace() errors.StackTrace {
	type tracer interface{ StackTrace() errors.StackTrace }
	if t, ok := e.cause.(tracer); ok {
		return t.StackTrace()
	}
	return nil
}

func newErr(kind Kind, sqlState int32, fallible bool, msg string, args ...any) *EngineError {
	return &EngineError{
		kind:     kind,
		sqlState: sqlState,
		msg:      fmt.Sprintf(msg, args...),
		cause:    errors.New(fmt.Sprintf(msg, args...)),
		fallible: fallible,
	}
}

// ConstraintViolation wraps an insert/update that failed a uniqueness or
// NOT-NULL check. fallible mirrors the caller's own fallible parameter.
func ConstraintViolation(fallible bool, msg string, args ...any) *EngineError {
	return newErr(KindConstraintViolation, 2000, fallible, msg, args...)
}

// Serialization wraps a buffer under/overflow or malformed catalog/plan
// payload. Always fatal to the current batch.
func Serialization(msg string, args ...any) *EngineError {
	return newErr(KindSerialization, 3000, false, msg, args...)
}

// ViewDesync reports that a view handler expected to find an existing row
// and didn't. Indicates a bug or storage corruption; always fatal.
func ViewDesync(msg string, args ...any) *EngineError {
	return newErr(KindViewDesync, 4000, false, msg, args...)
}

// UnsupportedAggregate reports a catalog-load-time aggregate type outside
// {SUM, COUNT, COUNT_STAR, MIN, MAX}.
func UnsupportedAggregate(msg string, args ...any) *EngineError {
	return newErr(KindUnsupportedAggregate, 5000, false, msg, args...)
}

// PlanNotFound reports that the coordinator (Topend) refused or failed to
// supply a plan's IR.
func PlanNotFound(fragmentID int64) *EngineError {
	return newErr(KindPlanNotFound, 6000, false, "plan fragment %d not found", fragmentID)
}

// CatalogVersionMismatch reports a non-monotonic catalog update timestamp.
func CatalogVersionMismatch(got, want int64) *EngineError {
	return newErr(KindCatalogVersionMismatch, 7000, false,
		"catalog timestamp %d is not strictly greater than current timestamp %d", got, want)
}

// UserFunctionError wraps a nonzero return code from a UDF invocation.
func UserFunctionError(fnID int64, code int32) *EngineError {
	return newErr(KindUserFunctionError, 8000, false,
		"user-defined function %d returned error code %d", fnID, code)
}

// Wrap attaches a stack trace to an arbitrary error without reclassifying
// it, for cases (e.g. host I/O failures) that don't fit the taxonomy but
// still need a frame list for logging.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}
