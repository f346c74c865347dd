package models

import (
	"errors"
	"fmt"
)

// FaultKind classifies an operation failure for retry decisions.
//
// Transient faults are consumed by retry at the layer that incurred them;
// permanent and external faults bubble to the orchestrator which marks the
// task failed once the retry budget is exhausted.
type FaultKind string

const (
	FaultNotFound  FaultKind = "not-found"
	FaultForbidden FaultKind = "forbidden"
	FaultConflict  FaultKind = "conflict"
	FaultTransient FaultKind = "transient"
	FaultPermanent FaultKind = "permanent"
	FaultExternal  FaultKind = "external-failed"
)

// Retryable reports whether a task failure of this kind should be
// rescheduled while the attempt budget lasts.
func (k FaultKind) Retryable() bool {
	return k == FaultTransient || k == FaultExternal
}

// Fault is an error with a retry classification. It wraps the underlying
// cause so errors.Is/As keep working through it.
type Fault struct {
	Kind    FaultKind
	Message string
	Err     error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap returns the wrapped cause.
func (f *Fault) Unwrap() error {
	return f.Err
}

// NewFault builds a classified error.
func NewFault(kind FaultKind, message string, cause error) *Fault {
	return &Fault{Kind: kind, Message: message, Err: cause}
}

// Transient wraps cause as a transient fault.
func Transient(message string, cause error) *Fault {
	return NewFault(FaultTransient, message, cause)
}

// Permanent wraps cause as a permanent fault.
func Permanent(message string, cause error) *Fault {
	return NewFault(FaultPermanent, message, cause)
}

// ExternalFailed wraps cause as a terminal failure reported by the external
// workflow executor.
func ExternalFailed(message string, cause error) *Fault {
	return NewFault(FaultExternal, message, cause)
}

// KindOf extracts the fault kind from err. Unclassified errors are treated
// as transient so a glitch never becomes permanent by omission.
func KindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return FaultTransient
}
