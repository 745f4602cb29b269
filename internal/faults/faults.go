// Package faults classifies pipeline errors into the kinds a job can fail with.
// Components return their own typed errors; this package only answers
// "what kind of failure is this" and "may it be retried".
package faults

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the originating class of a failure.
type Kind string

const (
	KindUnknown   Kind = "unknown"
	KindInput     Kind = "input"
	KindSynthesis Kind = "synthesis"
	KindCache     Kind = "cache"
	KindAssembly  Kind = "assembly"
	KindCapacity  Kind = "capacity"
	KindCancelled Kind = "cancelled"
)

// Kinded is implemented by component errors that know their own kind.
type Kinded interface {
	FaultKind() Kind
}

// Transienter is implemented by errors that know whether a retry may succeed.
type Transienter interface {
	Transient() bool
}

// Error wraps an underlying error with a kind and the operation that failed.
type Error struct {
	Kind      Kind
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FaultKind returns the kind of the failure.
func (e *Error) FaultKind() Kind { return e.Kind }

// Transient reports whether the failure may succeed on retry.
func (e *Error) Transient() bool { return e.Retryable }

// Input wraps an unsupported or unreadable document error.
func Input(op string, err error) error {
	return &Error{Kind: KindInput, Op: op, Err: err}
}

// Synthesis wraps a provider failure.
func Synthesis(op string, transient bool, err error) error {
	return &Error{Kind: KindSynthesis, Op: op, Retryable: transient, Err: err}
}

// Cache wraps a cache I/O failure.
func Cache(op string, err error) error {
	return &Error{Kind: KindCache, Op: op, Err: err}
}

// Assembly wraps a failure producing output audio.
func Assembly(op string, err error) error {
	return &Error{Kind: KindAssembly, Op: op, Err: err}
}

// Capacity wraps a rejected submission. Capacity errors are always retryable.
func Capacity(op string, err error) error {
	return &Error{Kind: KindCapacity, Op: op, Retryable: true, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.FaultKind()
	}
	return KindUnknown
}

// IsTransient reports whether err is marked retryable. Deadline expiry counts
// as transient because each provider call carries its own timeout.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t Transienter
	if errors.As(err, &t) {
		return t.Transient()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
