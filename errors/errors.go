// Package errors defines the sentinel error Kinds the FAT core can surface
// (specification §7) and DriverError, a thin chaining wrapper that lets a
// caller keep annotating an error with more context while staying
// reachable through errors.Is/errors.As all the way back to the Kind that
// produced it.
package errors

import "fmt"

// DriverError is an error that can be annotated with a message
// (WithMessage) or have another error folded in (WrapError), with every
// annotation built on fmt.Errorf's %w verb rather than a hand-maintained
// "original error" field.
type DriverError interface {
	error
	WithMessage(message string) DriverError
	WrapError(err error) DriverError
}

// wrapped adapts a %w-chained error (produced by fmt.Errorf) back into a
// DriverError so it can keep being annotated. The embedded error supplies
// Error(); Unwrap delegates to it explicitly so errors.Is/errors.As walk
// straight through to whatever Kind sits at the bottom of the chain.
type wrapped struct {
	error
}

func wrap(err error) DriverError {
	return wrapped{err}
}

func (e wrapped) Unwrap() error {
	return e.error
}

func (e wrapped) WithMessage(message string) DriverError {
	return wrap(fmt.Errorf("%w: %s", e.error, message))
}

func (e wrapped) WrapError(err error) DriverError {
	return wrap(fmt.Errorf("%w: %w", e.error, err))
}
