// Package xerrors wraps errors with the caller position (Wrap/Wrapf) or a full
// captured stack (New/Newf/WithStack/EnsureTrace) so the logger can render
// error chains with file:line links.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// stacked carries a captured call stack alongside the wrapped error
type stacked struct {
	cause error
	pcs   []uintptr
}

func (s *stacked) Error() string       { return s.cause.Error() }
func (s *stacked) Unwrap() error       { return s.cause }
func (s *stacked) StackPCs() []uintptr { return s.pcs }
func (s *stacked) IsXerrorsWrapper()   {}

// annotated adds a message prefix and the single PC of the wrapping call site
type annotated struct {
	cause error
	msg   string
	pc    uintptr
}

func (a *annotated) Error() string     { return a.msg + ": " + a.cause.Error() }
func (a *annotated) Unwrap() error     { return a.cause }
func (a *annotated) PC() uintptr       { return a.pc }
func (a *annotated) IsXerrorsWrapper() {}

// stackFrom captures the stack, skipping runtime.Callers, stackFrom and `skip` more frames
func stackFrom(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func pcFrom(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func attachStack(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &stacked{cause: err, pcs: stackFrom(skip + 1)}
}

// New returns an error with msg and the caller's stack.
func New(msg string) error { return attachStack(errors.New(msg), 1) }

// Newf is New with fmt formatting. %w verbs are honored.
func Newf(format string, args ...any) error {
	return attachStack(fmt.Errorf(format, args...), 1)
}

// WithStack attaches the caller's stack to err unconditionally.
func WithStack(err error) error { return attachStack(err, 1) }

// EnsureTrace attaches a stack only when no error in the chain already carries one.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && hs != nil && len(hs.StackPCs()) > 0 {
		return err
	}
	return attachStack(err, 1)
}

// Wrap prefixes err with msg and records the call site. nil stays nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &annotated{cause: err, msg: msg, pc: pcFrom(1)}
}

// Wrapf is Wrap with fmt formatting for the prefix.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &annotated{cause: err, msg: fmt.Sprintf(format, args...), pc: pcFrom(1)}
}
