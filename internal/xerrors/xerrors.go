// Package xerrors adds call-site information to errors without changing their messages.
//
// Wrap/Wrapf record the single PC of the wrapping call so the logger can print an
// error_links trail. New/Newf and WithStack capture a full stack for the stack attr.
// Both wrappers are transparent to errors.Is and errors.As.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

type withStack struct {
	err error
	pcs []uintptr
}

func (w *withStack) Error() string       { return w.err.Error() }
func (w *withStack) Unwrap() error       { return w.err }
func (w *withStack) StackPCs() []uintptr { return w.pcs }

// stack skips runtime.Callers, stack, and skip more frames
func stack(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

// WithStack attaches the current stack to err. Nil stays nil.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &withStack{err: err, pcs: stack(1)}
}

// EnsureTrace attaches a stack only when nothing in err's chain carries one already.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return &withStack{err: err, pcs: stack(1)}
}

type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error { return w.err }
func (w *wrap) PC() uintptr   { return w.pc }

func callerPC() uintptr {
	var pcs [1]uintptr
	// skip runtime.Callers, callerPC, and the exported wrapper
	if runtime.Callers(3, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

// Wrap prefixes err with msg and records the caller. Nil stays nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: callerPC()}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC()}
}

// New returns an error with a full stack rooted at the caller.
func New(msg string) error { return &withStack{err: errors.New(msg), pcs: stack(1)} }

// Newf is New with fmt.Errorf semantics, %w is honored.
func Newf(format string, args ...any) error {
	return &withStack{err: fmt.Errorf(format, args...), pcs: stack(1)}
}
