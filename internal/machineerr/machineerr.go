// Package machineerr implements the typed exception that unwinds the CPU
// dispatch loop, matching the propagation policy described for architectural
// faults and memory-permission violations.
package machineerr

import (
	"fmt"

	"golang.org/x/xerrors"

	"github.com/iningz/libriscv/trap"
)

// Error is a machine exception: a fault kind plus the data that makes it
// actionable (the faulting PC, and whichever of address/word/byte-count is
// most informative for that kind).
type Error struct {
	Kind trap.Kind
	PC   uint64
	Data uint64
	text string
	wrap error
}

// New builds a machine exception with no extra message.
func New(kind trap.Kind, pc, data uint64) *Error {
	return &Error{Kind: kind, PC: pc, Data: data}
}

// Newf builds a machine exception with a formatted message, wrapping cause
// (if non-nil) so callers can still xerrors.As/Is through to it.
func Newf(kind trap.Kind, pc, data uint64, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind: kind,
		PC:   pc,
		Data: data,
		text: fmt.Sprintf(format, args...),
		wrap: cause,
	}
}

func (e *Error) Error() string {
	if e.text != "" {
		return fmt.Sprintf("%s at pc=0x%x: %s", e.Kind, e.PC, e.text)
	}
	return fmt.Sprintf("%s at pc=0x%x (data=0x%x)", e.Kind, e.PC, e.Data)
}

func (e *Error) Unwrap() error { return e.wrap }

// Format implements xerrors.Formatter so %+v prints a frame-annotated chain
// when the error was built with a wrapped cause.
func (e *Error) Format(f fmt.State, c rune) { xerrors.FormatError(e, f, c) }

func (e *Error) FormatError(p xerrors.Printer) error {
	p.Print(e.Error())
	return e.wrap
}

// MachineError marks this as a machine-exception error so hosts can
// distinguish it from host-side I/O failures with a type switch or
// errors.As, the same role ModuleError plays for the teacher's compiler
// errors.
func (e *Error) MachineError() bool { return true }
