// Copyright (c) 2016 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package trap enumerates the numeric fault kinds a RISC-V guest can raise.
//
// The identifiers are stable across host languages: a Go host, a C host
// linking against a shim, and a scripting host embedding this package all
// see the same numbering, so a fault reported to one can be logged or
// compared against constants defined in another.
package trap

import (
	"fmt"
)

// Kind identifies why the dispatch loop unwound before the instruction
// budget was exhausted.
type Kind int

const (
	IllegalInstruction Kind = iota
	MisalignedInstruction
	InvalidAlignment
	ProtectionFault
	ExecutionSpaceProtectionFault
	OutOfMemory
	InvalidProgram
	UnimplementedInstruction
	DeadlockReached
	ExecutionLoopDetected
	MaxInstructionsReached
	SystemCallFailed
	UnhandledSyscall

	NumKinds
)

func (k Kind) String() string {
	switch k {
	case IllegalInstruction:
		return "illegal instruction"
	case MisalignedInstruction:
		return "misaligned instruction"
	case InvalidAlignment:
		return "invalid alignment"
	case ProtectionFault:
		return "protection fault"
	case ExecutionSpaceProtectionFault:
		return "execution space protection fault"
	case OutOfMemory:
		return "out of memory"
	case InvalidProgram:
		return "invalid program"
	case UnimplementedInstruction:
		return "unimplemented instruction"
	case DeadlockReached:
		return "deadlock reached"
	case ExecutionLoopDetected:
		return "execution loop detected"
	case MaxInstructionsReached:
		return "max instructions reached"
	case SystemCallFailed:
		return "system call failed"
	case UnhandledSyscall:
		return "unhandled syscall"
	default:
		return fmt.Sprintf("unknown fault kind %d", int(k))
	}
}

func (k Kind) Error() string {
	return "trap: " + k.String()
}
