// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errors exports the public machine-exception type without pulling
// in the rest of the interpreter's internal packages.
package errors

import (
	internal "github.com/iningz/libriscv/internal/machineerr"
)

// MachineError indicates that a guest instruction raised an architectural
// fault or a memory-permission violation. It carries the trap.Kind, the
// faulting PC, and an auxiliary data word (see rv.ErrorFunc's doc comment
// for what that word means per kind).
type MachineError = internal.Error

// New and Newf build a MachineError; see internal/machineerr for the full
// constructor signatures used by the interpreter itself.
var (
	New  = internal.New
	Newf = internal.Newf
)
