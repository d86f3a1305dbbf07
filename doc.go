// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package rv is a sandboxed RISC-V (RV64IMAC) user-mode emulator: it loads a
statically or dynamically linked ELF binary into a paged guest address
space and runs it instruction by instruction behind a host-defined ECALL
table.

See the Machine type for the high-level API. The paging, decoding and
dispatch machinery lives in internal/ subpackages; Machine only wires them
together and exposes the host-facing surface.

# Errors

MachineError is accessible via the errors subpackage and indicates that a
guest instruction raised an architectural fault or a memory-permission
violation. Errors returned by New (ELF parsing, arena allocation) are plain
errors wrapping whatever failed and do not implement MachineError.
*/
package rv
