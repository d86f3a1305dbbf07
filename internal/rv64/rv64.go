// Package rv64 implements the RV64IMAC decoder-cache generator and
// instruction handler table (§4.4, §4.5). Handlers are written against
// internal/exec.Core only, never against a concrete CPU or Memory type, so
// this package has no dependency on internal/cpu or internal/memory --- the
// same decoupling the teacher's per-architecture internal/isa/amd64 and
// internal/isa/arm64 backends get from the machineCoder interface.
package rv64

import "github.com/iningz/libriscv/internal/exec"

// Opcode (bits [6:0] of a 32-bit instruction word).
const (
	opLoad     = 0b0000011
	opLoadFP   = 0b0000111 // unimplemented (F/D extension)
	opMiscMem  = 0b0001111
	opOpImm    = 0b0010011
	opAuipc    = 0b0010111
	opOpImm32  = 0b0011011
	opStore    = 0b0100011
	opStoreFP  = 0b0100111 // unimplemented
	opAmo      = 0b0101111
	opOp       = 0b0110011
	opLui      = 0b0110111
	opOp32     = 0b0111011
	opBranch   = 0b1100011
	opJalr     = 0b1100111
	opJal      = 0b1101111
	opSystem   = 0b1110011
)

func signExt(v uint32, bits int) int32 {
	shift := 32 - bits
	return int32(v<<uint(shift)) >> uint(shift)
}

func sext32to64(v int32) uint64 { return uint64(int64(v)) }

// advance moves the PC past a non-control-flow instruction.
func advance(c exec.Core, slot *exec.Slot) {
	c.SetPC(c.PC() + uint64(slot.Len))
}
