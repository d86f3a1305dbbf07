package rv64

import (
	"github.com/iningz/libriscv/internal/exec"
	"github.com/iningz/libriscv/trap"
)

// decodeSystem handles the opSystem opcode. Only funct3 == 0 (the
// PRIV/ECALL/EBREAK subspace) is recognised; CSR instructions (funct3 != 0)
// have no privileged state to act on in a user-mode-only emulator and are
// left undecoded so the caller installs the illegal-instruction handler.
func decodeSystem(word uint32, rd, rs1, funct3 uint8) (exec.HandlerFunc, exec.Operands, bool) {
	if funct3 != 0 {
		return nil, exec.Operands{}, false
	}
	imm := (word >> 20) & 0xfff
	switch imm {
	case 0x000: // ECALL
		return hECALL, exec.Operands{}, true
	case 0x001: // EBREAK
		return hEBREAK, exec.Operands{}, true
	}
	return nil, exec.Operands{}, false
}

func hECALL(c exec.Core, s *exec.Slot) {
	c.Syscall()
	if c.Stopped() {
		return
	}
	advance(c, s)
}

func hEBREAK(c exec.Core, s *exec.Slot) {
	c.Fault(trap.UnimplementedInstruction, c.PC())
}
