package rv64

import "fmt"

// regNames mirrors the RISC-V ABI register names gapstone would have printed
// for the x86/ARM cores the teacher targets; used only by Disassemble, never
// by the decoder or handlers.
var regNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// Disassemble renders the instruction at text[0:] (2 or 4 bytes, whichever
// the encoding calls for) into a mnemonic string for debug output, standing
// in for the gapstone-backed disassembler
// the teacher's x86 backend uses (DESIGN.md: no maintained Go binding for
// RISC-V exists in the retrieved dependency set).
func Disassemble(text []byte, pc uint64) (asm string, size int) {
	if len(text) < 2 {
		return "(truncated)", 0
	}
	word16 := uint16(text[0]) | uint16(text[1])<<8
	if word16&0x3 != 0x3 {
		return disasm16(word16), 2
	}
	if len(text) < 4 {
		return "(truncated)", 0
	}
	word32 := uint32(text[0]) | uint32(text[1])<<8 | uint32(text[2])<<16 | uint32(text[3])<<24
	return disasm32(word32), 4
}

func reg(i uint8) string { return regNames[i&0x1f] }

func disasm32(word uint32) string {
	opcode := word & 0x7f
	rd := uint8((word >> 7) & 0x1f)
	funct3 := uint8((word >> 12) & 0x7)
	rs1 := uint8((word >> 15) & 0x1f)
	rs2 := uint8((word >> 20) & 0x1f)
	funct7 := uint8((word >> 25) & 0x7f)

	switch opcode {
	case opLui:
		return fmt.Sprintf("lui %s, 0x%x", reg(rd), word>>12)
	case opAuipc:
		return fmt.Sprintf("auipc %s, 0x%x", reg(rd), word>>12)
	case opJal:
		return fmt.Sprintf("jal %s, %d", reg(rd), decodeJImm(word))
	case opJalr:
		return fmt.Sprintf("jalr %s, %s, %d", reg(rd), reg(rs1), signExt(word>>20, 12))
	case opBranch:
		return fmt.Sprintf("b.f3=%#o %s, %s, %d", funct3, reg(rs1), reg(rs2), decodeBImm(word))
	case opLoad:
		return fmt.Sprintf("l.f3=%#o %s, %d(%s)", funct3, reg(rd), signExt(word>>20, 12), reg(rs1))
	case opStore:
		return fmt.Sprintf("s.f3=%#o %s, %d(%s)", funct3, reg(rs2), decodeSImm(word), reg(rs1))
	case opOpImm:
		return fmt.Sprintf("opimm.f3=%#o %s, %s, %d", funct3, reg(rd), reg(rs1), signExt(word>>20, 12))
	case opOpImm32:
		return fmt.Sprintf("opimm32.f3=%#o %s, %s, %d", funct3, reg(rd), reg(rs1), signExt(word>>20, 12))
	case opOp:
		if funct7 == 0b0000001 {
			return fmt.Sprintf("m.f3=%#o %s, %s, %s", funct3, reg(rd), reg(rs1), reg(rs2))
		}
		return fmt.Sprintf("op.f3=%#o.f7=%#o %s, %s, %s", funct3, funct7, reg(rd), reg(rs1), reg(rs2))
	case opOp32:
		return fmt.Sprintf("op32.f3=%#o.f7=%#o %s, %s, %s", funct3, funct7, reg(rd), reg(rs1), reg(rs2))
	case opAmo:
		return fmt.Sprintf("amo.f3=%#o.f5=%#o %s, %s, (%s)", funct3, funct7>>2, reg(rd), reg(rs2), reg(rs1))
	case opMiscMem:
		return "fence"
	case opSystem:
		imm := (word >> 20) & 0xfff
		if funct3 == 0 && imm == 0 {
			return "ecall"
		}
		if funct3 == 0 && imm == 1 {
			return "ebreak"
		}
		return fmt.Sprintf("system.f3=%#o", funct3)
	}
	return fmt.Sprintf("unknown32 0x%08x", word)
}

func disasm16(word uint16) string {
	return fmt.Sprintf("c.q%d.f3=%#o 0x%04x", word&0x3, (word>>13)&0x7, word)
}
