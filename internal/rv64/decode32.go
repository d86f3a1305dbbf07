package rv64

import "github.com/iningz/libriscv/internal/exec"

// decode32 maps a 32-bit instruction word to a canonical handler and its
// packed operands (§4.5 step 2). ok is false for an encoding this
// interpreter doesn't recognise, in which case the caller installs the
// illegal-instruction handler.
func decode32(word uint32) (h exec.HandlerFunc, ops exec.Operands, ok bool) {
	opcode := word & 0x7f
	rd := uint8((word >> 7) & 0x1f)
	funct3 := uint8((word >> 12) & 0x7)
	rs1 := uint8((word >> 15) & 0x1f)
	rs2 := uint8((word >> 20) & 0x1f)
	funct7 := uint8((word >> 25) & 0x7f)

	switch opcode {
	case opLui:
		return hLUI, exec.Operands{Rd: rd, Imm: int32(word & 0xfffff000)}, true

	case opAuipc:
		return hAUIPC, exec.Operands{Rd: rd, Imm: int32(word & 0xfffff000)}, true

	case opJal:
		imm := decodeJImm(word)
		return hJAL, exec.Operands{Rd: rd, Imm: imm}, true

	case opJalr:
		if funct3 != 0 {
			return nil, exec.Operands{}, false
		}
		imm := signExt(word>>20, 12)
		return hJALR, exec.Operands{Rd: rd, Rs1: rs1, Imm: imm}, true

	case opBranch:
		imm := decodeBImm(word)
		h, ok := branchHandlers[funct3]
		if !ok {
			return nil, exec.Operands{}, false
		}
		return h, exec.Operands{Rs1: rs1, Rs2: rs2, Imm: imm}, true

	case opLoad:
		h, ok := loadHandlers[funct3]
		if !ok {
			return nil, exec.Operands{}, false
		}
		imm := signExt(word>>20, 12)
		return h, exec.Operands{Rd: rd, Rs1: rs1, Imm: imm}, true

	case opStore:
		h, ok := storeHandlers[funct3]
		if !ok {
			return nil, exec.Operands{}, false
		}
		imm := decodeSImm(word)
		return h, exec.Operands{Rs1: rs1, Rs2: rs2, Imm: imm}, true

	case opOpImm:
		imm := signExt(word>>20, 12)
		switch funct3 {
		case 0b000:
			return hADDI, exec.Operands{Rd: rd, Rs1: rs1, Imm: imm}, true
		case 0b010:
			return hSLTI, exec.Operands{Rd: rd, Rs1: rs1, Imm: imm}, true
		case 0b011:
			return hSLTIU, exec.Operands{Rd: rd, Rs1: rs1, Imm: imm}, true
		case 0b100:
			return hXORI, exec.Operands{Rd: rd, Rs1: rs1, Imm: imm}, true
		case 0b110:
			return hORI, exec.Operands{Rd: rd, Rs1: rs1, Imm: imm}, true
		case 0b111:
			return hANDI, exec.Operands{Rd: rd, Rs1: rs1, Imm: imm}, true
		case 0b001:
			if funct7 != 0 {
				return nil, exec.Operands{}, false
			}
			return hSLLI, exec.Operands{Rd: rd, Rs1: rs1, Imm: int32(rs2)}, true
		case 0b101:
			switch funct7 {
			case 0b0000000:
				return hSRLI, exec.Operands{Rd: rd, Rs1: rs1, Imm: int32(rs2)}, true
			case 0b0100000:
				return hSRAI, exec.Operands{Rd: rd, Rs1: rs1, Imm: int32(rs2)}, true
			}
		}
		return nil, exec.Operands{}, false

	case opOpImm32:
		imm := signExt(word>>20, 12)
		switch funct3 {
		case 0b000:
			return hADDIW, exec.Operands{Rd: rd, Rs1: rs1, Imm: imm}, true
		case 0b001:
			if funct7 != 0 {
				return nil, exec.Operands{}, false
			}
			return hSLLIW, exec.Operands{Rd: rd, Rs1: rs1, Imm: int32(rs2)}, true
		case 0b101:
			switch funct7 {
			case 0b0000000:
				return hSRLIW, exec.Operands{Rd: rd, Rs1: rs1, Imm: int32(rs2)}, true
			case 0b0100000:
				return hSRAIW, exec.Operands{Rd: rd, Rs1: rs1, Imm: int32(rs2)}, true
			}
		}
		return nil, exec.Operands{}, false

	case opOp:
		if funct7 == 0b0000001 { // M extension
			h, ok := mHandlers[funct3]
			if !ok {
				return nil, exec.Operands{}, false
			}
			return h, exec.Operands{Rd: rd, Rs1: rs1, Rs2: rs2}, true
		}
		h, ok := opHandlers[opKey{funct3, funct7}]
		if !ok {
			return nil, exec.Operands{}, false
		}
		return h, exec.Operands{Rd: rd, Rs1: rs1, Rs2: rs2}, true

	case opOp32:
		if funct7 == 0b0000001 { // M extension, word ops
			h, ok := mwHandlers[funct3]
			if !ok {
				return nil, exec.Operands{}, false
			}
			return h, exec.Operands{Rd: rd, Rs1: rs1, Rs2: rs2}, true
		}
		h, ok := op32Handlers[opKey{funct3, funct7}]
		if !ok {
			return nil, exec.Operands{}, false
		}
		return h, exec.Operands{Rd: rd, Rs1: rs1, Rs2: rs2}, true

	case opAmo:
		return decodeAMO(word, rd, rs1, rs2, funct3, funct7)

	case opMiscMem:
		return hFence, exec.Operands{}, true

	case opSystem:
		return decodeSystem(word, rd, rs1, funct3)
	}

	return nil, exec.Operands{}, false
}

func decodeJImm(word uint32) int32 {
	imm20 := (word >> 31) & 1
	imm10_1 := (word >> 21) & 0x3ff
	imm11 := (word >> 20) & 1
	imm19_12 := (word >> 12) & 0xff
	raw := (imm20 << 20) | (imm19_12 << 12) | (imm11 << 11) | (imm10_1 << 1)
	return signExt(raw, 21)
}

func decodeBImm(word uint32) int32 {
	imm12 := (word >> 31) & 1
	imm10_5 := (word >> 25) & 0x3f
	imm4_1 := (word >> 8) & 0xf
	imm11 := (word >> 7) & 1
	raw := (imm12 << 12) | (imm11 << 11) | (imm10_5 << 5) | (imm4_1 << 1)
	return signExt(raw, 13)
}

func decodeSImm(word uint32) int32 {
	imm11_5 := (word >> 25) & 0x7f
	imm4_0 := (word >> 7) & 0x1f
	raw := (imm11_5 << 5) | imm4_0
	return signExt(raw, 12)
}

type opKey struct {
	funct3 uint8
	funct7 uint8
}
