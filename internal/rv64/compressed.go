package rv64

import "github.com/iningz/libriscv/internal/exec"

// rc maps a compressed 3-bit register field to its expanded x8..x15 encoding.
func rc(field uint16) uint8 { return uint8(field) + 8 }

// decode16 maps a 16-bit compressed instruction word to a canonical handler
// and operands (§4.5), covering the RV64C subset this interpreter supports.
// ok is false for a reserved or unimplemented encoding.
func decode16(word uint16) (h exec.HandlerFunc, ops exec.Operands, ok bool) {
	quadrant := word & 0x3
	funct3 := (word >> 13) & 0x7

	switch quadrant {
	case 0b00:
		switch funct3 {
		case 0b000: // C.ADDI4SPN
			rd := rc((word >> 2) & 0x7)
			nzuimm := uint16(0)
			nzuimm |= (word >> 7) & 0x30   // imm[5:4]  <- inst[12:11]
			nzuimm |= (word >> 1) & 0x3c0  // imm[9:6]  <- inst[10:7] shifted to [9:6]
			nzuimm |= (word >> 4) & 0x4    // imm[2]    <- inst[6]
			nzuimm |= (word >> 2) & 0x8    // imm[3]    <- inst[5]
			if nzuimm == 0 {
				return nil, exec.Operands{}, false
			}
			return hADDI, exec.Operands{Rd: rd, Rs1: 2, Imm: int32(nzuimm)}, true

		case 0b010: // C.LW
			rd := rc((word >> 2) & 0x7)
			rs1 := rc((word >> 7) & 0x7)
			off := ((word >> 10) & 0x7 << 3) | ((word >> 6) & 0x1 << 2) | ((word >> 5) & 0x1 << 6)
			h, _ := loadHandlers[0b010]
			return h, exec.Operands{Rd: rd, Rs1: rs1, Imm: int32(off)}, true

		case 0b011: // C.LD
			rd := rc((word >> 2) & 0x7)
			rs1 := rc((word >> 7) & 0x7)
			off := ((word >> 10) & 0x7 << 3) | ((word >> 5) & 0x3 << 6)
			h, _ := loadHandlers[0b011]
			return h, exec.Operands{Rd: rd, Rs1: rs1, Imm: int32(off)}, true

		case 0b110: // C.SW
			rs2 := rc((word >> 2) & 0x7)
			rs1 := rc((word >> 7) & 0x7)
			off := ((word >> 10) & 0x7 << 3) | ((word >> 6) & 0x1 << 2) | ((word >> 5) & 0x1 << 6)
			h, _ := storeHandlers[0b010]
			return h, exec.Operands{Rs1: rs1, Rs2: rs2, Imm: int32(off)}, true

		case 0b111: // C.SD
			rs2 := rc((word >> 2) & 0x7)
			rs1 := rc((word >> 7) & 0x7)
			off := ((word >> 10) & 0x7 << 3) | ((word >> 5) & 0x3 << 6)
			h, _ := storeHandlers[0b011]
			return h, exec.Operands{Rs1: rs1, Rs2: rs2, Imm: int32(off)}, true
		}

	case 0b01:
		rd := uint8((word >> 7) & 0x1f)
		switch funct3 {
		case 0b000: // C.ADDI / C.NOP
			imm := cImm6(word)
			return hADDI, exec.Operands{Rd: rd, Rs1: rd, Imm: imm}, true

		case 0b001: // C.ADDIW
			imm := cImm6(word)
			return hADDIW, exec.Operands{Rd: rd, Rs1: rd, Imm: imm}, true

		case 0b010: // C.LI
			imm := cImm6(word)
			return hADDI, exec.Operands{Rd: rd, Rs1: 0, Imm: imm}, true

		case 0b011:
			if rd == 2 { // C.ADDI16SP
				u := uint32(0)
				u |= uint32((word>>12)&0x1) << 9
				u |= uint32((word>>6)&0x1) << 4
				u |= uint32((word>>5)&0x1) << 6
				u |= uint32((word>>3)&0x3) << 7
				u |= uint32((word>>2)&0x1) << 5
				imm := signExt(u, 10)
				return hADDI, exec.Operands{Rd: 2, Rs1: 2, Imm: imm}, true
			}
			// C.LUI
			u := uint32(0)
			u |= uint32((word>>12)&0x1) << 17
			u |= uint32((word>>2)&0x1f) << 12
			imm := signExt(u, 18)
			if imm == 0 {
				return nil, exec.Operands{}, false
			}
			return hLUI, exec.Operands{Rd: rd, Imm: imm}, true

		case 0b100:
			rd2 := rc((word >> 7) & 0x7)
			funct2 := (word >> 10) & 0x3
			switch funct2 {
			case 0b00: // C.SRLI
				shamt := int32(((word>>12)&0x1)<<5 | (word>>2)&0x1f)
				return hSRLI, exec.Operands{Rd: rd2, Rs1: rd2, Imm: shamt}, true
			case 0b01: // C.SRAI
				shamt := int32(((word>>12)&0x1)<<5 | (word>>2)&0x1f)
				return hSRAI, exec.Operands{Rd: rd2, Rs1: rd2, Imm: shamt}, true
			case 0b10: // C.ANDI
				imm := cImm6(word)
				return hANDI, exec.Operands{Rd: rd2, Rs1: rd2, Imm: imm}, true
			case 0b11:
				rs2 := rc((word >> 2) & 0x7)
				bit12 := (word >> 12) & 0x1
				sub := (word >> 5) & 0x3
				if bit12 == 0 {
					switch sub {
					case 0b00:
						h := opHandlers[opKey{0b000, 0b0100000}]
						return h, exec.Operands{Rd: rd2, Rs1: rd2, Rs2: rs2}, true
					case 0b01:
						h := opHandlers[opKey{0b100, 0b0000000}]
						return h, exec.Operands{Rd: rd2, Rs1: rd2, Rs2: rs2}, true
					case 0b10:
						h := opHandlers[opKey{0b110, 0b0000000}]
						return h, exec.Operands{Rd: rd2, Rs1: rd2, Rs2: rs2}, true
					case 0b11:
						h := opHandlers[opKey{0b111, 0b0000000}]
						return h, exec.Operands{Rd: rd2, Rs1: rd2, Rs2: rs2}, true
					}
				} else {
					switch sub {
					case 0b00:
						h := op32Handlers[opKey{0b000, 0b0100000}]
						return h, exec.Operands{Rd: rd2, Rs1: rd2, Rs2: rs2}, true
					case 0b01:
						h := op32Handlers[opKey{0b000, 0b0000000}]
						return h, exec.Operands{Rd: rd2, Rs1: rd2, Rs2: rs2}, true
					}
				}
			}
			return nil, exec.Operands{}, false

		case 0b101: // C.J
			imm := cJImm(word)
			return hJAL, exec.Operands{Rd: 0, Imm: imm}, true

		case 0b110: // C.BEQZ
			rs1 := rc((word >> 7) & 0x7)
			imm := cBImm(word)
			h := branchHandlers[0b000]
			return h, exec.Operands{Rs1: rs1, Rs2: 0, Imm: imm}, true

		case 0b111: // C.BNEZ
			rs1 := rc((word >> 7) & 0x7)
			imm := cBImm(word)
			h := branchHandlers[0b001]
			return h, exec.Operands{Rs1: rs1, Rs2: 0, Imm: imm}, true
		}

	case 0b10:
		rd := uint8((word >> 7) & 0x1f)
		switch funct3 {
		case 0b000: // C.SLLI
			shamt := int32(((word>>12)&0x1)<<5 | (word>>2)&0x1f)
			return hSLLI, exec.Operands{Rd: rd, Rs1: rd, Imm: shamt}, true

		case 0b010: // C.LWSP
			if rd == 0 {
				return nil, exec.Operands{}, false
			}
			off := ((word>>12)&0x1)<<5 | ((word>>4)&0x7)<<2 | ((word>>2)&0x3)<<6
			h := loadHandlers[0b010]
			return h, exec.Operands{Rd: rd, Rs1: 2, Imm: int32(off)}, true

		case 0b011: // C.LDSP
			if rd == 0 {
				return nil, exec.Operands{}, false
			}
			off := ((word>>12)&0x1)<<5 | ((word>>5)&0x3)<<3 | ((word>>2)&0x7)<<6
			h := loadHandlers[0b011]
			return h, exec.Operands{Rd: rd, Rs1: 2, Imm: int32(off)}, true

		case 0b100:
			rs2 := uint8((word >> 2) & 0x1f)
			bit12 := (word >> 12) & 0x1
			if bit12 == 0 {
				if rs2 == 0 { // C.JR
					if rd == 0 {
						return nil, exec.Operands{}, false
					}
					return hJALR, exec.Operands{Rd: 0, Rs1: rd, Imm: 0}, true
				}
				// C.MV
				h := opHandlers[opKey{0b000, 0b0000000}]
				return h, exec.Operands{Rd: rd, Rs1: 0, Rs2: rs2}, true
			}
			if rd == 0 && rs2 == 0 { // C.EBREAK
				return hEBREAK, exec.Operands{}, true
			}
			if rs2 == 0 { // C.JALR
				return hJALR, exec.Operands{Rd: 1, Rs1: rd, Imm: 0}, true
			}
			// C.ADD
			h := opHandlers[opKey{0b000, 0b0000000}]
			return h, exec.Operands{Rd: rd, Rs1: rd, Rs2: rs2}, true

		case 0b110: // C.SWSP
			rs2 := uint8((word >> 2) & 0x1f)
			off := ((word>>9)&0xf)<<2 | ((word>>7)&0x3)<<6
			h := storeHandlers[0b010]
			return h, exec.Operands{Rs1: 2, Rs2: rs2, Imm: int32(off)}, true

		case 0b111: // C.SDSP
			rs2 := uint8((word >> 2) & 0x1f)
			off := ((word>>10)&0x7)<<3 | ((word>>7)&0x7)<<6
			h := storeHandlers[0b011]
			return h, exec.Operands{Rs1: 2, Rs2: rs2, Imm: int32(off)}, true
		}
	}

	return nil, exec.Operands{}, false
}

// cImm6 decodes the sign-extended 6-bit immediate shared by C.ADDI,
// C.ADDIW, C.LI and C.ANDI: imm[5] = inst[12], imm[4:0] = inst[6:2].
func cImm6(word uint16) int32 {
	u := uint32((word>>12)&0x1)<<5 | uint32((word>>2)&0x1f)
	return signExt(u, 6)
}

// cJImm decodes C.J/C.JAL's 11-bit signed jump offset.
func cJImm(word uint16) int32 {
	u := uint32(0)
	u |= uint32((word>>12)&0x1) << 11
	u |= uint32((word>>11)&0x1) << 4
	u |= uint32((word>>9)&0x3) << 8
	u |= uint32((word>>8)&0x1) << 10
	u |= uint32((word>>7)&0x1) << 6
	u |= uint32((word>>6)&0x1) << 7
	u |= uint32((word>>3)&0x7) << 1
	u |= uint32((word>>2)&0x1) << 5
	return signExt(u, 12)
}

// cBImm decodes C.BEQZ/C.BNEZ's 9-bit signed branch offset.
func cBImm(word uint16) int32 {
	u := uint32(0)
	u |= uint32((word>>12)&0x1) << 8
	u |= uint32((word>>10)&0x3) << 3
	u |= uint32((word>>5)&0x3) << 6
	u |= uint32((word>>3)&0x3) << 1
	u |= uint32((word>>2)&0x1) << 5
	return signExt(u, 9)
}
