package rv64

import "github.com/iningz/libriscv/internal/exec"

// AMO funct5 values (word[31:27]), shared between the .W and .D widths.
const (
	amoLR      = 0b00010
	amoSC      = 0b00011
	amoSWAP    = 0b00001
	amoADD     = 0b00000
	amoXOR     = 0b00100
	amoAND     = 0b01100
	amoOR      = 0b01000
	amoMIN     = 0b10000
	amoMAX     = 0b10100
	amoMINU    = 0b11000
	amoMAXU    = 0b11100
)

// decodeAMO handles the A-extension's opAmo opcode: word[31:27] is funct5,
// word[14:12] selects the operand width (010 = .W, 011 = .D). aq/rl (bits
// 26/25) are accepted but not distinguished --- the single-hart model (§5)
// makes every AMO trivially sequentially consistent.
func decodeAMO(word uint32, rd, rs1, rs2, funct3, funct7 uint8) (exec.HandlerFunc, exec.Operands, bool) {
	funct5 := funct7 >> 2
	ops := exec.Operands{Rd: rd, Rs1: rs1, Rs2: rs2}

	switch funct3 {
	case 0b010: // .W
		h, ok := amoWHandlers[funct5]
		return h, ops, ok
	case 0b011: // .D
		h, ok := amoDHandlers[funct5]
		return h, ops, ok
	}
	return nil, exec.Operands{}, false
}

var amoWHandlers = map[uint8]exec.HandlerFunc{
	amoLR: func(c exec.Core, s *exec.Slot) {
		v := c.Mem().LoadReserve32(c.Reg(int(s.Ops.Rs1)))
		c.SetReg(int(s.Ops.Rd), sext32to64(int32(v)))
		advance(c, s)
	},
	amoSC: func(c exec.Core, s *exec.Slot) {
		ok := c.Mem().StoreConditional32(c.Reg(int(s.Ops.Rs1)), uint32(c.Reg(int(s.Ops.Rs2))))
		c.SetReg(int(s.Ops.Rd), scResult(ok))
		advance(c, s)
	},
	amoSWAP: amoW(func(old, v uint32) uint32 { return v }),
	amoADD:  amoW(func(old, v uint32) uint32 { return old + v }),
	amoXOR:  amoW(func(old, v uint32) uint32 { return old ^ v }),
	amoAND:  amoW(func(old, v uint32) uint32 { return old & v }),
	amoOR:   amoW(func(old, v uint32) uint32 { return old | v }),
	amoMIN: amoW(func(old, v uint32) uint32 {
		if int32(old) < int32(v) {
			return old
		}
		return v
	}),
	amoMAX: amoW(func(old, v uint32) uint32 {
		if int32(old) > int32(v) {
			return old
		}
		return v
	}),
	amoMINU: amoW(func(old, v uint32) uint32 {
		if old < v {
			return old
		}
		return v
	}),
	amoMAXU: amoW(func(old, v uint32) uint32 {
		if old > v {
			return old
		}
		return v
	}),
}

var amoDHandlers = map[uint8]exec.HandlerFunc{
	amoLR: func(c exec.Core, s *exec.Slot) {
		v := c.Mem().LoadReserve64(c.Reg(int(s.Ops.Rs1)))
		c.SetReg(int(s.Ops.Rd), v)
		advance(c, s)
	},
	amoSC: func(c exec.Core, s *exec.Slot) {
		ok := c.Mem().StoreConditional64(c.Reg(int(s.Ops.Rs1)), c.Reg(int(s.Ops.Rs2)))
		c.SetReg(int(s.Ops.Rd), scResult(ok))
		advance(c, s)
	},
	amoSWAP: amoD(func(old, v uint64) uint64 { return v }),
	amoADD:  amoD(func(old, v uint64) uint64 { return old + v }),
	amoXOR:  amoD(func(old, v uint64) uint64 { return old ^ v }),
	amoAND:  amoD(func(old, v uint64) uint64 { return old & v }),
	amoOR:   amoD(func(old, v uint64) uint64 { return old | v }),
	amoMIN: amoD(func(old, v uint64) uint64 {
		if int64(old) < int64(v) {
			return old
		}
		return v
	}),
	amoMAX: amoD(func(old, v uint64) uint64 {
		if int64(old) > int64(v) {
			return old
		}
		return v
	}),
	amoMINU: amoD(func(old, v uint64) uint64 {
		if old < v {
			return old
		}
		return v
	}),
	amoMAXU: amoD(func(old, v uint64) uint64 {
		if old > v {
			return old
		}
		return v
	}),
}

// scResult maps a successful store-conditional to 0 and a failed one to 1,
// matching the RISC-V ISA's SC.W/D return convention.
func scResult(ok bool) uint64 {
	if ok {
		return 0
	}
	return 1
}

func amoW(op func(old, v uint32) uint32) exec.HandlerFunc {
	return func(c exec.Core, s *exec.Slot) {
		addr := c.Reg(int(s.Ops.Rs1))
		rhs := uint32(c.Reg(int(s.Ops.Rs2)))
		old := c.Mem().AMO32(addr, func(o uint32) uint32 { return op(o, rhs) })
		c.SetReg(int(s.Ops.Rd), sext32to64(int32(old)))
		advance(c, s)
	}
}

func amoD(op func(old, v uint64) uint64) exec.HandlerFunc {
	return func(c exec.Core, s *exec.Slot) {
		addr := c.Reg(int(s.Ops.Rs1))
		rhs := c.Reg(int(s.Ops.Rs2))
		old := c.Mem().AMO64(addr, func(o uint64) uint64 { return op(o, rhs) })
		c.SetReg(int(s.Ops.Rd), old)
		advance(c, s)
	}
}
