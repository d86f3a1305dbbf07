package rv64

import "github.com/iningz/libriscv/internal/exec"

// M-extension handlers, OP encoding (funct7 == 0b0000001), keyed by funct3.
var mHandlers = map[uint8]exec.HandlerFunc{
	0b000: func(c exec.Core, s *exec.Slot) { // MUL
		v := c.Reg(int(s.Ops.Rs1)) * c.Reg(int(s.Ops.Rs2))
		c.SetReg(int(s.Ops.Rd), v)
		advance(c, s)
	},
	0b001: func(c exec.Core, s *exec.Slot) { // MULH
		v := mulh(int64(c.Reg(int(s.Ops.Rs1))), int64(c.Reg(int(s.Ops.Rs2))))
		c.SetReg(int(s.Ops.Rd), v)
		advance(c, s)
	},
	0b010: func(c exec.Core, s *exec.Slot) { // MULHSU
		v := mulhsu(int64(c.Reg(int(s.Ops.Rs1))), c.Reg(int(s.Ops.Rs2)))
		c.SetReg(int(s.Ops.Rd), v)
		advance(c, s)
	},
	0b011: func(c exec.Core, s *exec.Slot) { // MULHU
		v := mulhu(c.Reg(int(s.Ops.Rs1)), c.Reg(int(s.Ops.Rs2)))
		c.SetReg(int(s.Ops.Rd), v)
		advance(c, s)
	},
	0b100: func(c exec.Core, s *exec.Slot) { // DIV
		a, b := int64(c.Reg(int(s.Ops.Rs1))), int64(c.Reg(int(s.Ops.Rs2)))
		c.SetReg(int(s.Ops.Rd), uint64(divS64(a, b)))
		advance(c, s)
	},
	0b101: func(c exec.Core, s *exec.Slot) { // DIVU
		a, b := c.Reg(int(s.Ops.Rs1)), c.Reg(int(s.Ops.Rs2))
		c.SetReg(int(s.Ops.Rd), divU64(a, b))
		advance(c, s)
	},
	0b110: func(c exec.Core, s *exec.Slot) { // REM
		a, b := int64(c.Reg(int(s.Ops.Rs1))), int64(c.Reg(int(s.Ops.Rs2)))
		c.SetReg(int(s.Ops.Rd), uint64(remS64(a, b)))
		advance(c, s)
	},
	0b111: func(c exec.Core, s *exec.Slot) { // REMU
		a, b := c.Reg(int(s.Ops.Rs1)), c.Reg(int(s.Ops.Rs2))
		c.SetReg(int(s.Ops.Rd), remU64(a, b))
		advance(c, s)
	},
}

// M-extension word-op handlers, OP-32 encoding (funct7 == 0b0000001).
var mwHandlers = map[uint8]exec.HandlerFunc{
	0b000: func(c exec.Core, s *exec.Slot) { // MULW
		v := int32(c.Reg(int(s.Ops.Rs1))) * int32(c.Reg(int(s.Ops.Rs2)))
		c.SetReg(int(s.Ops.Rd), sext32to64(v))
		advance(c, s)
	},
	0b100: func(c exec.Core, s *exec.Slot) { // DIVW
		a, b := int32(c.Reg(int(s.Ops.Rs1))), int32(c.Reg(int(s.Ops.Rs2)))
		c.SetReg(int(s.Ops.Rd), sext32to64(divS32(a, b)))
		advance(c, s)
	},
	0b101: func(c exec.Core, s *exec.Slot) { // DIVUW
		a, b := uint32(c.Reg(int(s.Ops.Rs1))), uint32(c.Reg(int(s.Ops.Rs2)))
		c.SetReg(int(s.Ops.Rd), sext32to64(int32(divU32(a, b))))
		advance(c, s)
	},
	0b110: func(c exec.Core, s *exec.Slot) { // REMW
		a, b := int32(c.Reg(int(s.Ops.Rs1))), int32(c.Reg(int(s.Ops.Rs2)))
		c.SetReg(int(s.Ops.Rd), sext32to64(remS32(a, b)))
		advance(c, s)
	},
	0b111: func(c exec.Core, s *exec.Slot) { // REMUW
		a, b := uint32(c.Reg(int(s.Ops.Rs1))), uint32(c.Reg(int(s.Ops.Rs2)))
		c.SetReg(int(s.Ops.Rd), sext32to64(int32(remU32(a, b))))
		advance(c, s)
	},
}

func mulh(a, b int64) uint64 {
	hi, _ := bitsMul64(uint64(a), uint64(b))
	if a < 0 {
		hi -= uint64(b)
	}
	if b < 0 {
		hi -= uint64(a)
	}
	return hi
}

func mulhu(a, b uint64) uint64 {
	hi, _ := bitsMul64(a, b)
	return hi
}

func mulhsu(a int64, b uint64) uint64 {
	hi, _ := bitsMul64(uint64(a), b)
	if a < 0 {
		hi -= b
	}
	return hi
}

// bitsMul64 is math/bits.Mul64, inlined to keep this file self-contained.
func bitsMul64(x, y uint64) (hi, lo uint64) {
	const mask32 = 1<<32 - 1
	x0, x1 := x&mask32, x>>32
	y0, y1 := y&mask32, y>>32
	w0 := x0 * y0
	t := x1*y0 + w0>>32
	w1 := t & mask32
	w2 := t >> 32
	w1 += x0 * y1
	hi = x1*y1 + w2 + w1>>32
	lo = x * y
	return
}

// divS64 implements RV64 DIV semantics: division by zero yields -1, and the
// single overflowing case (MinInt64 / -1) yields the dividend (§5).
func divS64(a, b int64) int64 {
	if b == 0 {
		return -1
	}
	if a == minInt64 && b == -1 {
		return a
	}
	return a / b
}

func divU64(a, b uint64) uint64 {
	if b == 0 {
		return maxUint64
	}
	return a / b
}

func remS64(a, b int64) int64 {
	if b == 0 {
		return a
	}
	if a == minInt64 && b == -1 {
		return 0
	}
	return a % b
}

func remU64(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return a % b
}

func divS32(a, b int32) int32 {
	if b == 0 {
		return -1
	}
	if a == minInt32 && b == -1 {
		return a
	}
	return a / b
}

func divU32(a, b uint32) uint32 {
	if b == 0 {
		return maxUint32
	}
	return a / b
}

func remS32(a, b int32) int32 {
	if b == 0 {
		return a
	}
	if a == minInt32 && b == -1 {
		return 0
	}
	return a % b
}

func remU32(a, b uint32) uint32 {
	if b == 0 {
		return a
	}
	return a % b
}

const (
	minInt64  = -1 << 63
	minInt32  = -1 << 31
	maxUint64 = 1<<64 - 1
	maxUint32 = 1<<32 - 1
)
