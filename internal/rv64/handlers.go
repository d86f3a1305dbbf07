package rv64

import (
	"github.com/iningz/libriscv/internal/exec"
	"github.com/iningz/libriscv/trap"
)

func hLUI(c exec.Core, slot *exec.Slot) {
	c.SetReg(int(slot.Ops.Rd), sext32to64(slot.Ops.Imm))
	advance(c, slot)
}

func hAUIPC(c exec.Core, slot *exec.Slot) {
	c.SetReg(int(slot.Ops.Rd), c.PC()+sext32to64(slot.Ops.Imm))
	advance(c, slot)
}

func hJAL(c exec.Core, slot *exec.Slot) {
	ret := c.PC() + uint64(slot.Len)
	target := c.PC() + sext32to64(slot.Ops.Imm)
	c.SetReg(int(slot.Ops.Rd), ret)
	if target&1 != 0 {
		c.Fault(trap.MisalignedInstruction, target)
		return
	}
	c.SetPC(target)
}

func hJALR(c exec.Core, slot *exec.Slot) {
	ret := c.PC() + uint64(slot.Len)
	target := (c.Reg(int(slot.Ops.Rs1)) + sext32to64(slot.Ops.Imm)) &^ 1
	c.SetReg(int(slot.Ops.Rd), ret)
	if target&1 != 0 {
		c.Fault(trap.MisalignedInstruction, target)
		return
	}
	c.SetPC(target)
}

func branch(c exec.Core, slot *exec.Slot, taken bool) {
	if !taken {
		advance(c, slot)
		return
	}
	target := c.PC() + sext32to64(slot.Ops.Imm)
	if target&1 != 0 {
		c.Fault(trap.MisalignedInstruction, target)
		return
	}
	c.SetPC(target)
}

var branchHandlers = map[uint8]exec.HandlerFunc{
	0b000: func(c exec.Core, s *exec.Slot) { branch(c, s, c.Reg(int(s.Ops.Rs1)) == c.Reg(int(s.Ops.Rs2))) },
	0b001: func(c exec.Core, s *exec.Slot) { branch(c, s, c.Reg(int(s.Ops.Rs1)) != c.Reg(int(s.Ops.Rs2))) },
	0b100: func(c exec.Core, s *exec.Slot) { branch(c, s, int64(c.Reg(int(s.Ops.Rs1))) < int64(c.Reg(int(s.Ops.Rs2)))) },
	0b101: func(c exec.Core, s *exec.Slot) { branch(c, s, int64(c.Reg(int(s.Ops.Rs1))) >= int64(c.Reg(int(s.Ops.Rs2)))) },
	0b110: func(c exec.Core, s *exec.Slot) { branch(c, s, c.Reg(int(s.Ops.Rs1)) < c.Reg(int(s.Ops.Rs2))) },
	0b111: func(c exec.Core, s *exec.Slot) { branch(c, s, c.Reg(int(s.Ops.Rs1)) >= c.Reg(int(s.Ops.Rs2))) },
}

func loadAddr(c exec.Core, s *exec.Slot) uint64 {
	return c.Reg(int(s.Ops.Rs1)) + sext32to64(s.Ops.Imm)
}

var loadHandlers = map[uint8]exec.HandlerFunc{
	0b000: func(c exec.Core, s *exec.Slot) { // LB
		v := int64(int8(c.Mem().Load8(loadAddr(c, s))))
		c.SetReg(int(s.Ops.Rd), uint64(v))
		advance(c, s)
	},
	0b001: func(c exec.Core, s *exec.Slot) { // LH
		v := int64(int16(c.Mem().Load16(loadAddr(c, s))))
		c.SetReg(int(s.Ops.Rd), uint64(v))
		advance(c, s)
	},
	0b010: func(c exec.Core, s *exec.Slot) { // LW
		v := int64(int32(c.Mem().Load32(loadAddr(c, s))))
		c.SetReg(int(s.Ops.Rd), uint64(v))
		advance(c, s)
	},
	0b011: func(c exec.Core, s *exec.Slot) { // LD
		c.SetReg(int(s.Ops.Rd), c.Mem().Load64(loadAddr(c, s)))
		advance(c, s)
	},
	0b100: func(c exec.Core, s *exec.Slot) { // LBU
		c.SetReg(int(s.Ops.Rd), uint64(c.Mem().Load8(loadAddr(c, s))))
		advance(c, s)
	},
	0b101: func(c exec.Core, s *exec.Slot) { // LHU
		c.SetReg(int(s.Ops.Rd), uint64(c.Mem().Load16(loadAddr(c, s))))
		advance(c, s)
	},
	0b110: func(c exec.Core, s *exec.Slot) { // LWU
		c.SetReg(int(s.Ops.Rd), uint64(c.Mem().Load32(loadAddr(c, s))))
		advance(c, s)
	},
}

func storeAddr(c exec.Core, s *exec.Slot) uint64 {
	return c.Reg(int(s.Ops.Rs1)) + sext32to64(s.Ops.Imm)
}

var storeHandlers = map[uint8]exec.HandlerFunc{
	0b000: func(c exec.Core, s *exec.Slot) {
		c.Mem().Store8(storeAddr(c, s), uint8(c.Reg(int(s.Ops.Rs2))))
		advance(c, s)
	},
	0b001: func(c exec.Core, s *exec.Slot) {
		c.Mem().Store16(storeAddr(c, s), uint16(c.Reg(int(s.Ops.Rs2))))
		advance(c, s)
	},
	0b010: func(c exec.Core, s *exec.Slot) {
		c.Mem().Store32(storeAddr(c, s), uint32(c.Reg(int(s.Ops.Rs2))))
		advance(c, s)
	},
	0b011: func(c exec.Core, s *exec.Slot) {
		c.Mem().Store64(storeAddr(c, s), c.Reg(int(s.Ops.Rs2)))
		advance(c, s)
	},
}

func hADDI(c exec.Core, s *exec.Slot) {
	c.SetReg(int(s.Ops.Rd), c.Reg(int(s.Ops.Rs1))+sext32to64(s.Ops.Imm))
	advance(c, s)
}
func hSLTI(c exec.Core, s *exec.Slot) {
	v := uint64(0)
	if int64(c.Reg(int(s.Ops.Rs1))) < int64(s.Ops.Imm) {
		v = 1
	}
	c.SetReg(int(s.Ops.Rd), v)
	advance(c, s)
}
func hSLTIU(c exec.Core, s *exec.Slot) {
	v := uint64(0)
	if c.Reg(int(s.Ops.Rs1)) < uint64(sext32to64(s.Ops.Imm)) {
		v = 1
	}
	c.SetReg(int(s.Ops.Rd), v)
	advance(c, s)
}
func hXORI(c exec.Core, s *exec.Slot) {
	c.SetReg(int(s.Ops.Rd), c.Reg(int(s.Ops.Rs1))^uint64(sext32to64(s.Ops.Imm)))
	advance(c, s)
}
func hORI(c exec.Core, s *exec.Slot) {
	c.SetReg(int(s.Ops.Rd), c.Reg(int(s.Ops.Rs1))|uint64(sext32to64(s.Ops.Imm)))
	advance(c, s)
}
func hANDI(c exec.Core, s *exec.Slot) {
	c.SetReg(int(s.Ops.Rd), c.Reg(int(s.Ops.Rs1))&uint64(sext32to64(s.Ops.Imm)))
	advance(c, s)
}
func hSLLI(c exec.Core, s *exec.Slot) {
	c.SetReg(int(s.Ops.Rd), c.Reg(int(s.Ops.Rs1))<<uint(s.Ops.Imm&0x3f))
	advance(c, s)
}
func hSRLI(c exec.Core, s *exec.Slot) {
	c.SetReg(int(s.Ops.Rd), c.Reg(int(s.Ops.Rs1))>>uint(s.Ops.Imm&0x3f))
	advance(c, s)
}
func hSRAI(c exec.Core, s *exec.Slot) {
	c.SetReg(int(s.Ops.Rd), uint64(int64(c.Reg(int(s.Ops.Rs1)))>>uint(s.Ops.Imm&0x3f)))
	advance(c, s)
}

func hADDIW(c exec.Core, s *exec.Slot) {
	v := int32(c.Reg(int(s.Ops.Rs1))) + s.Ops.Imm
	c.SetReg(int(s.Ops.Rd), sext32to64(v))
	advance(c, s)
}
func hSLLIW(c exec.Core, s *exec.Slot) {
	v := int32(c.Reg(int(s.Ops.Rs1))) << uint(s.Ops.Imm&0x1f)
	c.SetReg(int(s.Ops.Rd), sext32to64(v))
	advance(c, s)
}
func hSRLIW(c exec.Core, s *exec.Slot) {
	v := int32(uint32(c.Reg(int(s.Ops.Rs1))) >> uint(s.Ops.Imm&0x1f))
	c.SetReg(int(s.Ops.Rd), sext32to64(v))
	advance(c, s)
}
func hSRAIW(c exec.Core, s *exec.Slot) {
	v := int32(c.Reg(int(s.Ops.Rs1))) >> uint(s.Ops.Imm&0x1f)
	c.SetReg(int(s.Ops.Rd), sext32to64(v))
	advance(c, s)
}

var opHandlers = map[opKey]exec.HandlerFunc{
	{0b000, 0b0000000}: func(c exec.Core, s *exec.Slot) { // ADD
		c.SetReg(int(s.Ops.Rd), c.Reg(int(s.Ops.Rs1))+c.Reg(int(s.Ops.Rs2)))
		advance(c, s)
	},
	{0b000, 0b0100000}: func(c exec.Core, s *exec.Slot) { // SUB
		c.SetReg(int(s.Ops.Rd), c.Reg(int(s.Ops.Rs1))-c.Reg(int(s.Ops.Rs2)))
		advance(c, s)
	},
	{0b001, 0b0000000}: func(c exec.Core, s *exec.Slot) { // SLL
		c.SetReg(int(s.Ops.Rd), c.Reg(int(s.Ops.Rs1))<<(c.Reg(int(s.Ops.Rs2))&0x3f))
		advance(c, s)
	},
	{0b010, 0b0000000}: func(c exec.Core, s *exec.Slot) { // SLT
		v := uint64(0)
		if int64(c.Reg(int(s.Ops.Rs1))) < int64(c.Reg(int(s.Ops.Rs2))) {
			v = 1
		}
		c.SetReg(int(s.Ops.Rd), v)
		advance(c, s)
	},
	{0b011, 0b0000000}: func(c exec.Core, s *exec.Slot) { // SLTU
		v := uint64(0)
		if c.Reg(int(s.Ops.Rs1)) < c.Reg(int(s.Ops.Rs2)) {
			v = 1
		}
		c.SetReg(int(s.Ops.Rd), v)
		advance(c, s)
	},
	{0b100, 0b0000000}: func(c exec.Core, s *exec.Slot) { // XOR
		c.SetReg(int(s.Ops.Rd), c.Reg(int(s.Ops.Rs1))^c.Reg(int(s.Ops.Rs2)))
		advance(c, s)
	},
	{0b101, 0b0000000}: func(c exec.Core, s *exec.Slot) { // SRL
		c.SetReg(int(s.Ops.Rd), c.Reg(int(s.Ops.Rs1))>>(c.Reg(int(s.Ops.Rs2))&0x3f))
		advance(c, s)
	},
	{0b101, 0b0100000}: func(c exec.Core, s *exec.Slot) { // SRA
		c.SetReg(int(s.Ops.Rd), uint64(int64(c.Reg(int(s.Ops.Rs1)))>>(c.Reg(int(s.Ops.Rs2))&0x3f)))
		advance(c, s)
	},
	{0b110, 0b0000000}: func(c exec.Core, s *exec.Slot) { // OR
		c.SetReg(int(s.Ops.Rd), c.Reg(int(s.Ops.Rs1))|c.Reg(int(s.Ops.Rs2)))
		advance(c, s)
	},
	{0b111, 0b0000000}: func(c exec.Core, s *exec.Slot) { // AND
		c.SetReg(int(s.Ops.Rd), c.Reg(int(s.Ops.Rs1))&c.Reg(int(s.Ops.Rs2)))
		advance(c, s)
	},
}

var op32Handlers = map[opKey]exec.HandlerFunc{
	{0b000, 0b0000000}: func(c exec.Core, s *exec.Slot) { // ADDW
		v := int32(c.Reg(int(s.Ops.Rs1))) + int32(c.Reg(int(s.Ops.Rs2)))
		c.SetReg(int(s.Ops.Rd), sext32to64(v))
		advance(c, s)
	},
	{0b000, 0b0100000}: func(c exec.Core, s *exec.Slot) { // SUBW
		v := int32(c.Reg(int(s.Ops.Rs1))) - int32(c.Reg(int(s.Ops.Rs2)))
		c.SetReg(int(s.Ops.Rd), sext32to64(v))
		advance(c, s)
	},
	{0b001, 0b0000000}: func(c exec.Core, s *exec.Slot) { // SLLW
		v := int32(c.Reg(int(s.Ops.Rs1))) << (c.Reg(int(s.Ops.Rs2)) & 0x1f)
		c.SetReg(int(s.Ops.Rd), sext32to64(v))
		advance(c, s)
	},
	{0b101, 0b0000000}: func(c exec.Core, s *exec.Slot) { // SRLW
		v := int32(uint32(c.Reg(int(s.Ops.Rs1))) >> (c.Reg(int(s.Ops.Rs2)) & 0x1f))
		c.SetReg(int(s.Ops.Rd), sext32to64(v))
		advance(c, s)
	},
	{0b101, 0b0100000}: func(c exec.Core, s *exec.Slot) { // SRAW
		v := int32(c.Reg(int(s.Ops.Rs1))) >> (c.Reg(int(s.Ops.Rs2)) & 0x1f)
		c.SetReg(int(s.Ops.Rd), sext32to64(v))
		advance(c, s)
	},
}

func hFence(c exec.Core, s *exec.Slot) {
	// Single-hart, no device emulation: FENCE/FENCE.I are no-ops (§5).
	advance(c, s)
}
