package main

import (
	"debug/elf"
	"testing"

	rv "github.com/iningz/libriscv"
	"github.com/iningz/libriscv/internal/elftest"
	"github.com/iningz/libriscv/traps"
)

const (
	opOpImm  = 0x13
	opSystem = 0x73
)

func encodeADDI(rd, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | rd<<7 | opOpImm
}

const ecallWord = uint32(opSystem)

func putWords(buf []byte, words ...uint32) []byte {
	for _, w := range words {
		buf = append(buf, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
	}
	return buf
}

// newSyscallMachine builds a Machine whose guest program sets a0..a2 and a7
// from imm (small immediates only, enough for fd/length/syscall-number
// arguments) and then issues one ECALL.
func newSyscallMachine(t *testing.T, a0, a1, a2 int32, syscallNo uint64) *rv.Machine {
	t.Helper()
	const base = 0x10000
	code := putWords(nil,
		encodeADDI(10, 0, a0),
		encodeADDI(11, 0, a1),
		encodeADDI(12, 0, a2),
		encodeADDI(17, 0, int32(syscallNo)),
		ecallWord,
	)
	elfBytes := elftest.Build(base, []elftest.Segment{
		{Vaddr: base, Flags: uint32(elf.PF_R | elf.PF_X), Data: code},
	})
	m, err := rv.New(elfBytes, rv.Options{})
	if err != nil {
		t.Fatalf("rv.New: %v", err)
	}
	return m
}

func TestInstallSyscallsWriteRejectsUnknownFD(t *testing.T) {
	m := newSyscallMachine(t, 99 /* fd */, 0, 0, sysWrite)
	installSyscalls(m)

	// Exactly the 4 setup instructions plus the ecall itself; Run stops on
	// budget exhaustion right after the syscall handler ran.
	m.Run(5)
	if m.Reg(10) != ^uint64(0) {
		t.Fatalf("a0 after write to bad fd = %#x, want -1", m.Reg(10))
	}
}

func TestInstallSyscallsExitAndExitGroupHalt(t *testing.T) {
	for _, n := range []uint64{sysExit, sysExitGroup} {
		const base = 0x10000
		code := putWords(nil, encodeADDI(17, 0, int32(n)), ecallWord)
		elfBytes := elftest.Build(base, []elftest.Segment{
			{Vaddr: base, Flags: uint32(elf.PF_R | elf.PF_X), Data: code},
		})
		m, err := rv.New(elfBytes, rv.Options{})
		if err != nil {
			t.Fatalf("rv.New: %v", err)
		}
		installSyscalls(m)

		id := m.Run(4)
		if id != traps.OK {
			t.Fatalf("syscall %d: Run = %v, want OK (exit/exit_group halts cleanly)", n, id)
		}
	}
}
