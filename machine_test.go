package rv

import (
	"debug/elf"
	"testing"

	"github.com/iningz/libriscv/internal/elftest"
	"github.com/iningz/libriscv/internal/page"
	"github.com/iningz/libriscv/trap"
	"github.com/iningz/libriscv/traps"
)

const (
	opOpImm  = 0x13
	opSystem = 0x73
	opJal    = 0x6f

	sysExit  = 93
	sysWrite = 64
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

// buildELF assembles a single R-X PT_LOAD segment of code at vaddr plus
// (optionally) a separate R-W data segment, entry at vaddr.
func buildELF(vaddr uint64, code []byte, dataVaddr uint64, data []byte) []byte {
	segs := []elftest.Segment{
		{Vaddr: vaddr, Flags: uint32(elf.PF_R | elf.PF_X), Data: code},
	}
	if len(data) > 0 {
		segs = append(segs, elftest.Segment{Vaddr: dataVaddr, Flags: uint32(elf.PF_R | elf.PF_W), Data: data})
	}
	return elftest.Build(vaddr, segs)
}

func TestHelloWorldCleanExit(t *testing.T) {
	const base = 0x10000
	code := putWords(nil,
		encodeADDI(10, 0, 42), // a0 = 42, the exit status
		encodeADDI(17, 0, sysExit),
		ecallWord,
	)
	elfBytes := buildELF(base, code, 0, nil)

	var exitCode uint64
	m, err := New(elfBytes, Options{
		Argv: []string{"hello"},
		Envp: nil,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.SetSyscallHandler(sysExit, func(m *Machine) {
		exitCode = m.Reg(10)
		m.Halt()
	})

	id := m.Run(1 << 20)
	if id != traps.OK {
		t.Fatalf("Run = %v, want OK", id)
	}
	if exitCode != 42 {
		t.Fatalf("exit code = %d, want 42", exitCode)
	}
	if m.ReturnValue() != 42 {
		t.Fatalf("ReturnValue() = %d, want 42", m.ReturnValue())
	}
}

func TestTightLoopTimesOut(t *testing.T) {
	const base = 0x10000
	var code []byte
	for i := 0; i < 64; i++ {
		code = putWords(code, encodeADDI(10, 10, 1))
	}
	elfBytes := buildELF(base, code, 0, nil)

	m, err := New(elfBytes, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const budget = 10
	id := m.Run(budget)
	if id != traps.Timeout {
		t.Fatalf("Run = %v, want Timeout", id)
	}
	if m.InstructionCounter() != budget {
		t.Fatalf("InstructionCounter() = %d, want %d", m.InstructionCounter(), budget)
	}
}

func TestMisalignedJumpFaults(t *testing.T) {
	const base = 0x10000
	// jal x1, 2 -- a halfword-aligned but not word-aligned target, invalid
	// for this (non-compressed) machine's 4-byte alignment requirement.
	jal := uint32(1)<<21 | uint32(1)<<7 | opJal
	code := putWords(nil, jal)
	elfBytes := buildELF(base, code, 0, nil)

	m, err := New(elfBytes, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id := m.Run(4)
	if id != traps.Faulted {
		t.Fatalf("Run = %v, want Faulted", id)
	}
	fe := m.FaultError()
	if fe == nil || fe.Kind != trap.MisalignedInstruction {
		t.Fatalf("FaultError = %v, want MisalignedInstruction", fe)
	}
}

// TestExecutionAcrossPageBoundary drives a program past its first execute
// page into its second, guarding against a decoder-cache offset computed
// relative to the wrong base (a multi-page segment shares one Cache across
// every page it covers).
func TestExecutionAcrossPageBoundary(t *testing.T) {
	const base = 0x10000
	const wordsPerPage = 4096 / 4

	var code []byte
	for i := 0; i < wordsPerPage; i++ {
		code = putWords(code, encodeADDI(10, 10, 1))
	}
	code = putWords(code, encodeADDI(17, 0, sysExit), ecallWord)

	elfBytes := buildELF(base, code, 0, nil)
	m, err := New(elfBytes, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var exitCode uint64
	m.SetSyscallHandler(sysExit, func(m *Machine) {
		exitCode = m.Reg(10)
		m.Halt()
	})

	id := m.Run(1 << 20)
	if id != traps.OK {
		fe := m.FaultError()
		t.Fatalf("Run = %v, fault = %v, want OK", id, fe)
	}
	if exitCode != wordsPerPage {
		t.Fatalf("exit code = %d, want %d (one increment per addi across both pages)", exitCode, wordsPerPage)
	}
}

func encodeLUI(rd uint32, imm20 uint32) uint32 {
	const opLui = 0x37
	return imm20<<12 | rd<<7 | opLui
}

func encodeSW(rs1, rs2 uint32, imm int32) uint32 {
	const opStore = 0x23
	const funct3SW = 0b010
	u := uint32(imm)
	imm11_5 := (u >> 5) & 0x7f
	imm4_0 := u & 0x1f
	return imm11_5<<25 | rs2<<20 | rs1<<15 | funct3SW<<12 | imm4_0<<7 | opStore
}

// TestGuestStoreToReadOnlyPageFaults exercises §8 property 9's guest-instruction
// leg: a real SW to a page mapped read-only must raise a protection fault and
// leave the page's contents untouched, the same as the memory-package-level
// write<T>/memcpy checks in internal/memory/memory_test.go.
func TestGuestStoreToReadOnlyPageFaults(t *testing.T) {
	const base, roAddr = 0x10000, 0x20000
	code := putWords(nil,
		encodeADDI(10, 0, 7),         // x10 = 7, the value we'll try to store
		encodeLUI(11, roAddr>>12),    // x11 = roAddr (lower 12 bits are zero)
		encodeSW(11, 10, 0),          // *(x11 + 0) = x10
	)
	roData := make([]byte, 4096)

	elfBytes := elftest.Build(base, []elftest.Segment{
		{Vaddr: base, Flags: uint32(elf.PF_R | elf.PF_X), Data: code},
		{Vaddr: roAddr, Flags: uint32(elf.PF_R), Data: roData},
	})

	m, err := New(elfBytes, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id := m.Run(3)
	if id != traps.Faulted {
		t.Fatalf("Run = %v, want Faulted", id)
	}
	fe := m.FaultError()
	if fe == nil || fe.Kind != trap.ProtectionFault {
		t.Fatalf("FaultError = %v, want ProtectionFault", fe)
	}

	got, err := m.Read(roAddr, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got[0] != 0 || got[1] != 0 || got[2] != 0 || got[3] != 0 {
		t.Fatalf("read-only page contents changed: got %v, want all zero", got)
	}
}

func TestForkIsolatesWrites(t *testing.T) {
	const base, dataAddr = 0x10000, 0x20000
	code := putWords(nil, encodeADDI(10, 0, 1))
	data := make([]byte, 4096)
	elfBytes := buildELF(base, code, dataAddr, data)

	m, err := New(elfBytes, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Write(dataAddr, []byte("parent")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	child := m.Fork()

	if err := child.Write(dataAddr, []byte("child!")); err != nil {
		t.Fatalf("child Write: %v", err)
	}

	parentGot, err := m.Read(dataAddr, 6)
	if err != nil {
		t.Fatalf("parent Read: %v", err)
	}
	if string(parentGot) != "parent" {
		t.Fatalf("parent data = %q, want %q (child's write must not leak back)", parentGot, "parent")
	}

	childGot, err := child.Read(dataAddr, 6)
	if err != nil {
		t.Fatalf("child Read: %v", err)
	}
	if string(childGot) != "child!" {
		t.Fatalf("child data = %q, want %q", childGot, "child!")
	}

	if child.Entry() != m.Entry() {
		t.Fatalf("child Entry() = %#x, want %#x (shares the parent's program image)", child.Entry(), m.Entry())
	}
}

// TestInstallSharedPageIsVisibleToBothMachines covers §8 end-to-end scenario
// 6 / property 5's sibling: two Machines sharing an RW page (§5, "writes to
// a shared RW page are visible to all sharers immediately"). One writes 42,
// the other reads 42 back through its own borrowed mapping of the same page.
func TestInstallSharedPageIsVisibleToBothMachines(t *testing.T) {
	const base, dataAddr = 0x10000, 0x20000
	code := putWords(nil, encodeADDI(10, 0, 1))
	data := make([]byte, 8)

	a, err := New(buildELF(base, code, dataAddr, data), Options{})
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	b, err := New(buildELF(base, code, dataAddr, data), Options{})
	if err != nil {
		t.Fatalf("New b: %v", err)
	}

	pageno := page.Number(dataAddr)
	if err := b.InstallSharedPage(pageno, a, true); err != nil {
		t.Fatalf("InstallSharedPage: %v", err)
	}

	if err := a.Write(dataAddr, []byte{42}); err != nil {
		t.Fatalf("a.Write: %v", err)
	}
	got, err := b.Read(dataAddr, 1)
	if err != nil {
		t.Fatalf("b.Read: %v", err)
	}
	if got[0] != 42 {
		t.Fatalf("b sees %d after a wrote 42, want 42 (shared RW page)", got[0])
	}

	if err := b.Write(dataAddr+1, []byte{7}); err != nil {
		t.Fatalf("b.Write: %v", err)
	}
	got, err = a.Read(dataAddr+1, 1)
	if err != nil {
		t.Fatalf("a.Read: %v", err)
	}
	if got[0] != 7 {
		t.Fatalf("a sees %d after b wrote 7, want 7 (visibility is bidirectional)", got[0])
	}
}

func TestInstallSharedPageReadOnlyRejectsWriteFromSharer(t *testing.T) {
	const base, dataAddr = 0x10000, 0x20000
	code := putWords(nil, encodeADDI(10, 0, 1))
	data := make([]byte, 8)

	a, err := New(buildELF(base, code, dataAddr, data), Options{})
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	b, err := New(buildELF(base, code, dataAddr, data), Options{})
	if err != nil {
		t.Fatalf("New b: %v", err)
	}

	pageno := page.Number(dataAddr)
	if err := b.InstallSharedPage(pageno, a, false); err != nil {
		t.Fatalf("InstallSharedPage: %v", err)
	}

	if err := b.Write(dataAddr, []byte{42}); err == nil {
		t.Fatal("expected a write through a read-only shared mapping to fail")
	}
}

func TestMmapGrowShrinkRoundTrip(t *testing.T) {
	const base = 0x10000
	code := putWords(nil, encodeADDI(10, 0, 1))
	elfBytes := buildELF(base, code, 0, nil)

	m, err := New(elfBytes, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a := m.MmapAllocate(8192)
	if err := m.Write(a, []byte("mmap-backed-data")); err != nil {
		t.Fatalf("Write into mmap region: %v", err)
	}
	got, err := m.Read(a, uint64(len("mmap-backed-data")))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "mmap-backed-data" {
		t.Fatalf("mmap round trip mismatch: got %q", got)
	}
	if !m.MmapUnmap(a, 8192) {
		t.Fatal("MmapUnmap should succeed on a span just allocated")
	}
	b := m.MmapAllocate(8192)
	if b != a {
		t.Fatalf("MmapAllocate after unmap = %#x, want reused address %#x", b, a)
	}
}

func TestSharedStdoutCallback(t *testing.T) {
	const base = 0x10000
	code := putWords(nil, encodeADDI(17, 0, sysWrite), ecallWord)
	elfBytes := buildELF(base, code, 0, nil)

	var captured []byte
	m, err := New(elfBytes, Options{
		Stdout: func(opaque interface{}, p []byte) {
			captured = append(captured, p...)
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.SetSyscallHandler(sysWrite, func(m *Machine) {
		m.Stdout([]byte("hi"))
		m.Halt()
	})

	id := m.Run(4)
	if id != traps.OK {
		t.Fatalf("Run = %v, want OK", id)
	}
	if string(captured) != "hi" {
		t.Fatalf("captured = %q, want %q", captured, "hi")
	}
}

func TestStopFromAnotherGoroutineYieldsHalted(t *testing.T) {
	const base = 0x10000
	var code []byte
	for i := 0; i < 1<<16; i++ {
		code = putWords(code, encodeADDI(10, 10, 1))
	}
	elfBytes := buildELF(base, code, 0, nil)

	m, err := New(elfBytes, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	<-done
	id := m.Run(1 << 30)
	if id != traps.Halted {
		t.Fatalf("Run = %v, want Halted", id)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	const base = 0x10000
	var code []byte
	for i := 0; i < 1<<16; i++ {
		code = putWords(code, encodeADDI(10, 10, 1))
	}
	elfBytes := buildELF(base, code, 0, nil)

	m, err := New(elfBytes, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.Stop()
	m.Stop()
	id := m.Run(1 << 30)
	if id != traps.Halted {
		t.Fatalf("Run after double Stop() = %v, want Halted", id)
	}
}

func TestUnhandledErrorCallbackReceivesFault(t *testing.T) {
	const base = 0x10000
	code := putWords(nil, encodeADDI(17, 0, 7), ecallWord)
	elfBytes := buildELF(base, code, 0, nil)

	var gotKind int
	m, err := New(elfBytes, Options{
		Error: func(opaque interface{}, kind int, message string, data uint64) {
			gotKind = kind
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id := m.Run(4)
	if id != traps.Faulted {
		t.Fatalf("Run = %v, want Faulted", id)
	}
	if trap.Kind(gotKind) != trap.UnhandledSyscall {
		t.Fatalf("Error callback kind = %v, want UnhandledSyscall", trap.Kind(gotKind))
	}
}

// TestDeterminism covers §8 property 10: two Machines built from identical
// ELF bytes and options, driven by syscall handlers with no hidden state,
// reach identical register and memory states.
func TestDeterminism(t *testing.T) {
	const base = 0x10000
	const dataAddr = 0x20000
	code := putWords(nil,
		encodeADDI(10, 0, 5),
		encodeADDI(11, 10, 3),
		encodeLUI(12, dataAddr>>12),
		encodeSW(12, 11, 0),
		encodeADDI(17, 0, sysExit),
		ecallWord,
	)
	elfBytes := buildELF(base, code, dataAddr, make([]byte, 4))

	run := func() (regs [3]uint64, mem []byte) {
		m, err := New(elfBytes, Options{})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		m.SetSyscallHandler(sysExit, func(m *Machine) { m.Halt() })
		if id := m.Run(1 << 10); id != traps.OK {
			t.Fatalf("Run = %v, want OK", id)
		}
		regs = [3]uint64{m.Reg(10), m.Reg(11), m.Reg(12)}
		mem, err = m.Read(dataAddr, 4)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		return regs, mem
	}

	regsA, memA := run()
	regsB, memB := run()

	if regsA != regsB {
		t.Fatalf("registers diverged: %v vs %v", regsA, regsB)
	}
	if string(memA) != string(memB) {
		t.Fatalf("memory diverged: %x vs %x", memA, memB)
	}
}
