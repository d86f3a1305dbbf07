package script

import (
	"debug/elf"
	"testing"

	rv "github.com/iningz/libriscv"
	"github.com/iningz/libriscv/internal/elftest"
)

const (
	opOpImm  = 0x13
	opSystem = 0x73

	sysDouble = 50
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

// newTestMachine builds a Machine whose guest program loads a0=21, a7=sysDouble,
// then ECALLs -- the minimal shape a Lua-installed handler needs to answer.
func newTestMachine(t *testing.T) *rv.Machine {
	t.Helper()
	const base = 0x10000
	code := putWords(nil,
		encodeADDI(10, 0, 21),
		encodeADDI(17, 0, sysDouble),
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

func TestLoadRejectsMissingEcallsTable(t *testing.T) {
	e, err := Load(`x = 1`)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer e.Close()

	m := newTestMachine(t)
	if err := e.Install(m); err == nil {
		t.Fatal("expected Install to fail without a global ecalls table")
	}
}

func TestLoadRejectsSyntaxError(t *testing.T) {
	if _, err := Load(`this is not lua (`); err == nil {
		t.Fatal("expected Load to reject a malformed chunk")
	}
}

func TestInstallAdaptsLuaFunctionToSyscallHandler(t *testing.T) {
	e, err := Load(`
		ecalls = {
			[50] = function(a0, a1, a2, a3, a4, a5, a6, a7)
				return a0 * 2
			end
		}
	`)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer e.Close()

	m := newTestMachine(t)
	if err := e.Install(m); err != nil {
		t.Fatalf("Install: %v", err)
	}

	// The guest program has no instruction after the ecall, so the run
	// faults once it falls off the end of the segment; only a0's value,
	// written by the Lua handler before that, matters here.
	m.Run(64)
	if m.Reg(10) != 42 {
		t.Fatalf("a0 after Lua handler = %d, want 42 (21 doubled)", m.Reg(10))
	}
}

func TestInstallRejectsNonFunctionEntry(t *testing.T) {
	e, err := Load(`ecalls = { [50] = "not a function" }`)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer e.Close()

	m := newTestMachine(t)
	if err := e.Install(m); err == nil {
		t.Fatal("expected Install to reject a non-function ecalls entry")
	}
}

func TestInstallRejectsNonNumericKey(t *testing.T) {
	e, err := Load(`ecalls = { foo = function() return 0 end }`)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer e.Close()

	m := newTestMachine(t)
	if err := e.Install(m); err == nil {
		t.Fatal("expected Install to reject a non-numeric ecalls key")
	}
}

func TestAdaptSwallowsLuaRuntimeErrorWithoutPanicking(t *testing.T) {
	e, err := Load(`
		ecalls = {
			[50] = function(a0) error("boom") end
		}
	`)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer e.Close()

	m := newTestMachine(t)
	if err := e.Install(m); err != nil {
		t.Fatalf("Install: %v", err)
	}

	// a0 must be left exactly as the guest set it (21): a failing Lua call
	// must not propagate into a Go panic, and adapt must not write back a
	// result it never got.
	m.Run(64)
	if m.Reg(10) != 21 {
		t.Fatalf("a0 after erroring Lua handler = %d, want unchanged 21", m.Reg(10))
	}
}
