package rv

import (
	"fmt"

	"github.com/iningz/libriscv/internal/cpu"
	"github.com/iningz/libriscv/internal/exec"
	"github.com/iningz/libriscv/internal/loader"
	"github.com/iningz/libriscv/internal/machineerr"
	"github.com/iningz/libriscv/internal/memory"
	"github.com/iningz/libriscv/internal/page"
	"github.com/iningz/libriscv/internal/translate"
	"github.com/iningz/libriscv/trap"
	"github.com/iningz/libriscv/traps"
)

// SyscallHandler answers an ECALL trapped while running the guest. Argument
// registers a0..a6 are read via m.Reg; the handler reports a result via
// m.SetReg(10, ...) before returning.
type SyscallHandler func(m *Machine)

// Machine is one guest RISC-V hart plus its address space: the CPU and
// Memory the rest of this module drives, and the bookkeeping New needs to
// build them from an ELF image (§4.6).
type Machine struct {
	cpu *cpu.CPU
	mem *memory.Memory
	img *loader.Image

	opts Options

	spent int64

	translator translate.Provider
}

// New parses elfBytes as a RISC-V ELF executable, materialises its segments
// into a fresh guest address space, and returns a Machine ready to Run.
// Zero-valued fields of opts are replaced with effective defaults, the same
// convention the teacher's compile.Config documents for a compiler
// invocation.
func New(elfBytes []byte, opts Options) (*Machine, error) {
	opts = opts.effective()

	mem := memory.New(opts.MaxMemory, opts.AllowWriteExecSegment)
	// A lazily-faulted mmap region (§4.2.2) has no page until first touch;
	// materialise it as a private, zeroed, read-write page on demand, the
	// same anonymous-mapping semantics MmapAllocate's doc comment promises.
	mem.SetPageFaultHandler(func(mem *memory.Memory, pageno uint64) (*page.Page, error) {
		return mem.CreatePage(pageno, page.Attr{Read: true, Write: true})
	})

	img, err := loader.Load(mem, elfBytes, loader.Options{
		StackSize:  opts.StackSize,
		Argv:       opts.Argv,
		Envp:       opts.Envp,
		Compressed: opts.Compressed,
	})
	if err != nil {
		return nil, fmt.Errorf("rv: %w", err)
	}

	if opts.UseMemoryArena {
		if err := enableArena(mem, img); err != nil {
			return nil, fmt.Errorf("rv: %w", err)
		}
	}

	c := cpu.New(mem, opts.Compressed)
	c.SetPC(mem.StartAddress())
	c.SetStackPointer(mem.StackInitial())

	m := &Machine{
		cpu:  c,
		mem:  mem,
		img:  img,
		opts: opts,
	}

	return m, nil
}

func enableArena(mem *memory.Memory, img *loader.Image) error {
	heap := mem.HeapAddress()
	pages := page.Number(heap + page.Size - 1)
	if pages == 0 {
		return nil
	}
	// A simplification over the original's separate rodata/data
	// boundaries within the arena (§4.2): this loader doesn't track
	// where rodata ends and writable data begins, so the whole
	// [0, heap) range is both arena-readable and arena-writable. The
	// per-page Attr map (consulted by the non-arena path and by every
	// guest store instruction) still enforces the real W/X permissions;
	// only the bulk-copy fast path is widened.
	if err := mem.EnableArena(pages, heap, 0, heap); err != nil {
		return err
	}
	for pn := uint64(0); pn < pages; pn++ {
		p, ok := mem.PageAt(pn)
		if !ok {
			continue
		}
		copy(mem.ArenaBytes(pn), p.Data())
	}
	return nil
}

// SetSyscallHandler installs h as the handler for ECALL number n, replacing
// any previous handler for that number (§4.6). The handler is looked up by
// the value in a7 at ECALL time.
func (m *Machine) SetSyscallHandler(n uint64, h SyscallHandler) {
	m.cpu.SetSyscallHandler(n, func(exec.Core) { h(m) })
}

// SetUnhandledSyscallHandler installs the fallback invoked when a7 names no
// registered handler. A nil handler restores the default (raise
// trap.UnhandledSyscall).
func (m *Machine) SetUnhandledSyscallHandler(h SyscallHandler) {
	if h == nil {
		m.cpu.SetUnhandledSyscallHandler(nil)
		return
	}
	m.cpu.SetUnhandledSyscallHandler(func(exec.Core) { h(m) })
}

// SetTranslateProvider stores a binary-translation collaborator (§4.5); nil
// clears it. Machine never calls into the stored Provider: decoder caches
// always hold the interpreted handlers, whatever Options.BinaryTranslation
// says.
func (m *Machine) SetTranslateProvider(p translate.Provider) {
	m.translator = p
}

// Run drives the dispatch loop for at most budget instructions, returning
// the outcome (§4.6, §8 property 8). The Machine remains resumable after
// Timeout: calling Run again with more budget continues from where it
// stopped.
func (m *Machine) Run(budget int64) traps.Id {
	id, spent := m.cpu.Run(budget)
	m.spent = spent
	m.report(id)
	return id
}

// StepOne executes exactly one instruction and reports why the loop, such
// as it was, ended.
func (m *Machine) StepOne() traps.Id {
	id, spent := m.cpu.Run(1)
	m.spent = spent
	m.report(id)
	return id
}

// Stdout forwards p to the host's Options.Stdout callback, if one was
// configured; a SyscallHandler for the guest's write-to-stdout ECALL calls
// this instead of retaining its own reference to the callback. A no-op when
// no callback was configured.
func (m *Machine) Stdout(p []byte) {
	if m.opts.Stdout != nil {
		m.opts.Stdout(m.opts.Opaque, p)
	}
}

func (m *Machine) report(id traps.Id) {
	if id != traps.Faulted || m.opts.Error == nil {
		return
	}
	if fe := m.cpu.FaultError(); fe != nil {
		m.opts.Error(m.opts.Opaque, int(fe.Kind), fe.Error(), fe.Data)
	}
}

// Stop requests that the dispatch loop halt at the top of its next
// iteration (§5: "a single relaxed atomic write"). Safe to call from any
// goroutine, and idempotent (§8 property 7): calling it again before the
// loop observes the first request has no additional effect. Run reports
// this as traps.Halted.
func (m *Machine) Stop() {
	m.cpu.RequestStop()
}

// Halt ends the dispatch loop after the current instruction and reports
// traps.OK, the outcome for a guest-initiated clean exit (e.g. a SyscallHandler
// for the guest's exit syscall). Unlike Stop, this must be called from
// within a SyscallHandler running on the dispatch loop's own goroutine.
func (m *Machine) Halt() {
	m.cpu.Stop(true)
}

// Reg reads integer register i (0 always reads zero, §8 property 1).
func (m *Machine) Reg(i int) uint64 { return m.cpu.Reg(i) }

// SetReg writes integer register i (writes to 0 are discarded).
func (m *Machine) SetReg(i int, v uint64) { m.cpu.SetReg(i, v) }

// PC returns the current program counter.
func (m *Machine) PC() uint64 { return m.cpu.PC() }

// SetPC overwrites the program counter.
func (m *Machine) SetPC(pc uint64) { m.cpu.SetPC(pc) }

// FpRegs returns the floating-point register file (§6: "Register accessors
// (regs, pc, fp_regs)"). Always empty: this module targets RV64IMAC, which
// carries no F or D extension state, so there is nothing to report.
func (m *Machine) FpRegs() []uint64 { return nil }

// ReturnValue reads register a0 (x10), the RISC-V ABI's single-word return
// slot, the same register an ECALL result is reported through.
func (m *Machine) ReturnValue() uint64 { return m.cpu.Reg(10) }

// InstructionCounter reports how many instructions the most recent Run or
// StepOne call actually executed.
func (m *Machine) InstructionCounter() int64 { return m.spent }

// FaultError returns the machine exception raised during the most recent
// run, or nil if the run ended for any other reason.
func (m *Machine) FaultError() *machineerr.Error { return m.cpu.FaultError() }

// Strerror renders kind as a human-readable string (§6).
func (m *Machine) Strerror(kind trap.Kind) string { return kind.String() }

// Read copies length bytes of guest memory at addr into a fresh buffer
// (memory.read, §6).
func (m *Machine) Read(addr, length uint64) ([]byte, error) { return m.mem.MemcpyOut(addr, length) }

// Write copies p into guest memory at addr (memory.write, §6).
func (m *Machine) Write(addr uint64, p []byte) error { return m.mem.Memcpy(addr, p) }

// Memcpy copies src into guest memory at dst.
func (m *Machine) Memcpy(dst uint64, src []byte) error { return m.mem.Memcpy(dst, src) }

// MemcpyOut copies length bytes of guest memory at src into a fresh buffer.
func (m *Machine) MemcpyOut(src, length uint64) ([]byte, error) { return m.mem.MemcpyOut(src, length) }

// Memstring reads a NUL-terminated guest string at addr, bounded by maxLen.
func (m *Machine) Memstring(addr uint64, maxLen int) (string, error) {
	return m.mem.Memstring(addr, maxLen)
}

// MmapAllocate reserves bytes of guest address space above the heap.
func (m *Machine) MmapAllocate(bytes uint64) uint64 { return m.mem.MmapAllocate(bytes) }

// MmapUnmap frees a previous mmap allocation.
func (m *Machine) MmapUnmap(addr, size uint64) bool { return m.mem.MmapUnmap(addr, size) }

// InstallSharedPage shares a page from src's address space into this one
// (§5 resource sharing).
func (m *Machine) InstallSharedPage(pageno uint64, src *Machine, writable bool) error {
	p, ok := src.mem.PageAt(pageno)
	if !ok {
		return fmt.Errorf("rv: no page %d in source machine", pageno)
	}
	m.mem.InstallSharedPage(pageno, p, writable)
	return nil
}

// Fork returns a new Machine sharing this one's program image but with every
// writable owned page of m marked copy-on-write in both: the first write on
// either side materialises a private copy, leaving the other unaffected (§5,
// §8 property 5). Read-only owned pages are shared without copy-on-write.
func (m *Machine) Fork() *Machine {
	childMem := memory.New(m.opts.MaxMemory, m.opts.AllowWriteExecSegment)
	childMem.SetPageFaultHandler(func(mem *memory.Memory, pageno uint64) (*page.Page, error) {
		return mem.CreatePage(pageno, page.Attr{Read: true, Write: true})
	})
	childMem.ForkFrom(m.mem)

	c := cpu.New(childMem, m.opts.Compressed)
	for i := 1; i < 32; i++ {
		c.SetReg(i, m.cpu.Reg(i))
	}
	c.SetPC(m.cpu.PC())

	return &Machine{cpu: c, mem: childMem, img: m.img, opts: m.opts}
}

// Entry returns the guest entry point address the ELF header named.
func (m *Machine) Entry() uint64 { return m.img.Entry }
