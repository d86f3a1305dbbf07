// Package cpu implements architectural state and the instruction dispatch
// loop (§4.4): 32 integer registers, the program counter, a small rolling
// cache of recently executed pages, and the budget/stop/fault bookkeeping
// Machine needs to drive a run. CPU implements internal/exec.Core so
// internal/rv64's handlers can mutate it without this package or that one
// importing the other's concrete type.
package cpu

import (
	"sync/atomic"

	"github.com/iningz/libriscv/internal/exec"
	"github.com/iningz/libriscv/internal/machineerr"
	"github.com/iningz/libriscv/internal/memory"
	"github.com/iningz/libriscv/internal/page"
	"github.com/iningz/libriscv/internal/rv64"
	"github.com/iningz/libriscv/trap"
	"github.com/iningz/libriscv/traps"
)

// pageCacheSlots is the CPU's small round-robin cache of recently executed
// pages (§3, "m_page_cache[K]"), distinct from Memory's own read/write cache.
const pageCacheSlots = 4

// SyscallHandler answers an ECALL. c is the CPU that trapped; handlers read
// a7 for the syscall number (already done by the caller) and a0..a6 for
// arguments via c.Reg, and report a result via c.SetReg(10 /* a0 */, ...).
type SyscallHandler func(c exec.Core)

type cachedPage struct {
	pageno uint64
	page   *page.Page
	valid  bool
}

// CPU holds one guest hart's architectural state.
type CPU struct {
	regs [32]uint64
	pc   uint64

	mem *memory.Memory

	current     cachedPage
	pageCache   [pageCacheSlots]cachedPage
	cacheCursor int

	budget  int64
	stopped bool
	outcome traps.Id
	fault   *machineerr.Error

	syscalls         map[uint64]SyscallHandler
	unhandledSyscall SyscallHandler

	compressedEnabled bool

	// externalStop is set by RequestStop from any goroutine (§5: "a single
	// relaxed atomic write") and polled at the top of each dispatch
	// iteration, distinct from the in-loop Stop(halted) a handler calls.
	externalStop atomic.Bool
}

// New constructs a CPU bound to mem. compressedEnabled selects the PC
// alignment invariant (§3): 2-byte when the C extension is in play, 4-byte
// otherwise.
func New(mem *memory.Memory, compressedEnabled bool) *CPU {
	return &CPU{
		mem:               mem,
		syscalls:          make(map[uint64]SyscallHandler),
		compressedEnabled: compressedEnabled,
	}
}

func (c *CPU) Reg(i int) uint64 {
	if i == 0 {
		return 0
	}
	return c.regs[i&0x1f]
}

func (c *CPU) SetReg(i int, v uint64) {
	if i == 0 {
		return
	}
	c.regs[i&0x1f] = v
}

func (c *CPU) PC() uint64     { return c.pc }
func (c *CPU) SetPC(pc uint64) { c.pc = pc }

func (c *CPU) Mem() exec.MemoryAccessor { return c.mem }

// Memory returns the concrete Memory backing this CPU, for callers (Machine,
// the loader) that need more than the narrow exec.MemoryAccessor surface.
func (c *CPU) Memory() *memory.Memory { return c.mem }

func (c *CPU) Fault(kind trap.Kind, data uint64) {
	c.fault = machineerr.New(kind, c.pc, data)
	c.stopped = true
	c.outcome = traps.Faulted
}

// Stop ends the dispatch loop after the current instruction. halted=true is
// the ECALL-driven clean exit (the guest jumped to or called the exit
// sentinel) and reports traps.OK, matching "the guest called the exit
// address... with no error"; halted=false reports traps.Halted, for a
// handler-initiated stop that isn't a program exit.
func (c *CPU) Stop(halted bool) {
	c.stopped = true
	if halted {
		c.outcome = traps.OK
	} else {
		c.outcome = traps.Halted
	}
}

// Stopped reports whether Fault or Stop has already ended the current run.
func (c *CPU) Stopped() bool { return c.stopped }

// RequestStop sets the cross-goroutine stop flag Machine.Stop exposes to a
// host thread other than the one running the dispatch loop; the loop
// observes it at the top of its next iteration and exits with traps.Halted.
func (c *CPU) RequestStop() { c.externalStop.Store(true) }

// Syscall dispatches the ECALL at the current pc: a7 (x17) selects the
// handler, with a fallback for unregistered numbers (§4.6).
func (c *CPU) Syscall() {
	n := c.Reg(17)
	if h, ok := c.syscalls[n]; ok {
		h(c)
		return
	}
	if c.unhandledSyscall != nil {
		c.unhandledSyscall(c)
		return
	}
	c.Fault(trap.UnhandledSyscall, n)
}

// SetSyscallHandler installs h for ECALL number n, replacing any previous
// handler for that number.
func (c *CPU) SetSyscallHandler(n uint64, h SyscallHandler) {
	c.syscalls[n] = h
}

// SetUnhandledSyscallHandler installs the fallback invoked when a7 names no
// registered handler. A nil handler restores the default (raise
// UnhandledSyscall).
func (c *CPU) SetUnhandledSyscallHandler(h SyscallHandler) {
	c.unhandledSyscall = h
}

// Reset clears transient per-run state (fault, stop flag, outcome) without
// touching registers, pc or the installed syscall table.
func (c *CPU) Reset() {
	c.fault = nil
	c.stopped = false
	c.outcome = traps.OK
}

func (c *CPU) SetStackPointer(v uint64) { c.SetReg(2, v) }

// FaultError returns the machine exception raised during the most recent run, or
// nil if the run ended for any other reason.
func (c *CPU) FaultError() *machineerr.Error { return c.fault }

func (c *CPU) alignMask() uint64 {
	if c.compressedEnabled {
		return 1
	}
	return 3
}

// Run drives the dispatch loop for at most budget instructions (§4.4),
// returning the outcome and instructions actually consumed.
func (c *CPU) Run(budget int64) (traps.Id, int64) {
	c.stopped = false
	c.outcome = traps.OK
	c.budget = budget
	spent := c.runLoop()
	return c.outcome, spent
}

// StepOne executes exactly one instruction and reports why the loop, such as
// it was, ended.
func (c *CPU) StepOne() traps.Id {
	c.stopped = false
	c.outcome = traps.OK
	c.budget = 1
	c.runLoop()
	return c.outcome
}

func (c *CPU) runLoop() (spent int64) {
	if c.pc&c.alignMask() != 0 {
		c.Fault(trap.MisalignedInstruction, c.pc)
		return 0
	}

	for ; c.budget > 0; c.budget-- {
		if c.stopped {
			return spent
		}
		if c.externalStop.Load() {
			c.externalStop.Store(false)
			c.stopped = true
			c.outcome = traps.Halted
			return spent
		}

		if err := c.dispatchOne(); err != nil {
			c.fault = toMachineError(err)
			c.stopped = true
			c.outcome = traps.Faulted
			return spent
		}
		spent++

		if c.pc&c.alignMask() != 0 {
			c.Fault(trap.MisalignedInstruction, c.pc)
			return spent
		}
	}

	if !c.stopped {
		c.outcome = traps.Timeout
	}
	return spent
}

// dispatchOne performs one full fetch/decode-cache-lookup/execute step
// (§4.4 steps 1-3), recovering an access-path panic raised by Memory's
// MemoryAccessor methods (internal/memory.Recover) into a returned error.
func (c *CPU) dispatchOne() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := memory.Recover(r); ok {
				err = rerr
				return
			}
			panic(r)
		}
	}()

	if exitAddr := c.mem.ExitAddress(); exitAddr != 0 && c.pc == exitAddr {
		c.Stop(true)
		return nil
	}

	pageno := page.Number(c.pc)
	if !c.current.valid || c.current.pageno != pageno {
		if err := c.changePage(pageno); err != nil {
			return err
		}
	}

	cache := c.current.page.Cache
	if cache == nil {
		if err := c.generateCacheFor(c.current.page); err != nil {
			return err
		}
		cache = c.current.page.Cache
	}

	offset := c.pc - c.current.page.CacheBase
	slot := cache.SlotFor(offset)
	if slot == nil || slot.Handler == nil {
		return machineerr.New(trap.MisalignedInstruction, c.pc, c.pc)
	}

	slot.Handler(c, slot)
	return nil
}

// changePage installs pageno as the current fetch page, consulting the
// small round-robin cache first (mirrors CPU<W>::change_page).
func (c *CPU) changePage(pageno uint64) error {
	for i := range c.pageCache {
		if c.pageCache[i].valid && c.pageCache[i].pageno == pageno {
			c.current = c.pageCache[i]
			return nil
		}
	}

	p, err := c.mem.ExecPageAt(pageno)
	if err != nil {
		return err
	}

	entry := cachedPage{pageno: pageno, page: p, valid: true}
	c.current = entry
	c.pageCache[c.cacheCursor%pageCacheSlots] = entry
	c.cacheCursor++
	return nil
}

// generateCacheFor lazily builds and attaches a decoder cache for a page
// that has none yet (an executable page materialised after ELF load, e.g.
// by mmap, never went through CreateExecuteSegment).
func (c *CPU) generateCacheFor(p *page.Page) error {
	base := p.Pageno * page.Size
	nextPageExec := func(pageno uint64) ([]byte, bool) {
		np, ok := c.mem.PageAt(pageno)
		if !ok || !np.Attr.Exec {
			return nil, false
		}
		return np.Data(), true
	}
	cache := rv64.GenerateCache(p.Data(), base, c.compressedEnabled, nextPageExec)
	p.AttachCache(cache, base)
	return nil
}

func toMachineError(err error) *machineerr.Error {
	if me, ok := err.(*machineerr.Error); ok {
		return me
	}
	return machineerr.Newf(trap.InvalidProgram, 0, 0, err, "%s", err.Error())
}
