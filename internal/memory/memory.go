// Package memory implements the paged guest address space: the sparse page
// table, the flat arena fast path, the small page cache, the mmap-like
// allocator, and the execute-segment table. See SPEC_FULL.md §3/§4.2.
package memory

import (
	"github.com/iningz/libriscv/internal/page"
	"github.com/iningz/libriscv/trap"
)

// MaxExecuteSegs bounds the number of execute segments a Memory tracks
// strong references to (§3, "Up to MAX_EXECUTE_SEGS (default 8)").
const MaxExecuteSegs = 8

// cacheSlots is the capacity of the direct-mapped read/write page cache.
const cacheSlots = 4

// PageFaultHandler is invoked when a write targets a pageno with no
// registered page. It must return a writable page for that pageno.
type PageFaultHandler func(m *Memory, pageno uint64) (*page.Page, error)

// PageReadFaultHandler is invoked when a read targets a pageno with no
// registered page. The default returns a shared zero page.
type PageReadFaultHandler func(m *Memory, pageno uint64) (*page.Page, error)

// PageWriteHandler resolves a write against a page marked copy-on-write (or
// otherwise not directly writable), returning the page to write through.
type PageWriteHandler func(m *Memory, pageno uint64, p *page.Page) (*page.Page, error)

type cacheEntry struct {
	pageno uint64
	pg     *page.Page
	valid  bool
}

// Memory owns the guest's page table plus everything needed to translate a
// guest address into host bytes.
type Memory struct {
	pages map[uint64]*page.Page

	startAddress uint64
	stackAddress uint64
	exitAddress  uint64
	heapAddress  uint64
	mmapAddress  uint64
	mmapStart    uint64

	rdCache [cacheSlots]cacheEntry
	wrCache [cacheSlots]cacheEntry

	arena arena

	execSegs    [MaxExecuteSegs]*ExecuteSegment
	execSegCnt  int
	execSegNext int // round-robin eviction cursor

	mmapCache mmapCache

	pageFault     PageFaultHandler
	pageReadFault PageReadFaultHandler
	pageWrite     PageWriteHandler

	binary []byte

	maxBytes    uint64
	ownedBytes  uint64
	allowWX     bool
	isForked    bool

	resv reservation
}

// New constructs an empty Memory. Callers (internal/loader) populate it via
// CreatePage/SetAttr/CreateExecuteSegment before handing it to a CPU.
func New(maxMemory uint64, allowWriteExecSegment bool) *Memory {
	m := &Memory{
		pages:   make(map[uint64]*page.Page),
		maxBytes: maxMemory,
		allowWX: allowWriteExecSegment,
	}
	m.pageWrite = defaultPageWriteHandler
	m.pageReadFault = defaultPageReadFaultHandler
	return m
}

func defaultPageReadFaultHandler(m *Memory, pageno uint64) (*page.Page, error) {
	// A read from unmapped memory sees zeros, matching a fresh mmap
	// region before it is touched; it does not install a page (so a
	// later write still goes through the normal fault path).
	return zeroPage(pageno), nil
}

var sharedZero = make([]byte, page.Size)

func zeroPage(pageno uint64) *page.Page {
	return page.NewBorrowed(pageno, sharedZero, page.Attr{Read: true})
}

func defaultPageWriteHandler(m *Memory, pageno uint64, p *page.Page) (*page.Page, error) {
	// Resolving CoW materialises a page this Memory uniquely owns where it
	// previously only held a shared pointer (a forked child's view of a
	// parent page, §4.1): account it against max_memory exactly as
	// CreatePage would, so repeated CoW faults can't bypass the budget.
	if m.maxBytes != 0 && m.ownedBytes+page.Size > m.maxBytes {
		return nil, machineError(trap.OutOfMemory, 0, page.Size, "cow resolution exceeds max_memory")
	}
	np := p.ResolveCow()
	m.pages[pageno] = np
	m.ownedBytes += page.Size
	m.invalidateCache(pageno)
	return np, nil
}

// SetPageFaultHandler installs h, returning the previous handler.
func (m *Memory) SetPageFaultHandler(h PageFaultHandler) PageFaultHandler {
	old := m.pageFault
	m.pageFault = h
	return old
}

// SetPageReadFaultHandler installs h, returning the previous handler.
func (m *Memory) SetPageReadFaultHandler(h PageReadFaultHandler) PageReadFaultHandler {
	old := m.pageReadFault
	m.pageReadFault = h
	return old
}

// SetPageWriteHandler installs h for copy-on-write resolution.
func (m *Memory) SetPageWriteHandler(h PageWriteHandler) {
	m.pageWrite = h
}

// SetBinary stores a borrowed reference to the original ELF bytes; Memory
// does not copy or retain ownership beyond the reference.
func (m *Memory) SetBinary(b []byte) { m.binary = b }

// Binary returns the ELF bytes the loader populated this Memory from.
func (m *Memory) Binary() []byte { return m.binary }

func (m *Memory) StartAddress() uint64     { return m.startAddress }
func (m *Memory) SetStartAddress(a uint64) { m.startAddress = a }
func (m *Memory) StackInitial() uint64     { return m.stackAddress }
func (m *Memory) SetStackInitial(a uint64) { m.stackAddress = a }
func (m *Memory) ExitAddress() uint64      { return m.exitAddress }
func (m *Memory) SetExitAddress(a uint64)  { m.exitAddress = a }
func (m *Memory) HeapAddress() uint64      { return m.heapAddress }
func (m *Memory) SetHeapAddress(a uint64) {
	m.heapAddress = a
	m.mmapStart = a
	m.mmapAddress = a
}

// invalidateCache drops any read/write cache entry referring to pageno,
// called on every page mutation (§3, "invalidated on every page mutation or
// teardown").
func (m *Memory) invalidateCache(pageno uint64) {
	slot := pageno % cacheSlots
	if m.rdCache[slot].valid && m.rdCache[slot].pageno == pageno {
		m.rdCache[slot].valid = false
	}
	if m.wrCache[slot].valid && m.wrCache[slot].pageno == pageno {
		m.wrCache[slot].valid = false
	}
}

// InvalidateAll drops the entire page cache, used on teardown and by forks.
func (m *Memory) InvalidateAll() {
	for i := range m.rdCache {
		m.rdCache[i].valid = false
	}
	for i := range m.wrCache {
		m.wrCache[i].valid = false
	}
}

// getReadPage returns the page backing pageno for a read, consulting the
// cache before the sparse map, and falling back to the read-fault handler.
func (m *Memory) getReadPage(pageno uint64) (*page.Page, error) {
	slot := pageno % cacheSlots
	if e := &m.rdCache[slot]; e.valid && e.pageno == pageno {
		return e.pg, nil
	}
	p, ok := m.pages[pageno]
	if !ok {
		var err error
		p, err = m.pageReadFault(m, pageno)
		if err != nil {
			return nil, err
		}
	}
	m.rdCache[slot] = cacheEntry{pageno: pageno, pg: p, valid: true}
	return p, nil
}

// getWritePage returns a writable page backing pageno, resolving
// copy-on-write and invoking the page-fault handler for unmapped pagenos.
func (m *Memory) getWritePage(pageno uint64) (*page.Page, error) {
	slot := pageno % cacheSlots
	if e := &m.wrCache[slot]; e.valid && e.pageno == pageno && e.pg.Attr.Write {
		return e.pg, nil
	}
	p, ok := m.pages[pageno]
	if !ok {
		if m.pageFault == nil {
			return nil, machineError(trap.OutOfMemory, 0, pageno*page.Size, "no page fault handler installed")
		}
		var err error
		p, err = m.pageFault(m, pageno)
		if err != nil {
			return nil, err
		}
		m.pages[pageno] = p
	}
	if p.Attr.Cow {
		np, err := m.pageWrite(m, pageno, p)
		if err != nil {
			return nil, err
		}
		p = np
	}
	if !p.Attr.Write {
		return nil, machineError(trap.ProtectionFault, 0, pageno*page.Size, "write to read-only page")
	}
	m.wrCache[slot] = cacheEntry{pageno: pageno, pg: p, valid: true}
	m.rdCache[slot] = cacheEntry{}
	return p, nil
}

// PageAt returns the page for pageno if one is registered, without faulting
// it in. Used by the CPU's executable-page lookup (§4.4 step 1).
func (m *Memory) PageAt(pageno uint64) (*page.Page, bool) {
	p, ok := m.pages[pageno]
	return p, ok
}

// ExecPageAt returns the page for pageno, requiring it be executable.
// Raises ExecutionSpaceProtectionFault otherwise.
func (m *Memory) ExecPageAt(pageno uint64) (*page.Page, error) {
	p, ok := m.pages[pageno]
	if !ok || !p.Attr.Exec {
		return nil, machineError(trap.ExecutionSpaceProtectionFault, 0, pageno*page.Size, "no executable page")
	}
	return p, nil
}

// CreatePage installs an owned, zeroed page at pageno with the given
// attributes, accounting it against the memory budget. If pageno already
// holds an owned page, that page keeps its contents and only its attributes
// are replaced.
func (m *Memory) CreatePage(pageno uint64, attr page.Attr) (*page.Page, error) {
	attr = m.clampWX(attr)
	if existing, ok := m.pages[pageno]; ok && existing.Owned() {
		existing.Attr = attr
		return existing, nil
	}
	if m.maxBytes != 0 && m.ownedBytes+page.Size > m.maxBytes {
		return nil, machineError(trap.OutOfMemory, 0, page.Size, "page allocation exceeds max_memory")
	}
	p := page.NewOwned(pageno, attr)
	m.pages[pageno] = p
	m.ownedBytes += page.Size
	m.invalidateCache(pageno)
	return p, nil
}

// InstallSharedPage installs a borrowed reference to another Memory's page,
// for cross-Machine sharing (§5). It replaces whatever page was mapped at
// pageno, owned or not.
func (m *Memory) InstallSharedPage(pageno uint64, src *page.Page, writable bool) *page.Page {
	attr := page.Attr{Read: true, Write: writable, Shared: true}
	np := page.NewBorrowed(pageno, src.Data(), attr)
	m.pages[pageno] = np
	m.invalidateCache(pageno)
	return np
}

// SetAttr applies attr to every page covering [addr, addr+length).
func (m *Memory) SetAttr(addr, length uint64, attr page.Attr) {
	attr = m.clampWX(attr)
	start := page.Number(addr)
	end := page.Number(addr + length + page.Size - 1)
	for pn := start; pn < end; pn++ {
		if p, ok := m.pages[pn]; ok {
			p.Attr = attr
			m.invalidateCache(pn)
		}
	}
}

// clampWX enforces the allow_write_exec_segment option (§6): by default a
// page may not be simultaneously writable and executable, matching the
// W^X convention the loader and JIT patching path must both respect.
// Write loses to Exec when the combination isn't explicitly allowed.
func (m *Memory) clampWX(attr page.Attr) page.Attr {
	if !m.allowWX && attr.Write && attr.Exec {
		attr.Write = false
	}
	return attr
}

func machineError(kind trap.Kind, pc, data uint64, msg string) error {
	return newMachineError(kind, pc, data, msg)
}
