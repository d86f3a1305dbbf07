package memory

import (
	"golang.org/x/sys/unix"

	"github.com/iningz/libriscv/internal/page"
	"github.com/iningz/libriscv/trap"
)

// arena is the flat host allocation backing guest pages [0, N) described in
// §3. Reads below readBoundary and writes in [initialRodataEnd,
// writeBoundary) may bypass the page map entirely; everything else still
// goes through the normal Page-table path even for pagenos inside the
// arena's range, so the boundaries must be set consistent with the
// attributes those pages were given at load time.
type arena struct {
	data              []byte
	readBoundary      uint64
	writeBoundary     uint64
	initialRodataEnd  uint64
	pages             uint64
}

func (a *arena) pageCount() uint64 { return a.pages }

// EnableArena mmaps a host allocation of n pages and installs it as the flat
// arena, mirroring the mmap-backed text/rodata segments the teacher's
// runner.makeMemoryCopy allocates for compiled guest code.
func (m *Memory) EnableArena(n uint64, readBoundary, initialRodataEnd, writeBoundary uint64) error {
	size := int(n * page.Size)
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return newMachineError(trap.OutOfMemory, 0, uint64(size), "mmap arena: "+err.Error())
	}
	m.arena = arena{
		data:             buf,
		readBoundary:     readBoundary,
		initialRodataEnd: initialRodataEnd,
		writeBoundary:    writeBoundary,
		pages:            n,
	}
	return nil
}

// ArenaBytes returns the arena's backing storage for a pageno within it, so
// the loader can register Page entries that alias arena memory instead of
// allocating a separate owned buffer.
func (m *Memory) ArenaBytes(pageno uint64) []byte {
	off := pageno * page.Size
	return m.arena.data[off : off+page.Size]
}

// HasArena reports whether the flat arena fast path is enabled.
func (m *Memory) HasArena() bool { return m.arena.data != nil }

// ArenaSize returns the arena's length in pages.
func (m *Memory) ArenaSize() uint64 { return m.arena.pages }

// Close releases host resources (the arena mmap). Safe to call on a Memory
// that never enabled the arena.
func (m *Memory) Close() error {
	if m.arena.data != nil {
		err := unix.Munmap(m.arena.data)
		m.arena.data = nil
		return err
	}
	return nil
}

// ProtectArenaExec applies a host-level mprotect to the arena's executable
// range as defense-in-depth behind the page-attribute check (§4.1: "exec
// pages must not be writable except transiently during loader setup").
func (m *Memory) ProtectArenaExec(startPage, endPage uint64, writable bool) error {
	prot := unix.PROT_READ | unix.PROT_EXEC
	if writable {
		prot |= unix.PROT_WRITE
	}
	start := startPage * page.Size
	end := endPage * page.Size
	if end > uint64(len(m.arena.data)) {
		end = uint64(len(m.arena.data))
	}
	if start >= end {
		return nil
	}
	return unix.Mprotect(m.arena.data[start:end], prot)
}
