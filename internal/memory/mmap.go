package memory

import "github.com/iningz/libriscv/internal/page"

// mmapCacheEntry is a recently unmapped span, kept so a later allocation of
// equal or smaller size can reuse it instead of extending the cursor
// (§4.2.2, MMapCache).
type mmapCacheEntry struct {
	addr uint64
	size uint64
}

// mmapCache is a small free list, searched most-recent-first so repeated
// alloc/free of the same size is O(1) and deterministic (§8 property 6).
type mmapCache struct {
	entries []mmapCacheEntry
}

const mmapCacheMax = 16

func (c *mmapCache) put(addr, size uint64) {
	c.entries = append(c.entries, mmapCacheEntry{addr, size})
	if len(c.entries) > mmapCacheMax {
		c.entries = c.entries[1:]
	}
}

// take returns the most recently freed span of size >= n, or ok=false.
func (c *mmapCache) take(n uint64) (addr uint64, ok bool) {
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].size >= n {
			addr = c.entries[i].addr
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return addr, true
		}
	}
	return 0, false
}

func roundUpPage(n uint64) uint64 {
	return (n + page.Size - 1) &^ (page.Size - 1)
}

// MmapAllocate reserves at least bytes of guest address space above the
// heap, returning the page-aligned start address. Pages are not created
// eagerly; they materialise lazily on first fault (§4.2.2).
func (m *Memory) MmapAllocate(bytes uint64) uint64 {
	n := roundUpPage(bytes)
	if n == 0 {
		n = page.Size
	}
	if addr, ok := m.mmapCache.take(n); ok {
		return addr
	}
	addr := m.mmapAddress
	m.mmapAddress += n
	return addr
}

// MmapRelax shrinks a previous allocation in place if it is the most recent
// one (its end is the current cursor), rewinding the cursor by the
// difference. Returns false and does nothing otherwise (§4.2.2, §8 property
// 5).
func (m *Memory) MmapRelax(addr, size, newSize uint64) bool {
	size = roundUpPage(size)
	newSize = roundUpPage(newSize)
	if addr+size != m.mmapAddress || newSize >= size {
		return false
	}
	m.mmapAddress -= size - newSize
	return true
}

// MmapUnmap frees any owned pages in [addr, addr+size), drops them from the
// cache, and either rewinds the cursor (if the range abuts it) or remembers
// the span in the free list for reuse.
func (m *Memory) MmapUnmap(addr, size uint64) bool {
	size = roundUpPage(size)
	start := page.Number(addr)
	end := page.Number(addr + size + page.Size - 1)
	for pn := start; pn < end; pn++ {
		if p, ok := m.pages[pn]; ok && p.Owned() {
			m.ownedBytes -= page.Size
			delete(m.pages, pn)
			m.invalidateCache(pn)
		}
	}
	if addr+size == m.mmapAddress {
		m.mmapAddress = addr
		return true
	}
	m.mmapCache.put(addr, size)
	return true
}
