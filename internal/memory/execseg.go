package memory

import (
	"github.com/iningz/libriscv/internal/exec"
	"github.com/iningz/libriscv/internal/page"
)

// DecoderGenerator builds a decoder cache for a page's worth of bytes
// starting at base, given a lookup for whether the following page (for an
// instruction straddling the boundary) is executable. compressed selects
// the C-extension stride-2 decode path versus a stride-4, 32-bit-only one
// (§3, §4.5, §9 Open Question: the ISA is fixed at construction). internal/rv64
// implements this; internal/memory only depends on the function type, never
// on internal/rv64 itself, keeping the decode/ISA package swappable (see
// DESIGN.md's note on the W=4 vs W=8 monomorphisation).
type DecoderGenerator func(text []byte, base uint64, compressed bool, nextPageExec func(pageno uint64) ([]byte, bool)) *exec.Cache

// ExecuteSegment is a contiguous executable guest range with its decoder
// cache (§3). Owned by Memory via a strong reference; pages within the
// range hold a borrowed *exec.Cache pointer that becomes invalid the moment
// the segment is evicted.
type ExecuteSegment struct {
	Base   uint64
	Length uint64
	Cache  *exec.Cache
	Sealed bool

	// ContentHash holds a content hash for keying a binary-translation
	// blob (§4.5). CreateExecuteSegment does not compute it, so it is
	// always zero.
	ContentHash [32]byte

	IsInitial bool
	IsJIT     bool

	pages []uint64 // pagenos covered, for cache detachment on eviction
}

// CreateExecuteSegment installs data as an executable region [addr,
// addr+len), generates its decoder cache via gen, and returns the new
// segment. Installs into the next free slot, evicting the least-recently-
// used one (round-robin, §4.2.3) if the table is full.
func (m *Memory) CreateExecuteSegment(gen DecoderGenerator, data []byte, addr uint64, compressed, isInitial, isJIT bool) (*ExecuteSegment, error) {
	base := page.Number(addr) * page.Size
	length := uint64(len(data))

	nextPageExec := func(pageno uint64) ([]byte, bool) {
		p, ok := m.pages[pageno]
		if !ok || !p.Attr.Exec {
			return nil, false
		}
		return p.Data(), true
	}

	cache := gen(data, base, compressed, nextPageExec)

	seg := &ExecuteSegment{
		Base:      base,
		Length:    length,
		Cache:     cache,
		Sealed:    true,
		IsInitial: isInitial,
		IsJIT:     isJIT,
	}

	startPage := page.Number(base)
	endPage := page.Number(base+length+page.Size-1)
	for pn := startPage; pn < endPage; pn++ {
		if p, ok := m.pages[pn]; ok {
			p.AttachCache(cache, base)
			seg.pages = append(seg.pages, pn)
		}
	}

	slot := m.execSegNext
	if m.execSegCnt < MaxExecuteSegs {
		slot = m.execSegCnt
		m.execSegCnt++
	} else {
		if old := m.execSegs[slot]; old != nil {
			m.detachSegment(old)
		}
	}
	m.execSegs[slot] = seg
	m.execSegNext = (slot + 1) % MaxExecuteSegs

	return seg, nil
}

func (m *Memory) detachSegment(seg *ExecuteSegment) {
	for _, pn := range seg.pages {
		if p, ok := m.pages[pn]; ok {
			p.DetachCache()
		}
	}
}

// ExecSegmentFor returns the first registered segment whose range contains
// vaddr, scanning the (at most MaxExecuteSegs) live segments linearly
// (§4.2.3).
func (m *Memory) ExecSegmentFor(vaddr uint64) *ExecuteSegment {
	for i := 0; i < m.execSegCnt; i++ {
		seg := m.execSegs[i]
		if seg == nil {
			continue
		}
		if vaddr >= seg.Base && vaddr < seg.Base+seg.Length {
			return seg
		}
	}
	return nil
}

// EvictExecuteSegments drops every execute-segment reference and resets the
// table, detaching every page's cache pointer.
func (m *Memory) EvictExecuteSegments() {
	for i := 0; i < m.execSegCnt; i++ {
		if seg := m.execSegs[i]; seg != nil {
			m.detachSegment(seg)
			m.execSegs[i] = nil
		}
	}
	m.execSegCnt = 0
	m.execSegNext = 0
}

// CachedExecuteSegments returns how many segments are currently live.
func (m *Memory) CachedExecuteSegments() int { return m.execSegCnt }
