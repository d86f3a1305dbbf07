// Package page implements the fixed-size unit of guest memory: a 4 KiB
// buffer plus the attribute bits that are the sole authority on whether an
// access is permitted, and the copy-on-write resolution algorithm.
package page

import "github.com/iningz/libriscv/internal/exec"

// Size is the fixed guest page size in bytes.
const Size = 4096

// Shift is log2(Size), used to convert an address to a page number.
const Shift = 12

// Number returns the page number an address falls in.
func Number(addr uint64) uint64 { return addr >> Shift }

// Attr is the permission and lifecycle bitset carried by every Page. It is
// the only authority on whether an access is permitted: the memory arena
// fast path (internal/memory) must derive its boundaries from the same
// attributes a page-map lookup would see, never bypass them.
type Attr struct {
	Read          bool
	Write         bool
	Exec          bool
	Shared        bool // Data is borrowed, not owned.
	Cow           bool // Read-as-original until first write.
	IsCowOriginal bool // This page is the original a CoW page was cloned from.
	HasTrap       bool
}

// MMIO is the read/write callback triple invoked for a page with
// Attr.HasTrap set, in place of a direct memory access.
type MMIO struct {
	Read8   func(addr uint64) uint8
	Read16  func(addr uint64) uint16
	Read32  func(addr uint64) uint32
	Read64  func(addr uint64) uint64
	Write8  func(addr uint64, v uint8)
	Write16 func(addr uint64, v uint16)
	Write32 func(addr uint64, v uint32)
	Write64 func(addr uint64, v uint64)
}

// Page is one 4 KiB unit of guest memory.
type Page struct {
	Pageno uint64
	Attr   Attr

	// data is the page's backing bytes. Owned pages hold their own
	// [Size]byte array; non-owned pages point into a shared region or
	// the flat arena (see internal/memory) and must never be mutated
	// through Data() without first resolving CoW.
	data  []byte
	owned bool

	// Cache is a borrowed pointer to the decoder cache generated for the
	// execute segment this page belongs to. It is nil for non-executable
	// pages, and becomes a dangling reference once the owning segment is
	// evicted -- callers must clear it via Detach when that happens,
	// never dereference a cache whose segment has been dropped.
	Cache *exec.Cache

	// CacheBase is the guest address Cache is indexed from: a segment
	// spanning several pages shares one Cache across all of them, so a
	// page beyond the segment's first must subtract this, not its own
	// Pageno*Size, to recover the offset Cache.SlotFor expects.
	CacheBase uint64

	// Trap is non-nil when Attr.HasTrap is set.
	Trap *MMIO
}

// NewOwned returns a zeroed, uniquely owned page.
func NewOwned(pageno uint64, attr Attr) *Page {
	return &Page{
		Pageno: pageno,
		Attr:   attr,
		data:   make([]byte, Size),
		owned:  true,
	}
}

// NewBorrowed returns a page whose backing bytes are not owned by it: buf
// must outlive the page (a shared page, or a slice of the flat arena).
func NewBorrowed(pageno uint64, buf []byte, attr Attr) *Page {
	if len(buf) != Size {
		panic("page: borrowed buffer must be exactly Size bytes")
	}
	attr.Shared = true
	return &Page{
		Pageno: pageno,
		Attr:   attr,
		data:   buf,
		owned:  false,
	}
}

// Owned reports whether this page holds a unique data buffer.
func (p *Page) Owned() bool { return p.owned }

// Data returns the page's backing bytes for reading. Callers must not
// mutate the returned slice directly when Attr.Cow is set and the write has
// not yet been resolved; use ResolveCow first.
func (p *Page) Data() []byte { return p.data }

// Clone returns a new, independently owned page with the same contents and
// attributes (used to materialise a private copy during CoW resolution, and
// by Machine's copy-on-write fork).
func (p *Page) Clone() *Page {
	buf := make([]byte, Size)
	copy(buf, p.data)
	return &Page{
		Pageno: p.Pageno,
		Attr:   p.Attr,
		data:   buf,
		owned:  true,
	}
}

// MarkCow flags this page as copy-on-write: reads see the original content,
// and the first write must go through ResolveCow.
func (p *Page) MarkCow() {
	p.Attr.Cow = true
	p.Attr.Write = false
}

// ResolveCow implements the CoW-resolution algorithm from §4.1: acquire a
// fresh buffer, copy the current contents, clear cow, set write, and return
// the new owned page the caller should install in place of the original.
func (p *Page) ResolveCow() *Page {
	if !p.Attr.Cow {
		panic("page: ResolveCow called on a non-CoW page")
	}
	np := p.Clone()
	np.Attr.Cow = false
	np.Attr.Write = true
	np.Attr.IsCowOriginal = false
	return np
}

// AttachTrap installs an MMIO callback triple and sets Attr.HasTrap.
func (p *Page) AttachTrap(m *MMIO) {
	p.Trap = m
	p.Attr.HasTrap = true
}

// AttachCache installs a borrowed decoder cache pointer, owned by the
// execute segment that generated it, and records the segment's base address
// so the page's own offset into Cache can be recovered later.
func (p *Page) AttachCache(c *exec.Cache, base uint64) {
	p.Cache = c
	p.CacheBase = base
}

// DetachCache clears the borrowed decoder cache pointer. Called when the
// owning execute segment is evicted so a page never outlives its segment's
// cache.
func (p *Page) DetachCache() {
	p.Cache = nil
	p.CacheBase = 0
}
