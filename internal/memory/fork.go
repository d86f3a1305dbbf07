package memory

// ForkFrom populates m (which must be freshly constructed, with no pages
// installed yet) by sharing every page parent currently owns, marking each
// shared owned writable page copy-on-write in both Memorys (§5: "a
// copy-on-write fork... marks all owned pages of the parent as CoW in the
// child"). A read-only or exec-only owned page (.rodata, .text) is shared
// without CoW: ResolveCow unconditionally grants Write on resolution, so
// marking a non-writable page CoW would let a guest store silently make it
// writable (and, for .text, writable and executable at once) the first time
// anything forks, defeating the write/exec protection that page carried.
// Because parent and m end up holding the same *page.Page pointer for a
// shared pageno, a write on either side only replaces that side's own map
// entry (see defaultPageWriteHandler), leaving the other Memory's view of
// the page untouched -- the CoW resolution §8 property 5 requires.
func (m *Memory) ForkFrom(parent *Memory) {
	for pageno, p := range parent.pages {
		if p.Owned() && p.Attr.Write && !p.Attr.Cow {
			p.MarkCow()
		}
		m.pages[pageno] = p
	}

	m.startAddress = parent.startAddress
	m.stackAddress = parent.stackAddress
	m.exitAddress = parent.exitAddress
	m.heapAddress = parent.heapAddress
	m.mmapAddress = parent.mmapAddress
	m.mmapStart = parent.mmapStart
	m.binary = parent.binary

	parent.InvalidateAll()
	m.InvalidateAll()
}
