package memory

import (
	"encoding/binary"

	"github.com/iningz/libriscv/internal/page"
	"github.com/iningz/libriscv/trap"
)

// access copies len(buf) bytes at guest address addr, page by page, in
// either direction. Each page-chunk is independently translated and
// permission-checked (§4.2: "unaligned accesses that cross a page boundary
// are split into two accesses").
func (m *Memory) access(addr uint64, buf []byte, write bool) error {
	for len(buf) > 0 {
		pageno := page.Number(addr)
		offset := addr & (page.Size - 1)
		n := uint64(len(buf))
		if room := page.Size - offset; n > room {
			n = room
		}
		chunk := buf[:n]
		if err := m.accessChunk(pageno, offset, chunk, write); err != nil {
			return err
		}
		addr += n
		buf = buf[n:]
	}
	return nil
}

// accessChunk performs one single-page access, trying the arena fast path
// first, then the page-cache/page-map path (§4.2, paths 1-3).
func (m *Memory) accessChunk(pageno, offset uint64, chunk []byte, write bool) error {
	if m.arena.data != nil && pageno < m.arena.pageCount() {
		addr := pageno*page.Size + offset
		end := addr + uint64(len(chunk))
		if !write && end <= m.arena.readBoundary {
			copy(chunk, m.arena.data[addr:end])
			return nil
		}
		if write && addr >= m.arena.initialRodataEnd && end <= m.arena.writeBoundary {
			m.invalidateReservation(addr, uint64(len(chunk)))
			copy(m.arena.data[addr:end], chunk)
			return nil
		}
	}

	if write {
		p, err := m.getWritePage(pageno)
		if err != nil {
			return err
		}
		m.invalidateReservation(pageno*page.Size+offset, uint64(len(chunk)))
		if p.Attr.HasTrap {
			return mmioWrite(p, offset, chunk)
		}
		copy(p.Data()[offset:], chunk)
		return nil
	}

	p, err := m.getReadPage(pageno)
	if err != nil {
		return err
	}
	if !p.Attr.Read {
		return newMachineError(trap.ProtectionFault, 0, pageno*page.Size+offset, "read from unreadable page")
	}
	if p.Attr.HasTrap {
		return mmioRead(p, offset, chunk)
	}
	copy(chunk, p.Data()[offset:])
	return nil
}

func mmioRead(p *page.Page, offset uint64, chunk []byte) error {
	switch len(chunk) {
	case 1:
		chunk[0] = p.Trap.Read8(p.Pageno*page.Size + offset)
	case 2:
		binary.LittleEndian.PutUint16(chunk, p.Trap.Read16(p.Pageno*page.Size+offset))
	case 4:
		binary.LittleEndian.PutUint32(chunk, p.Trap.Read32(p.Pageno*page.Size+offset))
	case 8:
		binary.LittleEndian.PutUint64(chunk, p.Trap.Read64(p.Pageno*page.Size+offset))
	default:
		copy(chunk, p.Data()[offset:]) // bulk memcpy through a trap page reads backing storage
	}
	return nil
}

func mmioWrite(p *page.Page, offset uint64, chunk []byte) error {
	switch len(chunk) {
	case 1:
		p.Trap.Write8(p.Pageno*page.Size+offset, chunk[0])
	case 2:
		p.Trap.Write16(p.Pageno*page.Size+offset, binary.LittleEndian.Uint16(chunk))
	case 4:
		p.Trap.Write32(p.Pageno*page.Size+offset, binary.LittleEndian.Uint32(chunk))
	case 8:
		p.Trap.Write64(p.Pageno*page.Size+offset, binary.LittleEndian.Uint64(chunk))
	default:
		copy(p.Data()[offset:], chunk)
	}
	return nil
}

// Load8/16/32/64 and Store8/16/32/64 implement exec.MemoryAccessor.

func (m *Memory) Load8(addr uint64) uint8 {
	var b [1]byte
	m.mustAccess(addr, b[:], false)
	return b[0]
}

func (m *Memory) Load16(addr uint64) uint16 {
	var b [2]byte
	m.mustAccess(addr, b[:], false)
	return binary.LittleEndian.Uint16(b[:])
}

func (m *Memory) Load32(addr uint64) uint32 {
	var b [4]byte
	m.mustAccess(addr, b[:], false)
	return binary.LittleEndian.Uint32(b[:])
}

func (m *Memory) Load64(addr uint64) uint64 {
	var b [8]byte
	m.mustAccess(addr, b[:], false)
	return binary.LittleEndian.Uint64(b[:])
}

func (m *Memory) Store8(addr uint64, v uint8) {
	m.mustAccess(addr, []byte{v}, true)
}

func (m *Memory) Store16(addr uint64, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	m.mustAccess(addr, b[:], true)
}

func (m *Memory) Store32(addr uint64, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	m.mustAccess(addr, b[:], true)
}

func (m *Memory) Store64(addr uint64, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	m.mustAccess(addr, b[:], true)
}

// mustAccess performs access and panics with an accessPanic on failure.
// Memory doesn't know the currently executing PC, so it cannot build a
// trap.Kind error with full context itself; the CPU dispatch loop recovers
// the panic and attaches the PC (see internal/cpu).
func (m *Memory) mustAccess(addr uint64, buf []byte, write bool) {
	if err := m.access(addr, buf, write); err != nil {
		panic(accessPanic{err})
	}
}

// accessPanic carries an access-path error up through a panic/recover pair
// at the CPU dispatch boundary, the same shape the teacher's own recover()
// call in mach_amd64.go gives the runner for a trapped native-code run: a
// typed payload recovered exactly once at a single, well-known point.
type accessPanic struct{ err error }

// Recover turns an accessPanic recovered via recover() back into an error,
// or returns ok=false for any other panic value (which the caller should
// re-panic).
func Recover(r interface{}) (err error, ok bool) {
	if p, is := r.(accessPanic); is {
		return p.err, true
	}
	return nil, false
}

// Memset fills length bytes starting at dst with value.
func (m *Memory) Memset(dst uint64, value byte, length uint64) error {
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = value
	}
	return m.access(dst, buf, true)
}

// Memcpy copies src (host bytes) into guest memory at dst.
func (m *Memory) Memcpy(dst uint64, src []byte) error {
	return m.access(dst, src, true)
}

// MemcpyOut copies length bytes of guest memory at src into a freshly
// allocated host buffer.
func (m *Memory) MemcpyOut(src uint64, length uint64) ([]byte, error) {
	buf := make([]byte, length)
	if err := m.access(src, buf, false); err != nil {
		return nil, err
	}
	return buf, nil
}
