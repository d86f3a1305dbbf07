package memory

import (
	"github.com/iningz/libriscv/internal/page"
	"github.com/iningz/libriscv/trap"
)

// VBuffer is one contiguous host-memory span returned by
// GatherBuffersFromRange or RVBuffer.
type VBuffer struct {
	Ptr []byte
}

// GatherBuffersFromRange fills spans with one entry per contiguous
// host-memory region backing [addr, addr+len), in order, and returns the
// number of entries used. Fails if a touched page is unreadable or spans is
// too small (§4.2.1, §8 property 4).
func (m *Memory) GatherBuffersFromRange(spans []VBuffer, addr, length uint64) (int, error) {
	n := 0
	for length > 0 {
		pageno := page.Number(addr)
		offset := addr & (page.Size - 1)
		chunkLen := page.Size - offset
		if chunkLen > length {
			chunkLen = length
		}

		p, err := m.getReadPage(pageno)
		if err != nil {
			return n, err
		}
		if !p.Attr.Read {
			return n, newMachineError(trap.ProtectionFault, 0, addr, "gather: unreadable page")
		}
		if n >= len(spans) {
			return n, newMachineError(trap.InvalidProgram, 0, addr, "gather: caller buffer too small")
		}
		spans[n] = VBuffer{Ptr: p.Data()[offset : offset+chunkLen]}
		n++

		addr += chunkLen
		length -= chunkLen
	}
	return n, nil
}

// RVView returns a single contiguous host slice for [addr, addr+len) if the
// range doesn't cross a page (or lies entirely within the arena); otherwise
// it faults rather than copying, per §4.2.1's contract for rvview.
func (m *Memory) RVView(addr, length uint64) ([]byte, error) {
	if m.arena.data != nil {
		pageno := page.Number(addr)
		if pageno < m.arena.pageCount() && addr+length <= m.arena.readBoundary {
			return m.arena.data[addr : addr+length], nil
		}
	}
	startPage := page.Number(addr)
	endPage := page.Number(addr + length - 1)
	if length == 0 {
		return nil, nil
	}
	if startPage != endPage {
		return nil, newMachineError(trap.InvalidAlignment, 0, addr, "rvview: range not contiguous in host memory")
	}
	p, err := m.getReadPage(startPage)
	if err != nil {
		return nil, err
	}
	if !p.Attr.Read {
		return nil, newMachineError(trap.ProtectionFault, 0, addr, "rvview: unreadable page")
	}
	offset := addr & (page.Size - 1)
	return p.Data()[offset : offset+length], nil
}

// RVBuffer returns a view when the range is contiguous, or a materialised
// copy (via MemcpyOut) otherwise.
func (m *Memory) RVBuffer(addr, length uint64) ([]byte, error) {
	if b, err := m.RVView(addr, length); err == nil {
		return b, nil
	}
	return m.MemcpyOut(addr, length)
}

// Memstring scans guest memory at addr for a NUL terminator, bounded by
// maxLen, and returns the string up to (not including) the terminator.
func (m *Memory) Memstring(addr uint64, maxLen int) (string, error) {
	buf := make([]byte, 0, 64)
	var b [1]byte
	for i := 0; i < maxLen; i++ {
		if err := m.access(addr+uint64(i), b[:], false); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, b[0])
	}
	return "", newMachineError(trap.InvalidProgram, 0, addr, "memstring: no NUL terminator within bound")
}
