package rv64

import (
	"github.com/iningz/libriscv/internal/exec"
	"github.com/iningz/libriscv/trap"
)

// illegal is installed for any encoding decode32/decode16 doesn't recognise.
// Faulting from the handler (rather than failing GenerateCache outright)
// keeps unreachable or not-yet-executed illegal bytes from blocking
// execution of the surrounding valid code (§4.5).
func illegal(c exec.Core, s *exec.Slot) {
	c.Fault(trap.IllegalInstruction, c.PC())
}

// GenerateCache builds the decoder cache for one execute segment,
// implementing §4.5's linear-walk algorithm. When compressed is true (the C
// extension is configured, §9 Open Question: the ISA is fixed at
// construction) it builds a stride-2 cache: every halfword offset is a
// candidate compressed-instruction start, and a standard 32-bit
// instruction (at any halfword offset) occupies its slot plus a leftover, unreachable slot at
// offset+2. When compressed is false, every offset is instead the start of
// a 4-byte standard instruction and the cache is stride-4 — the decode16
// path (and the mid-instruction "unreachable slot" bookkeeping it needs) is
// never consulted, matching spec §3's "for 32-bit-only decoding one per 4
// bytes". An instruction that straddles the end of text peeks into the next
// page via nextPageExec; if that page isn't executable or doesn't exist,
// the straddling slot decodes as illegal rather than reading out of bounds.
func GenerateCache(text []byte, base uint64, compressed bool, nextPageExec func(pageno uint64) ([]byte, bool)) *exec.Cache {
	n := len(text)

	fetch16 := func(off int) (uint16, bool) {
		if off+2 <= n {
			return uint16(text[off]) | uint16(text[off+1])<<8, true
		}
		if off+1 == n {
			// First byte is in this segment, second byte is the first byte
			// of the following page.
			nextByte, ok := straddleByte(text, off, base, nextPageExec)
			if !ok {
				return 0, false
			}
			return uint16(text[off]) | uint16(nextByte)<<8, true
		}
		if off >= n {
			// Both bytes lie in the following page (the upper half of a
			// 32-bit instruction that straddles the end of text).
			next, ok := nextPageExec((base + uint64(n)) / 4096)
			if !ok || off-n+2 > len(next) {
				return 0, false
			}
			return uint16(next[off-n]) | uint16(next[off-n+1])<<8, true
		}
		return 0, false
	}

	fetch32 := func(off int) (uint32, bool) {
		lo, ok := fetch16(off)
		if !ok {
			return 0, false
		}
		hi, ok := fetch16(off + 2)
		if !ok {
			return 0, false
		}
		return uint32(lo) | uint32(hi)<<16, true
	}

	if !compressed {
		slots := make([]exec.Slot, (n+3)/4)
		for off := 0; off < n; off += 4 {
			word32, ok := fetch32(off)
			if !ok {
				slots[off/4] = exec.Slot{Handler: illegal, Len: 0}
				continue
			}
			h, ops, ok := decode32(word32)
			if !ok {
				h = illegal
			}
			slots[off/4] = exec.Slot{Handler: h, Ops: ops, Len: 4}
		}
		return &exec.Cache{Slots: slots, Stride: 4}
	}

	slots := make([]exec.Slot, (n+1)/2)

	for off := 0; off < n; off += 2 {
		word16, ok := fetch16(off)
		if !ok {
			slots[off/2] = exec.Slot{Handler: illegal, Len: 0}
			continue
		}

		if word16&0x3 == 0x3 {
			// Standard 32-bit instruction; needs the next halfword too.
			word32, ok := fetch32(off)
			if !ok {
				slots[off/2] = exec.Slot{Handler: illegal, Len: 0}
				continue
			}
			h, ops, ok := decode32(word32)
			if !ok {
				h = illegal
			}
			slots[off/2] = exec.Slot{Handler: h, Ops: ops, Len: 4}
			if off/2+1 < len(slots) {
				slots[off/2+1] = exec.Slot{Handler: nil, Len: 0}
			}
			off += 2 // consumed an extra halfword this iteration
			continue
		}

		h, ops, ok := decode16(word16)
		if !ok {
			h = illegal
		}
		slots[off/2] = exec.Slot{Handler: h, Ops: ops, Len: 2}
	}

	return &exec.Cache{Slots: slots, Stride: 2}
}

func straddleByte(text []byte, off int, base uint64, nextPageExec func(uint64) ([]byte, bool)) (byte, bool) {
	nextPage, ok := nextPageExec((base + uint64(len(text))) / 4096)
	if !ok || len(nextPage) == 0 {
		return 0, false
	}
	return nextPage[0], true
}
