// Package elftest builds minimal RV64 ELF executables in memory, for tests
// that need a real loader.Load input without shelling out to a cross
// compiler. Not part of the public API surface; imported only from _test.go
// files.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// Segment is one PT_LOAD program header to embed.
type Segment struct {
	Vaddr uint64
	Flags uint32 // elf.PF_R / PF_W / PF_X, OR'd together
	Data  []byte
}

const (
	ehsize = 64
	phsize = 56
)

// Build assembles an ELFCLASS64/EM_RISCV/ET_EXEC image with one program
// header per segment, entry point entry, and no section headers (the loader
// never looks at any).
func Build(entry uint64, segments []Segment) []byte {
	phoff := uint64(ehsize)
	dataOff := phoff + uint64(len(segments))*phsize

	var buf bytes.Buffer

	ident := [16]byte{0x7f, 'E', 'L', 'F', 2 /* ELFCLASS64 */, 1 /* ELFDATA2LSB */, 1 /* EV_CURRENT */, 0}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(elf.ET_EXEC))
	binary.Write(&buf, binary.LittleEndian, uint16(elf.EM_RISCV))
	binary.Write(&buf, binary.LittleEndian, uint32(elf.EV_CURRENT))
	binary.Write(&buf, binary.LittleEndian, entry)
	binary.Write(&buf, binary.LittleEndian, phoff)
	binary.Write(&buf, binary.LittleEndian, uint64(0)) // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehsize))
	binary.Write(&buf, binary.LittleEndian, uint16(phsize))
	binary.Write(&buf, binary.LittleEndian, uint16(len(segments)))
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shstrndx

	offsets := make([]uint64, len(segments))
	cursor := dataOff
	for i, s := range segments {
		offsets[i] = cursor
		cursor += uint64(len(s.Data))
	}

	for i, s := range segments {
		binary.Write(&buf, binary.LittleEndian, uint32(elf.PT_LOAD))
		binary.Write(&buf, binary.LittleEndian, s.Flags)
		binary.Write(&buf, binary.LittleEndian, offsets[i])
		binary.Write(&buf, binary.LittleEndian, s.Vaddr)
		binary.Write(&buf, binary.LittleEndian, s.Vaddr) // p_paddr
		binary.Write(&buf, binary.LittleEndian, uint64(len(s.Data)))
		binary.Write(&buf, binary.LittleEndian, uint64(len(s.Data)))
		binary.Write(&buf, binary.LittleEndian, uint64(4096)) // p_align
	}

	for _, s := range segments {
		buf.Write(s.Data)
	}

	return buf.Bytes()
}
