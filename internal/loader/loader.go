// Package loader builds a guest address space from an ELF executable (§4.3):
// it walks program headers, materialises pages in an internal/memory.Memory,
// creates execute segments over the executable ranges, and lays out the
// initial stack per the standard RISC-V user ABI. Parsing uses the standard
// library's debug/elf, the same package the teacher's own ELF writer
// (object/file/elf/elf.go) uses to produce object files, rather than a
// third-party ELF library.
package loader

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/iningz/libriscv/internal/memory"
	"github.com/iningz/libriscv/internal/page"
	"github.com/iningz/libriscv/internal/rv64"
)

// Defaults for the parts of the address space the ELF itself doesn't
// specify: how large a stack to give the guest and where to put it. Chosen
// high in the 64-bit guest address space, well clear of any plausible
// PT_LOAD range, so the loader never needs to negotiate overlap with the
// program image.
const (
	DefaultStackSize = 1 << 20        // 1 MiB
	DefaultStackTop  = 0x7fff00000000 // page-aligned
)

// Image is the result of loading one ELF binary: everything Machine needs to
// hand a CPU a running program.
type Image struct {
	Entry     uint64
	StackTop  uint64
	StackSize uint64
	IsDynamic bool
	ExecStack bool // PT_GNU_STACK requested an executable stack

	dynBase uint64
}

// Options configures a Load call. Zero-value Options gets DefaultStackSize
// and DefaultStackTop.
type Options struct {
	StackSize uint64
	StackTop  uint64
	Argv      []string
	Envp      []string

	// Compressed selects the C-extension decoder for every execute
	// segment this Load creates (§3, §4.5): stride-2 slots and
	// compressed-instruction recognition when true, stride-4
	// 32-bit-only slots when false.
	Compressed bool
}

// Load parses elfBytes, materialises its segments into mem, creates decoder
// caches for every executable range, and returns the resulting Image. mem
// must be freshly constructed (memory.New) with no pages installed yet.
func Load(mem *memory.Memory, elfBytes []byte, opts Options) (*Image, error) {
	if opts.StackSize == 0 {
		opts.StackSize = DefaultStackSize
	}
	if opts.StackTop == 0 {
		opts.StackTop = DefaultStackTop
	}

	f, err := elf.NewFile(bytes.NewReader(elfBytes))
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	defer f.Close()

	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("loader: not a RISC-V binary (e_machine=%d)", f.Machine)
	}
	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("loader: only ELFCLASS64 is supported")
	}

	mem.SetBinary(elfBytes)

	img := &Image{
		Entry:     f.Entry,
		StackTop:  opts.StackTop,
		StackSize: opts.StackSize,
	}

	var relro *elf.ProgHeader
	var highWaterMark uint64
	initialExecAssigned := false

	for i := range f.Progs {
		ph := &f.Progs[i].ProgHeader

		switch ph.Type {
		case elf.PT_LOAD:
			if ph.Memsz == 0 {
				continue
			}
			if err := loadSegment(mem, f, i, img, &initialExecAssigned, opts.Compressed); err != nil {
				return nil, err
			}
			if end := ph.Vaddr + ph.Memsz; end > highWaterMark {
				highWaterMark = end
			}

		case elf.PT_DYNAMIC:
			img.IsDynamic = true
			if f.Type == elf.ET_DYN {
				// No relocation resolver is implemented; ET_DYN images are
				// expected to be loaded at their link-time addresses
				// (position-dependent PIE, base offset zero).
				img.dynBase = 0
			}

		case elf.PT_GNU_STACK:
			img.ExecStack = ph.Flags&elf.PF_X != 0

		case elf.PT_GNU_RELRO:
			relro = ph
		}
	}

	if relro != nil {
		mem.SetAttr(relro.Vaddr, relro.Memsz, page.Attr{Read: true})
	}

	heapStart := roundUpPage(highWaterMark)
	mem.SetHeapAddress(heapStart)
	mem.SetStartAddress(img.Entry + img.dynBase)
	// A sentinel PC well outside any mapped range: the CPU dispatch loop
	// treats reaching it as a clean halt (§4.3, "terminate vmcall") without
	// ever needing an executable page installed there.
	mem.SetExitAddress(heapStart + (1 << 40))

	sp, err := setupStack(mem, opts, img)
	if err != nil {
		return nil, err
	}
	img.StackTop = sp
	mem.SetStackInitial(sp)

	return img, nil
}

func loadSegment(mem *memory.Memory, f *elf.File, idx int, img *Image, initialExecAssigned *bool, compressed bool) error {
	ph := &f.Progs[idx].ProgHeader

	attr := page.Attr{
		Read:  ph.Flags&elf.PF_R != 0,
		Write: ph.Flags&elf.PF_W != 0,
		Exec:  ph.Flags&elf.PF_X != 0,
	}

	start := page.Number(ph.Vaddr)
	end := page.Number(ph.Vaddr + ph.Memsz + page.Size - 1)

	// Pages are created writable and non-executable regardless of the
	// segment's own permissions, and locked down to attr only after their
	// content is copied in below: a read-only segment (.rodata, with
	// Filesz > 0) would otherwise never be populatable, since Memcpy
	// honours the very same write permission this function installs.
	// Exec is withheld too so the transient Write+Exec combination a R-X
	// segment would otherwise need never has to pass through
	// Memory.clampWX's W^X enforcement (§6 allow_write_exec_segment).
	loadAttr := attr
	loadAttr.Write = true
	loadAttr.Exec = false

	for pn := start; pn < end; pn++ {
		// Overlapping loads with stricter permissions win (§4.3): a page
		// already installed by an earlier segment just gets its Attr
		// replaced by CreatePage's existing-owned-page branch.
		if _, err := mem.CreatePage(pn, loadAttr); err != nil {
			return fmt.Errorf("loader: PT_LOAD pages: %w", err)
		}
	}

	data := make([]byte, ph.Memsz)
	if ph.Filesz > 0 {
		buf := make([]byte, ph.Filesz)
		if _, err := f.Progs[idx].ReadAt(buf, 0); err != nil {
			return fmt.Errorf("loader: reading PT_LOAD contents: %w", err)
		}
		copy(data, buf)
	}
	if err := mem.Memcpy(ph.Vaddr, data); err != nil {
		return fmt.Errorf("loader: copying PT_LOAD contents: %w", err)
	}

	mem.SetAttr(ph.Vaddr, ph.Memsz, attr)

	if attr.Exec {
		isInitial := !*initialExecAssigned && f.Entry >= ph.Vaddr && f.Entry < ph.Vaddr+ph.Memsz
		if isInitial {
			*initialExecAssigned = true
		}
		if _, err := mem.CreateExecuteSegment(rv64.GenerateCache, data, ph.Vaddr, compressed, isInitial, false); err != nil {
			return fmt.Errorf("loader: creating execute segment: %w", err)
		}
	}

	return nil
}

func roundUpPage(addr uint64) uint64 {
	return (addr + page.Size - 1) &^ (page.Size - 1)
}
