package loader

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/iningz/libriscv/internal/memory"
	"github.com/iningz/libriscv/internal/page"
)

// Auxiliary vector types the loader populates (a small, commonly-consumed
// subset of the Linux/RISC-V auxv; enough for a libc-linked guest to find
// its page size, entry point and a source of stack-protector randomness
// without a full symbol-relocation resolver).
const (
	atNull    = 0
	atPagesz  = 6
	atBase    = 7
	atFlags   = 8
	atEntry   = 9
	atUID     = 11
	atEUID    = 12
	atGID     = 13
	atEGID    = 14
	atSecure  = 23
	atRandom  = 25
	atExecFn  = 31
)

// setupStack materialises argv/envp/auxv on a fresh stack region and returns
// the initial stack pointer (§4.3, "Populate argv/envp/auxv on the initial
// stack per the standard RISC-V user ABI").
func setupStack(mem *memory.Memory, opts Options, img *Image) (uint64, error) {
	top := opts.StackTop
	base := top - opts.StackSize

	start := page.Number(base)
	end := page.Number(top-1) + 1
	for pn := start; pn < end; pn++ {
		if _, err := mem.CreatePage(pn, page.Attr{Read: true, Write: true}); err != nil {
			return 0, fmt.Errorf("loader: stack pages: %w", err)
		}
	}

	buf := make([]byte, opts.StackSize)
	cursor := opts.StackSize // offset into buf, shrinks as we place data

	writeBytes := func(b []byte) uint64 {
		cursor -= uint64(len(b))
		copy(buf[cursor:], b)
		return base + cursor
	}
	writeString := func(s string) uint64 {
		return writeBytes(append([]byte(s), 0))
	}

	execfn := "/guest"
	if len(opts.Argv) > 0 {
		execfn = opts.Argv[0]
	}
	execfnAddr := writeString(execfn)

	var randomBytes [16]byte
	if _, err := rand.Read(randomBytes[:]); err != nil {
		return 0, fmt.Errorf("loader: AT_RANDOM: %w", err)
	}
	randomAddr := writeBytes(randomBytes[:])

	argvAddrs := make([]uint64, len(opts.Argv))
	for i, s := range opts.Argv {
		argvAddrs[i] = writeString(s)
	}
	envpAddrs := make([]uint64, len(opts.Envp))
	for i, s := range opts.Envp {
		envpAddrs[i] = writeString(s)
	}

	type auxEntry struct{ typ, val uint64 }
	auxv := []auxEntry{
		{atPagesz, page.Size},
		{atEntry, img.Entry},
		{atBase, img.dynBase},
		{atFlags, 0},
		{atUID, 0},
		{atEUID, 0},
		{atGID, 0},
		{atEGID, 0},
		{atSecure, 0},
		{atRandom, randomAddr},
		{atExecFn, execfnAddr},
		{atNull, 0},
	}

	words := make([]uint64, 0, 1+len(argvAddrs)+1+len(envpAddrs)+1+len(auxv)*2)
	words = append(words, uint64(len(argvAddrs)))
	words = append(words, argvAddrs...)
	words = append(words, 0)
	words = append(words, envpAddrs...)
	words = append(words, 0)
	for _, a := range auxv {
		words = append(words, a.typ, a.val)
	}

	tableBytes := uint64(len(words)) * 8
	tableStart := (cursor - tableBytes) &^ 15
	tableOffset := tableStart

	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[tableOffset+uint64(i)*8:], w)
	}

	if err := mem.Memcpy(base, buf); err != nil {
		return 0, fmt.Errorf("loader: writing stack image: %w", err)
	}

	return base + tableStart, nil
}
