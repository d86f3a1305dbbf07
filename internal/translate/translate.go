// Package translate defines the seam a binary-translation (JIT) collaborator
// plugs into (§4.5, §6 "Output of the JIT collaborator"). No compiler lives
// here: the teacher's own analogue never embeds the WASM-to-native compiler
// in the interpreter core either (runner.go links a separately built
// machine-code blob), and the reference implementation's collaborator
// (tr_compiler.cpp) shells out to a host C compiler and dlopens the result,
// work this module does not reimplement. A host can install a Provider via
// Machine.SetTranslateProvider, which only stores it: no code in this module
// calls Lookup, so decoder caches always hold the interpreted handlers. This
// package only defines what a Provider must expose.
package translate

import (
	"crypto/sha256"

	"golang.org/x/crypto/blake2b"

	"github.com/iningz/libriscv/internal/exec"
)

// ContentHash identifies an execute segment's bytes for translation-cache
// lookup, keyed the same way the reference implementation names its
// generated symbols (rvbintr_<hash>_<offset>): a hash of the segment's
// content, not its guest address, so an identical function translated twice
// at different load addresses shares one compiled artifact.
type ContentHash [32]byte

// HashSegment computes the lookup key for a segment's raw instruction
// bytes using BLAKE2b-256, the hash function already in this module's
// dependency set (pulled in for this exact purpose rather than reaching for
// the standard library's slower sha256 by default; HashSegmentSHA256 exists
// for a Provider that was built against the other convention instead).
func HashSegment(text []byte) ContentHash {
	return blake2b.Sum256(text)
}

// HashSegmentSHA256 is the standard-library fallback for a Provider that
// keys its cache by SHA-256 instead of BLAKE2b.
func HashSegmentSHA256(text []byte) [sha256.Size]byte {
	return sha256.Sum256(text)
}

// Segment describes one execute segment a Provider may choose to translate.
type Segment struct {
	Hash    ContentHash
	Base    uint64
	Text    []byte
	Offsets []uint64 // instruction-aligned offsets the decoder cache covers
}

// Provider is the host-supplied binary-translation collaborator. Lookup
// reports a Translated for seg, or nil, false when it has none; no code in
// this module calls Lookup, so the interpreted decoder cache is always the
// one in use. Background controls whether the host
// should treat compilation as asynchronous (Options.TranslateBackground):
// a Provider that can't honour a false Background synchronously should
// simply block until ready rather than fail the lookup.
type Provider interface {
	Lookup(seg Segment, background bool) (Translated, bool)
}

// Translated is a compiled replacement for one or more slots in a decoder
// cache. HandlerFor returns the accelerated handler for the instruction at
// offset, or ok=false to fall back to the interpreted one already in the
// cache.
type Translated interface {
	HandlerFor(offset uint64) (exec.HandlerFunc, bool)
}
