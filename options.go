package rv

// DefaultMaxMemory is the ceiling applied when Options.MaxMemory is left at
// zero (§6: "max_memory: default 64 MiB").
const DefaultMaxMemory = 64 << 20

// ErrorFunc receives a host-side report of a machine exception: the fault
// kind, a human-readable message, and the kind's auxiliary data word
// (address for a memory fault, the faulting PC for an illegal instruction,
// byte count for OUT_OF_MEMORY). Opaque is passed back unchanged, the same
// role it plays in the teacher's C-callable error/stdout callbacks.
type ErrorFunc func(opaque interface{}, kind int, message string, data uint64)

// StdoutFunc receives bytes the guest wrote to its standard output via a
// registered syscall handler that chooses to forward them this way; core
// itself never writes to stdout on its own.
type StdoutFunc func(opaque interface{}, p []byte)

// Options configures a Machine. Zero values are replaced with effective
// defaults during New, the same convention compile.Config documents for a
// compiler invocation: a bare Options{} is always valid.
type Options struct {
	// MaxMemory bounds total owned page bytes; allocation beyond this
	// fails with trap.OutOfMemory. Zero means DefaultMaxMemory.
	MaxMemory uint64

	// StackSize is the initial stack reservation in bytes. Zero means
	// loader.DefaultStackSize.
	StackSize uint64

	// Argv and Envp become the guest's argv/envp, laid out on the
	// initial stack per the RISC-V user ABI (§4.3). Argv[0] is also used
	// as AT_EXECFN when present.
	Argv []string
	Envp []string

	// Compressed selects the C-extension decoder and the resulting
	// 2-byte PC alignment requirement (§9 Open Question: ISA is fixed at
	// construction, not switchable per instruction).
	Compressed bool

	// UseMemoryArena enables the flat [0,heap) fast path (§4.2) instead
	// of routing every access through the sparse page map.
	UseMemoryArena bool

	// AllowWriteExecSegment permits a page to carry both Write and Exec
	// attributes simultaneously. Default: deny (§4.1).
	AllowWriteExecSegment bool

	// Error and Stdout are host callbacks; Opaque is passed back to both
	// unchanged. Error is optional — a nil Error means faults are only
	// observable via Run's returned outcome and the Machine's FaultError.
	Error  ErrorFunc
	Stdout StdoutFunc
	Opaque interface{}

	// BinaryTranslation and TranslateBackground name the optional JIT
	// collaborator's settings (internal/translate). They are stored with
	// the rest of Options but nothing reads them: no code path calls a
	// translate.Provider, whether or not one was installed via
	// Machine.SetTranslateProvider.
	BinaryTranslation  bool
	TranslateBackground bool
}

func (o Options) effective() Options {
	if o.MaxMemory == 0 {
		o.MaxMemory = DefaultMaxMemory
	}
	return o
}
