// +build gofuzz

package loader

import "github.com/iningz/libriscv/internal/memory"

// Fuzz feeds arbitrary bytes to Load as though they were an ELF file. It
// never panics on malformed input (Load is expected to reject it with an
// error); a panic here means the program-header walk trusts something it
// shouldn't.
func Fuzz(data []byte) int {
	mem := memory.New(64<<20, false)
	defer mem.Close()

	if _, err := Load(mem, data, Options{}); err != nil {
		return 0
	}
	return 1
}
