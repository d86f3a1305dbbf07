// +build gofuzz

package rv64

// Fuzz feeds arbitrary bytes to GenerateCache as a single-page instruction
// stream (no following page, so a straddling final instruction always
// leaves its trailing slot UNDEFINED rather than reading past data). The
// leading byte selects compressed vs. non-compressed generation so both
// decode paths get exercised; the generator must never panic regardless of
// what garbage it decodes as.
func Fuzz(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	compressed := data[0]&1 != 0
	noNextPage := func(uint64) ([]byte, bool) { return nil, false }
	if GenerateCache(data[1:], 0, compressed, noNextPage) == nil {
		return 0
	}
	return 1
}
