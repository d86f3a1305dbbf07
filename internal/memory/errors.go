package memory

import (
	"github.com/iningz/libriscv/internal/machineerr"
	"github.com/iningz/libriscv/trap"
)

func newMachineError(kind trap.Kind, pc, data uint64, msg string) error {
	return machineerr.Newf(kind, pc, data, nil, "%s", msg)
}
