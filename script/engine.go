// Package script implements the embedded-scripting collaborator §1 names as
// a target use case: a host can load a Lua chunk that declares ECALL
// handlers by syscall number and have them adapted to rv.SyscallHandler
// without writing any Go glue per syscall. Backed by
// github.com/yuin/gopher-lua, the scripting engine surfaced by the
// retrieval pack's IntuitionAmiga-IntuitionEngine go.mod.
package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	rv "github.com/iningz/libriscv"
)

// ecallsTable is the name of the global Lua table a chunk must define:
// integer syscall numbers mapped to handler functions.
const ecallsTable = "ecalls"

// Engine owns one Lua state loaded from a single chunk of script source.
type Engine struct {
	L *lua.LState
}

// Load compiles and runs source, making its top-level declarations
// (including the ecalls table Install reads) available.
func Load(source string) (*Engine, error) {
	L := lua.NewState()
	if err := L.DoString(source); err != nil {
		L.Close()
		return nil, fmt.Errorf("script: %w", err)
	}
	return &Engine{L: L}, nil
}

// Close releases the Lua state.
func (e *Engine) Close() { e.L.Close() }

// Install walks the chunk's ecalls table and registers one rv.SyscallHandler
// per declared syscall number, adapting each Lua function to the Go
// handler signature: a0..a7 are marshalled in as Lua integers (argument
// order matches the RISC-V calling convention) and the handler's single
// return value, if any, is written back to a0.
func (e *Engine) Install(m *rv.Machine) error {
	tbl, ok := e.L.GetGlobal(ecallsTable).(*lua.LTable)
	if !ok {
		return fmt.Errorf("script: global %q is not a table", ecallsTable)
	}

	var installErr error
	tbl.ForEach(func(key, value lua.LValue) {
		if installErr != nil {
			return
		}
		n, ok := key.(lua.LNumber)
		if !ok {
			installErr = fmt.Errorf("script: ecalls key %v is not a number", key)
			return
		}
		fn, ok := value.(*lua.LFunction)
		if !ok {
			installErr = fmt.Errorf("script: ecalls[%v] is not a function", n)
			return
		}
		m.SetSyscallHandler(uint64(n), e.adapt(fn))
	})
	return installErr
}

// adapt builds an rv.SyscallHandler that calls fn with a0..a7 as Lua
// integers, writing any single returned integer back to a0.
func (e *Engine) adapt(fn *lua.LFunction) rv.SyscallHandler {
	return func(m *rv.Machine) {
		args := make([]lua.LValue, 8)
		for i := 0; i < 8; i++ {
			args[i] = lua.LNumber(m.Reg(10 + i)) // a0..a7 == x10..x17
		}

		if err := e.L.CallByParam(lua.P{
			Fn:      fn,
			NRet:    1,
			Protect: true,
		}, args...); err != nil {
			return
		}

		ret := e.L.Get(-1)
		e.L.Pop(1)
		if n, ok := ret.(lua.LNumber); ok {
			m.SetReg(10, uint64(int64(n)))
		}
	}
}
