// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Program rvrun loads and runs a RISC-V ELF executable under a sandboxed
// emulator core.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	rv "github.com/iningz/libriscv"
	"github.com/iningz/libriscv/traps"
)

const (
	sysWrite     = 64
	sysExit      = 93
	sysExitGroup = 94
)

func main() {
	log.SetFlags(0)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] elf-file [guest args...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	var (
		maxMemory = uint64(rv.DefaultMaxMemory)
		budget    = int64(1 << 30)
		compressed = true
	)

	flag.Uint64Var(&maxMemory, "maxmemory", maxMemory, "guest address space budget in bytes")
	flag.Int64Var(&budget, "budget", budget, "instruction budget per run() call")
	flag.BoolVar(&compressed, "c", compressed, "enable the RVC compressed-instruction decoder")
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	filename := flag.Arg(0)
	guestArgs := flag.Args()[1:]

	elfBytes, err := os.ReadFile(filename)
	if err != nil {
		log.Fatal(err)
	}

	m, err := rv.New(elfBytes, rv.Options{
		MaxMemory:  maxMemory,
		Compressed: compressed,
		Argv:       append([]string{filename}, guestArgs...),
		Envp:       os.Environ(),
		Error: func(opaque interface{}, kind int, message string, data uint64) {
			fmt.Fprintf(os.Stderr, "rvrun: %s\n", message)
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	installSyscalls(m)

	for {
		switch id := m.Run(budget); id {
		case traps.OK:
			os.Exit(int(m.Reg(10))) // a0 carries the exit status
		case traps.Timeout:
			continue
		case traps.Halted:
			os.Exit(1)
		default: // traps.Faulted
			if fe := m.FaultError(); fe != nil {
				log.Fatal(fe)
			}
			os.Exit(1)
		}
	}
}

// installSyscalls wires a minimal Linux-compatible syscall surface: enough
// for a libc-linked guest to write to stdout/stderr and exit cleanly. A
// richer guest environment (files, mmap-backed brk) is a host concern left
// to whatever syscall table the embedding program installs instead.
func installSyscalls(m *rv.Machine) {
	writeHandler := func(m *rv.Machine) {
		fd := int64(m.Reg(10))
		addr := m.Reg(11)
		length := m.Reg(12)

		buf, err := m.Read(addr, length)
		if err != nil {
			m.SetReg(10, ^uint64(0)) // -1
			return
		}

		var f *os.File
		switch fd {
		case 1:
			f = os.Stdout
		case 2:
			f = os.Stderr
		default:
			m.SetReg(10, ^uint64(0))
			return
		}

		n, _ := f.Write(buf)
		m.SetReg(10, uint64(n))
	}
	m.SetSyscallHandler(sysWrite, writeHandler)

	exitHandler := func(m *rv.Machine) {
		m.Halt()
	}
	m.SetSyscallHandler(sysExit, exitHandler)
	m.SetSyscallHandler(sysExitGroup, exitHandler)
}
