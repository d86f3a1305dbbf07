package memory

// reservation implements the single-hart LR/SC model from §5: without SMP,
// atomics reduce to ordinary sequential operations except that a
// store-conditional must fail if any store touched the reserved address
// since the matching load-reserve.
type reservation struct {
	addr  uint64
	valid bool
}

func (m *Memory) invalidateReservation(addr uint64, length uint64) {
	if m.resv.valid && addr <= m.resv.addr && m.resv.addr < addr+length {
		m.resv.valid = false
	}
}

func (m *Memory) LoadReserve32(addr uint64) uint32 {
	v := m.Load32(addr)
	m.resv = reservation{addr: addr, valid: true}
	return v
}

func (m *Memory) LoadReserve64(addr uint64) uint64 {
	v := m.Load64(addr)
	m.resv = reservation{addr: addr, valid: true}
	return v
}

func (m *Memory) StoreConditional32(addr uint64, v uint32) bool {
	if !m.resv.valid || m.resv.addr != addr {
		return false
	}
	m.Store32(addr, v)
	m.resv.valid = false
	return true
}

func (m *Memory) StoreConditional64(addr uint64, v uint64) bool {
	if !m.resv.valid || m.resv.addr != addr {
		return false
	}
	m.Store64(addr, v)
	m.resv.valid = false
	return true
}

func (m *Memory) AMO32(addr uint64, op func(old uint32) uint32) uint32 {
	old := m.Load32(addr)
	m.Store32(addr, op(old))
	return old
}

func (m *Memory) AMO64(addr uint64, op func(old uint64) uint64) uint64 {
	old := m.Load64(addr)
	m.Store64(addr, op(old))
	return old
}
