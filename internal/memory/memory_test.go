package memory

import (
	"bytes"
	"errors"
	"testing"

	"github.com/iningz/libriscv/internal/machineerr"
	"github.com/iningz/libriscv/internal/page"
	"github.com/iningz/libriscv/trap"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	m := New(1<<20, false)
	m.SetPageFaultHandler(func(m *Memory, pageno uint64) (*page.Page, error) {
		return m.CreatePage(pageno, page.Attr{Read: true, Write: true})
	})
	return m
}

func TestMemcpyRoundTrip(t *testing.T) {
	m := newTestMemory(t)
	want := []byte("hello, riscv")
	if err := m.Memcpy(0x1000, want); err != nil {
		t.Fatalf("Memcpy: %v", err)
	}
	got, err := m.MemcpyOut(0x1000, uint64(len(want)))
	if err != nil {
		t.Fatalf("MemcpyOut: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip mismatch: got %q want %q", got, want)
	}
}

func TestMemcpySpansPageBoundary(t *testing.T) {
	m := newTestMemory(t)
	addr := uint64(page.Size - 4)
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := m.Memcpy(addr, want); err != nil {
		t.Fatalf("Memcpy: %v", err)
	}
	got, err := m.MemcpyOut(addr, uint64(len(want)))
	if err != nil {
		t.Fatalf("MemcpyOut: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("boundary-spanning round trip mismatch: got %v want %v", got, want)
	}
}

func TestReadFromUnmappedIsZero(t *testing.T) {
	m := New(1<<20, false) // no page fault handler installed: reads must still work
	got, err := m.MemcpyOut(0x4000, 16)
	if err != nil {
		t.Fatalf("MemcpyOut: %v", err)
	}
	for i, b := range got {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
}

func TestWriteToUnmappedWithoutFaultHandlerFails(t *testing.T) {
	m := New(1<<20, false)
	if err := m.Memcpy(0x4000, []byte{1}); err == nil {
		t.Fatal("expected error writing without a page fault handler installed")
	}
}

func TestWriteReadOnlyPageFails(t *testing.T) {
	m := newTestMemory(t)
	if _, err := m.CreatePage(1, page.Attr{Read: true}); err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	err := m.Memcpy(1*page.Size, []byte{1})
	if err == nil {
		t.Fatal("expected protection fault writing a read-only page")
	}
}

func TestGatherBuffersFromRangeMatchesMemcpyOut(t *testing.T) {
	m := newTestMemory(t)
	data := bytes.Repeat([]byte{0xAB}, page.Size+32)
	if err := m.Memcpy(page.Size-16, data); err != nil {
		t.Fatalf("Memcpy: %v", err)
	}

	spans := make([]VBuffer, 4)
	n, err := m.GatherBuffersFromRange(spans, page.Size-16, uint64(len(data)))
	if err != nil {
		t.Fatalf("GatherBuffersFromRange: %v", err)
	}
	var gathered []byte
	for _, s := range spans[:n] {
		gathered = append(gathered, s.Ptr...)
	}

	out, err := m.MemcpyOut(page.Size-16, uint64(len(data)))
	if err != nil {
		t.Fatalf("MemcpyOut: %v", err)
	}
	if !bytes.Equal(gathered, out) {
		t.Fatalf("gather/memcpy mismatch: got %v want %v", gathered, out)
	}
}

func TestGatherBuffersTooSmall(t *testing.T) {
	m := newTestMemory(t)
	if err := m.Memcpy(page.Size-16, bytes.Repeat([]byte{1}, 32)); err != nil {
		t.Fatalf("Memcpy: %v", err)
	}
	spans := make([]VBuffer, 1)
	if _, err := m.GatherBuffersFromRange(spans, page.Size-16, 32); err == nil {
		t.Fatal("expected error when spans is too small for a boundary-spanning range")
	}
}

func TestMemstringFindsTerminator(t *testing.T) {
	m := newTestMemory(t)
	if err := m.Memcpy(0x2000, []byte("abc\x00def")); err != nil {
		t.Fatalf("Memcpy: %v", err)
	}
	s, err := m.Memstring(0x2000, 64)
	if err != nil {
		t.Fatalf("Memstring: %v", err)
	}
	if s != "abc" {
		t.Fatalf("Memstring = %q, want %q", s, "abc")
	}
}

func TestMemstringNoTerminatorFails(t *testing.T) {
	m := newTestMemory(t)
	if err := m.Memcpy(0x2000, bytes.Repeat([]byte{'a'}, 8)); err != nil {
		t.Fatalf("Memcpy: %v", err)
	}
	if _, err := m.Memstring(0x2000, 4); err == nil {
		t.Fatal("expected error when no NUL terminator appears within maxLen")
	}
}

func TestCreatePageExceedingBudgetFails(t *testing.T) {
	m := New(page.Size, false)
	if _, err := m.CreatePage(0, page.Attr{Read: true, Write: true}); err != nil {
		t.Fatalf("first page: %v", err)
	}
	if _, err := m.CreatePage(1, page.Attr{Read: true, Write: true}); err == nil {
		t.Fatal("expected out-of-memory error exceeding max_memory")
	}
}

func TestMmapAllocateThenUnmapReuses(t *testing.T) {
	m := newTestMemory(t)
	m.SetHeapAddress(0x10000)

	a := m.MmapAllocate(page.Size)
	b := m.MmapAllocate(page.Size)
	if b != a+page.Size {
		t.Fatalf("second allocation = %#x, want immediately after first (%#x)", b, a+page.Size)
	}

	if !m.MmapUnmap(b, page.Size) {
		t.Fatal("MmapUnmap of most recent allocation should succeed")
	}
	// Unmapping the cursor-adjacent span should rewind the cursor, so the
	// next allocation of the same size is deterministic (§8 property 6):
	// it reuses exactly the address just freed.
	c := m.MmapAllocate(page.Size)
	if c != b {
		t.Fatalf("MmapAllocate after unmap = %#x, want reused address %#x", c, b)
	}
}

func TestMmapUnmapFreesOwnedPages(t *testing.T) {
	m := newTestMemory(t)
	m.SetHeapAddress(0x10000)
	addr := m.MmapAllocate(page.Size)
	if err := m.Memcpy(addr, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Memcpy: %v", err)
	}
	if _, ok := m.PageAt(page.Number(addr)); !ok {
		t.Fatal("expected page to be materialised after a write fault")
	}
	m.MmapUnmap(addr, page.Size)
	if _, ok := m.PageAt(page.Number(addr)); ok {
		t.Fatal("expected page to be dropped after MmapUnmap")
	}
}

func TestAtomicsReserveAndStoreConditional(t *testing.T) {
	m := newTestMemory(t)
	m.Store32(0x3000, 10)

	got := m.LoadReserve32(0x3000)
	if got != 10 {
		t.Fatalf("LoadReserve32 = %d, want 10", got)
	}
	if !m.StoreConditional32(0x3000, 20) {
		t.Fatal("StoreConditional32 should succeed immediately after LoadReserve32")
	}
	if m.Load32(0x3000) != 20 {
		t.Fatal("StoreConditional32 should have stored the new value")
	}
	// A second attempt with no intervening reserve must fail (§5: "reduce
	// to ordinary sequential operations except that a store-conditional
	// must fail if any store touched the reserved address").
	if m.StoreConditional32(0x3000, 30) {
		t.Fatal("StoreConditional32 without a fresh reservation should fail")
	}
}

func TestAtomicsReservationInvalidatedByIntermediateStore(t *testing.T) {
	m := newTestMemory(t)
	m.Store64(0x3000, 1)
	m.LoadReserve64(0x3000)
	m.Store64(0x3000, 2) // any store to the reserved address clears it
	if m.StoreConditional64(0x3000, 3) {
		t.Fatal("StoreConditional64 should fail after an intervening store invalidated the reservation")
	}
}

func TestAMO32AppliesOpAndReturnsOld(t *testing.T) {
	m := newTestMemory(t)
	m.Store32(0x3000, 5)
	old := m.AMO32(0x3000, func(v uint32) uint32 { return v + 1 })
	if old != 5 {
		t.Fatalf("AMO32 returned %d, want old value 5", old)
	}
	if m.Load32(0x3000) != 6 {
		t.Fatal("AMO32 should have stored the updated value")
	}
}

func TestExecPageAtRequiresExec(t *testing.T) {
	m := newTestMemory(t)
	if _, err := m.CreatePage(2, page.Attr{Read: true, Write: true}); err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if _, err := m.ExecPageAt(2); err == nil {
		t.Fatal("expected ExecutionSpaceProtectionFault for a non-executable page")
	}

	if _, err := m.CreatePage(3, page.Attr{Read: true, Exec: true}); err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	p, err := m.ExecPageAt(3)
	if err != nil {
		t.Fatalf("ExecPageAt: %v", err)
	}
	if !p.Attr.Exec {
		t.Fatal("returned page should be executable")
	}
}

func TestMustAccessPanicsRecoverableViaRecover(t *testing.T) {
	m := New(1<<20, false) // no fault handler: a write must fail
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected mustAccess to panic")
		}
		if _, ok := Recover(r); !ok {
			t.Fatal("Recover should unwrap the access panic")
		}
	}()
	m.Store8(0x5000, 1)
}

func TestSetAttrAppliesAcrossPages(t *testing.T) {
	m := newTestMemory(t)
	if err := m.Memcpy(0, bytes.Repeat([]byte{1}, 2*page.Size)); err != nil {
		t.Fatalf("Memcpy: %v", err)
	}
	m.SetAttr(0, 2*page.Size, page.Attr{Read: true})
	if err := m.Memcpy(0, []byte{2}); err == nil {
		t.Fatal("expected write to fail after SetAttr dropped the Write bit on page 0")
	}
	if err := m.Memcpy(page.Size, []byte{2}); err == nil {
		t.Fatal("expected write to fail after SetAttr dropped the Write bit on page 1")
	}
}

func TestCreatePageDeniesWriteExecByDefault(t *testing.T) {
	m := New(1<<20, false)
	p, err := m.CreatePage(0, page.Attr{Read: true, Write: true, Exec: true})
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if p.Attr.Write {
		t.Fatal("Write should have been clamped off when Exec is set and allow_write_exec_segment is false")
	}
	if !p.Attr.Exec {
		t.Fatal("Exec should survive the clamp")
	}
}

func TestCreatePageAllowsWriteExecWhenOptedIn(t *testing.T) {
	m := New(1<<20, true)
	p, err := m.CreatePage(0, page.Attr{Read: true, Write: true, Exec: true})
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if !p.Attr.Write || !p.Attr.Exec {
		t.Fatal("Write+Exec should both survive when allow_write_exec_segment is true")
	}
}

func TestSetAttrDeniesWriteExecByDefault(t *testing.T) {
	m := newTestMemory(t)
	if err := m.Memcpy(0, []byte{1}); err != nil {
		t.Fatalf("Memcpy: %v", err)
	}
	m.SetAttr(0, page.Size, page.Attr{Read: true, Write: true, Exec: true})
	if m.pages[0].Attr.Write {
		t.Fatal("SetAttr should have clamped Write off alongside Exec")
	}
}

func TestInvalidProgramKindOnBadGather(t *testing.T) {
	m := newTestMemory(t)
	if err := m.Memcpy(page.Size-8, bytes.Repeat([]byte{1}, 16)); err != nil {
		t.Fatalf("Memcpy: %v", err)
	}
	spans := make([]VBuffer, 1)
	_, err := m.GatherBuffersFromRange(spans, page.Size-8, 16)
	if err == nil {
		t.Fatal("expected error")
	}
	var me *machineerr.Error
	if !errors.As(err, &me) {
		t.Fatalf("expected a *machineerr.Error, got %T", err)
	}
	if me.Kind != trap.InvalidProgram {
		t.Fatalf("kind = %v, want InvalidProgram", me.Kind)
	}
}
