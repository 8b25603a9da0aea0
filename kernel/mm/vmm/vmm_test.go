package vmm

import (
	"testing"

	"github.com/NachaFrega/xv6-riscv/kernel"
	"github.com/NachaFrega/xv6-riscv/kernel/cpu"
	"github.com/NachaFrega/xv6-riscv/kernel/kfmt"
	"github.com/NachaFrega/xv6-riscv/kernel/mm"
	"github.com/NachaFrega/xv6-riscv/kernel/mm/pmm"
)

// newTestSpace returns an address space backed by a fresh physical memory
// with the requested number of frames and the CPU it is active on.
func newTestSpace(t *testing.T, frames uint32, opts Options) (*AddressSpace, *pmm.Memory, *cpu.CPU) {
	t.Helper()

	c := cpu.New(0)
	mem, err := pmm.New(frames)
	if err != nil {
		t.Fatal(err)
	}
	as, err := New(c, mem, opts)
	if err != nil {
		t.Fatal(err)
	}
	c.Activate(as.Root())

	return as, mem, c
}

func TestMapTranslate(t *testing.T) {
	as, mem, c := newTestSpace(t, 16, Options{})

	if _, ok := as.Translate(0x5000); ok {
		t.Fatal("expected unmapped address not to translate")
	}

	frame, _ := mem.AllocFrame(c)
	if err := as.Map(c, mm.PageFromAddress(0x5000), frame, FlagPresent|FlagRW|FlagUserAccessible); err != nil {
		t.Fatal(err)
	}

	for _, addr := range []uintptr{0x5000, 0x5001, 0x5fff} {
		pte, ok := as.Translate(addr)
		if !ok {
			t.Fatalf("expected %x to translate", addr)
		}

		if pte.Frame() != frame {
			t.Fatalf("expected %x to map to frame %d; got %d", addr, frame, pte.Frame())
		}

		if !pte.HasFlags(FlagPresent | FlagRW | FlagUserAccessible) {
			t.Fatalf("expected entry flags to be preserved; got %b", pte.Flags())
		}
	}

	if _, ok := as.Translate(0x6000); ok {
		t.Fatal("expected neighbouring page not to translate")
	}

	if _, ok := as.Translate(MaxUserAddr); ok {
		t.Fatal("expected address past the user address space not to translate")
	}

	if err := as.Map(c, mm.PageFromAddress(MaxUserAddr), frame, FlagPresent); err != ErrInvalidAddress {
		t.Fatalf("expected ErrInvalidAddress; got %v", err)
	}

	got, err := as.Unmap(c, mm.PageFromAddress(0x5000))
	if err != nil || got != frame {
		t.Fatalf("expected Unmap to return frame %d; got %d (err: %v)", frame, got, err)
	}

	if _, err := as.Unmap(c, mm.PageFromAddress(0x5000)); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping; got %v", err)
	}
}

func TestGrowShrink(t *testing.T) {
	as, mem, c := newTestSpace(t, 16, Options{})
	baseline := mem.FreeFrames(c)

	if err := as.Grow(c, 0x1000, 0x4000); err != nil {
		t.Fatal(err)
	}

	for addr := uintptr(0x1000); addr < 0x4000; addr += mm.PageSize {
		pte, ok := as.Translate(addr)
		if !ok || !pte.HasFlags(FlagRW|FlagUserAccessible) {
			t.Fatalf("expected %x to be mapped as a writable user page", addr)
		}
	}

	if _, ok := as.Translate(0); ok {
		t.Fatal("expected page 0 to stay unmapped")
	}

	// 3 pages + 1 leaf table
	if exp, got := baseline-4, mem.FreeFrames(c); got != exp {
		t.Fatalf("expected %d free frames; got %d", exp, got)
	}

	as.Shrink(c, 0x4000, 0x2000)
	if _, ok := as.Translate(0x2000); ok {
		t.Fatal("expected shrunk page to be unmapped")
	}
	if _, ok := as.Translate(0x1000); !ok {
		t.Fatal("expected page below the new size to stay mapped")
	}

	if err := as.Grow(c, 0, MaxUserAddr+mm.PageSize); err != ErrInvalidAddress {
		t.Fatalf("expected ErrInvalidAddress; got %v", err)
	}
}

func TestGrowOutOfMemory(t *testing.T) {
	as, mem, c := newTestSpace(t, 4, Options{})
	baseline := mem.FreeFrames(c)

	if err := as.Grow(c, 0, 8*mm.PageSize); err != pmm.ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory; got %v", err)
	}

	for addr := uintptr(0); addr < 8*mm.PageSize; addr += mm.PageSize {
		if _, ok := as.Translate(addr); ok {
			t.Fatalf("expected failed Grow to unmap %x", addr)
		}
	}

	// The leaf table allocated by the failed call stays in place.
	if got := mem.FreeFrames(c); got != baseline-1 {
		t.Fatalf("expected %d free frames; got %d", baseline-1, got)
	}
}

func TestCopy(t *testing.T) {
	as, mem, c := newTestSpace(t, 32, Options{})

	if err := as.Grow(c, 0, 3*mm.PageSize); err != nil {
		t.Fatal(err)
	}

	for addr := uintptr(0); addr < 3*mm.PageSize; addr += 512 {
		if regs := as.Store(c, addr, byte(addr>>9)); regs != nil {
			t.Fatalf("unexpected fault storing to %x: %+v", addr, regs)
		}
	}

	if err := as.SetWritable(c, mm.PageSize, mm.PageSize, false); err != nil {
		t.Fatal(err)
	}

	child, err := as.Copy(c)
	if err != nil {
		t.Fatal(err)
	}

	for addr := uintptr(0); addr < 3*mm.PageSize; addr += mm.PageSize {
		parentPte, _ := as.Translate(addr)
		childPte, ok := child.Translate(addr)
		if !ok {
			t.Fatalf("expected %x to be mapped in the copy", addr)
		}

		if childPte.Frame() == parentPte.Frame() {
			t.Fatalf("expected %x to be backed by a private frame", addr)
		}

		if childPte.Flags() != parentPte.Flags() {
			t.Fatalf("expected %x flags %b; got %b", addr, parentPte.Flags(), childPte.Flags())
		}

		if exp, got := mem.FrameData(parentPte.Frame()), mem.FrameData(childPte.Frame()); string(exp) != string(got) {
			t.Fatalf("expected page %x contents to be copied", addr)
		}
	}

	if !child.Protected(mm.PageSize) {
		t.Fatal("expected the copy to inherit the protected page")
	}

	// Writes to the copy do not leak into the parent.
	c.Activate(child.Root())
	if regs := child.Store(c, 0, 0xaa); regs != nil {
		t.Fatalf("unexpected fault: %+v", regs)
	}
	c.Activate(as.Root())
	if b, _ := as.Load(c, 0); b != 0 {
		t.Fatalf("expected parent byte to remain 0; got %x", b)
	}

	baseline := mem.FreeFrames(c)
	child.Destroy(c)
	// 3 pages, 1 leaf table and the root
	if exp, got := baseline+5, mem.FreeFrames(c); got != exp {
		t.Fatalf("expected Destroy to release 5 frames (%d free); got %d free", exp, got)
	}
}

func TestCopyOutOfMemory(t *testing.T) {
	as, mem, c := newTestSpace(t, 8, Options{})

	if err := as.Grow(c, 0, 4*mm.PageSize); err != nil {
		t.Fatal(err)
	}

	baseline := mem.FreeFrames(c)
	if _, err := as.Copy(c); err != pmm.ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory; got %v", err)
	}

	if got := mem.FreeFrames(c); got != baseline {
		t.Fatalf("expected failed Copy to release its frames (%d free); got %d", baseline, got)
	}
}

func TestDestroyTwice(t *testing.T) {
	defer func() { panicFn = kfmt.Panic }()

	var panicErr *kernel.Error
	panicFn = func(e interface{}) { panicErr = e.(*kernel.Error) }

	as, mem, c := newTestSpace(t, 8, Options{})
	if err := as.Grow(c, 0, 2*mm.PageSize); err != nil {
		t.Fatal(err)
	}

	as.Destroy(c)
	if exp, got := mem.TotalFrames(), mem.FreeFrames(c); got != exp {
		t.Fatalf("expected every frame to be free; got %d of %d", got, exp)
	}

	as.Destroy(c)
	if panicErr != errDoubleDestroy {
		t.Fatalf("expected panic with errDoubleDestroy; got %v", panicErr)
	}
}
