// Package pmm manages the physical memory of the machine: a contiguous arena
// of page-sized frames and a bitmap allocator that hands them out.
package pmm

import (
	"github.com/NachaFrega/xv6-riscv/kernel"
	"github.com/NachaFrega/xv6-riscv/kernel/cpu"
	"github.com/NachaFrega/xv6-riscv/kernel/kfmt"
	"github.com/NachaFrega/xv6-riscv/kernel/mm"
	"github.com/NachaFrega/xv6-riscv/kernel/sync"
)

// junkByte fills freed frames.
const junkByte = 0x01

var (
	// ErrOutOfMemory is returned when no free frame is available.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of physical memory"}

	errDoubleFree    = &kernel.Error{Module: "pmm", Message: "free: frame is not allocated"}
	errInvalidFrame  = &kernel.Error{Module: "pmm", Message: "free: frame outside physical memory"}
	errNoMemoryFrame = &kernel.Error{Module: "pmm", Message: "physical memory needs at least one frame"}

	// panicFn and allocArenaFn are mocked by tests.
	panicFn      = kfmt.Panic
	allocArenaFn = allocArena
)

// Memory models the physical memory of the machine. Frame contents live in
// a byte arena; a bitmap tracks reserved frames.
type Memory struct {
	lock sync.Spinlock

	data []byte

	// totalFrames is the number of frames in the arena and freeCount the
	// number of them that are not reserved. The allocator uses freeCount
	// to fail fast without scanning the bitmap.
	totalFrames uint32
	freeCount   uint32

	// freeBitmap tracks reserved frames; bit i is set when frame i is in
	// use.
	freeBitmap []uint64

	// nextBlock is the bitmap block where the next scan starts.
	nextBlock int
}

// New returns a physical memory arena with the requested number of frames.
// It fails if frames is zero or the host cannot back the arena.
func New(frames uint32) (*Memory, *kernel.Error) {
	if frames == 0 {
		return nil, errNoMemoryFrame
	}

	data, err := allocArenaFn(int(uintptr(frames) * mm.PageSize))
	if err != nil {
		return nil, err
	}

	m := &Memory{
		data:        data,
		totalFrames: frames,
		freeCount:   frames,
		// round the required bits up to a multiple of 64
		freeBitmap: make([]uint64, (frames+63)>>6),
	}
	m.lock.Init("kmem")

	// Bits for the padding past the last frame are permanently reserved.
	if tail := frames & 63; tail != 0 {
		m.freeBitmap[len(m.freeBitmap)-1] = ^uint64(0) << tail
	}

	return m, nil
}

// AllocFrame reserves a free frame, clears its contents and returns it.
func (m *Memory) AllocFrame(c *cpu.CPU) (mm.Frame, *kernel.Error) {
	m.lock.Acquire(c)

	if m.freeCount == 0 {
		m.lock.Release(c)
		return mm.InvalidFrame, ErrOutOfMemory
	}

	var frame mm.Frame
	for scanned, blockIndex := 0, m.nextBlock; scanned < len(m.freeBitmap); scanned, blockIndex = scanned+1, (blockIndex+1)%len(m.freeBitmap) {
		block := m.freeBitmap[blockIndex]
		if block == ^uint64(0) {
			continue
		}

		bit := 0
		for ; block&(1<<bit) != 0; bit++ {
		}

		frame = mm.Frame(blockIndex<<6 + bit)
		m.markFrame(frame, markReserved)
		m.nextBlock = blockIndex
		break
	}

	m.lock.Release(c)

	kernel.Memset(m.FrameData(frame), 0)
	return frame, nil
}

// FreeFrame returns a frame previously obtained by AllocFrame. Freeing a
// frame twice or a frame outside the arena is a kernel bug.
func (m *Memory) FreeFrame(c *cpu.CPU, frame mm.Frame) {
	if uintptr(frame) >= uintptr(m.totalFrames) {
		panicFn(errInvalidFrame)
		return
	}

	m.lock.Acquire(c)
	defer m.lock.Release(c)

	if !m.reserved(frame) {
		panicFn(errDoubleFree)
		return
	}

	// Fill with junk to catch dangling references.
	kernel.Memset(m.FrameData(frame), junkByte)
	m.markFrame(frame, markFree)
}

// FreeFrames returns the number of frames that are currently available.
func (m *Memory) FreeFrames(c *cpu.CPU) uint32 {
	m.lock.Acquire(c)
	defer m.lock.Release(c)
	return m.freeCount
}

// TotalFrames returns the number of frames in the arena.
func (m *Memory) TotalFrames() uint32 { return m.totalFrames }

// FrameData returns the contents of frame. The returned slice aliases the
// physical memory arena.
func (m *Memory) FrameData(frame mm.Frame) []byte {
	start := frame.Address()
	return m.data[start : start+mm.PageSize : start+mm.PageSize]
}

type markAs bool

const (
	markReserved markAs = false
	markFree     markAs = true
)

// markFrame updates the bitmap bit for frame and the free counter.
func (m *Memory) markFrame(frame mm.Frame, flag markAs) {
	block, mask := frame>>6, uint64(1)<<(frame&63)
	switch flag {
	case markFree:
		m.freeBitmap[block] &^= mask
		m.freeCount++
	case markReserved:
		m.freeBitmap[block] |= mask
		m.freeCount--
	}
}

func (m *Memory) reserved(frame mm.Frame) bool {
	return m.freeBitmap[frame>>6]&(uint64(1)<<(frame&63)) != 0
}
