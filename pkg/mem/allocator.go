// Package mem manages the Mini-TPU's flat 8192-word BRAM arena.
//
// Allocation is first-fit over a free list of previously released blocks,
// falling back to bump allocation at the high-water mark. Freed blocks are
// not coalesced with their neighbours; under heavy alloc/free churn the
// arena can fragment, which callers accept in exchange for the predictable
// first-fit ordering the kernel code relies on.
package mem

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"minitpu/pkg/isa"
)

var (
	ErrOutOfMemory  = errors.New("out of BRAM")
	ErrNotAllocated = errors.New("no allocation with that name")
)

// Region is a named allocation's placement in the arena.
type Region struct {
	Addr int
	Size int
}

// Allocator hands out contiguous word ranges from the BRAM arena.
// It is not safe for concurrent use.
type Allocator struct {
	nextFree int
	regions  map[string]Region
	freeList []Region
}

func New() *Allocator {
	return &Allocator{regions: make(map[string]Region)}
}

// Alloc reserves a contiguous run of FP32 words under name and returns the
// starting word address. The free list is scanned first (first-fit); any
// surplus from a reused block is returned to the free list. A request that
// cannot be satisfied leaves the allocator unchanged.
func (a *Allocator) Alloc(name string, words int) (int, error) {
	if words <= 0 {
		return 0, fmt.Errorf("allocation %q: size must be positive, got %d", name, words)
	}
	if _, exists := a.regions[name]; exists {
		return 0, fmt.Errorf("allocation %q already exists", name)
	}

	for i, blk := range a.freeList {
		if blk.Size >= words {
			a.freeList = append(a.freeList[:i], a.freeList[i+1:]...)
			a.regions[name] = Region{Addr: blk.Addr, Size: words}
			if blk.Size > words {
				a.freeList = append(a.freeList, Region{Addr: blk.Addr + words, Size: blk.Size - words})
			}
			return blk.Addr, nil
		}
	}

	if a.nextFree+words > isa.MemorySize {
		return 0, fmt.Errorf("%w: cannot allocate %d words for %q (used %d, free list %d blocks)",
			ErrOutOfMemory, words, name, a.nextFree, len(a.freeList))
	}

	addr := a.nextFree
	a.nextFree += words
	a.regions[name] = Region{Addr: addr, Size: words}
	return addr, nil
}

// Free releases a named allocation, appending its region verbatim to the
// free list. Adjacent free blocks are deliberately not merged.
func (a *Allocator) Free(name string) (Region, error) {
	r, ok := a.regions[name]
	if !ok {
		return Region{}, fmt.Errorf("%w: %q", ErrNotAllocated, name)
	}
	delete(a.regions, name)
	a.freeList = append(a.freeList, r)
	return r, nil
}

// Addr returns the starting address of an existing allocation.
func (a *Allocator) Addr(name string) (int, error) {
	r, ok := a.regions[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotAllocated, name)
	}
	return r.Addr, nil
}

// Size returns the word count of an existing allocation.
func (a *Allocator) Size(name string) (int, error) {
	r, ok := a.regions[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotAllocated, name)
	}
	return r.Size, nil
}

// Used returns the total words currently allocated. Freed blocks do not
// count, even though bump space is never reclaimed.
func (a *Allocator) Used() int {
	total := 0
	for _, r := range a.regions {
		total += r.Size
	}
	return total
}

// HighWater returns the bump pointer: the highest address ever allocated.
func (a *Allocator) HighWater() int { return a.nextFree }

// FreeWords returns the total size of all free-list blocks.
func (a *Allocator) FreeWords() int {
	total := 0
	for _, r := range a.freeList {
		total += r.Size
	}
	return total
}

// Map returns a copy of the current memory map.
func (a *Allocator) Map() map[string]Region {
	out := make(map[string]Region, len(a.regions))
	for name, r := range a.regions {
		out[name] = r
	}
	return out
}

// Reset returns the allocator to its initial empty state.
func (a *Allocator) Reset() {
	a.nextFree = 0
	a.regions = make(map[string]Region)
	a.freeList = nil
}

// DumpTo writes a human-readable memory map, sorted by address.
func (a *Allocator) DumpTo(w io.Writer) {
	names := make([]string, 0, len(a.regions))
	for name := range a.regions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return a.regions[names[i]].Addr < a.regions[names[j]].Addr
	})

	fmt.Fprintf(w, "==== TPU MEMORY MAP ====\n")
	for _, name := range names {
		r := a.regions[name]
		fmt.Fprintf(w, "%-15s : addr=%5d, size=%d words\n", name, r.Addr, r.Size)
	}
	fmt.Fprintf(w, "Allocated: %d words\n", a.Used())
	fmt.Fprintf(w, "High water mark: %d words\n", a.nextFree)
	fmt.Fprintf(w, "Free list: %d blocks, %d words\n", len(a.freeList), a.FreeWords())
	fmt.Fprintf(w, "Capacity: %d words\n", isa.MemorySize)
}
