// Package program composes compiled kernels and memory allocations into a
// single deployable Mini-TPU instruction stream.
//
// A Program owns an allocator and an ordered list of kernel calls. Calls
// are never reordered: the compiled stream is the concatenation of each
// call's resolved instructions in submission order, terminated by exactly
// one HALT. Program state is single-owner; concurrent mutation needs
// external synchronization.
package program

import (
	"fmt"

	"minitpu/pkg/isa"
	"minitpu/pkg/kernel"
	"minitpu/pkg/mem"
)

// Call is one scheduled kernel invocation.
type Call struct {
	Kernel   *kernel.CompiledKernel
	Bindings kernel.Bindings
}

// Program accumulates allocations and kernel calls for one deployment.
type Program struct {
	allocator *mem.Allocator
	calls     []Call
	cache     map[*kernel.Kernel]*kernel.CompiledKernel

	// anonCount names the scratch buffers and inline kernels emitted by
	// TiledMatmul so repeated calls do not collide.
	anonCount int
}

func New() *Program {
	return NewWith(mem.New())
}

// NewWith builds a Program over a caller-owned allocator.
func NewWith(a *mem.Allocator) *Program {
	return &Program{
		allocator: a,
		cache:     make(map[*kernel.Kernel]*kernel.CompiledKernel),
	}
}

// Alloc reserves BRAM under name and returns the address.
func (p *Program) Alloc(name string, words int) (int, error) {
	return p.allocator.Alloc(name, words)
}

// Free releases a named allocation back to the allocator's free list.
func (p *Program) Free(name string) error {
	_, err := p.allocator.Free(name)
	return err
}

// Addr returns the address of an existing allocation.
func (p *Program) Addr(name string) (int, error) {
	return p.allocator.Addr(name)
}

// Allocator exposes the owned allocator for callers that need sizes or a
// memory-map dump.
func (p *Program) Allocator() *mem.Allocator { return p.allocator }

// Call schedules a kernel with the given bindings. The kernel is compiled
// at most once per Program; repeated scheduling reuses the cached trace.
func (p *Program) Call(k *kernel.Kernel, bindings kernel.Bindings) {
	ck, ok := p.cache[k]
	if !ok {
		ck = k.Compile()
		p.cache[k] = ck
	}
	p.CallCompiled(ck, bindings)
}

// CallCompiled schedules an already-compiled kernel.
func (p *Program) CallCompiled(ck *kernel.CompiledKernel, bindings kernel.Bindings) {
	b := make(kernel.Bindings, len(bindings))
	for name, addr := range bindings {
		b[name] = addr
	}
	p.calls = append(p.calls, Call{Kernel: ck, Bindings: b})
}

// Calls returns the scheduled calls in submission order.
func (p *Program) Calls() []Call {
	return append([]Call(nil), p.calls...)
}

// TiledMatmul schedules a full tiled matrix multiply over three named
// allocations: Z = X * W^T with X of size m x k, W of size n x k, Z of
// size m x n, all tile-major. A tile*tile scratch buffer is allocated for
// the accumulation steps and freed again once the decomposition is traced.
func (p *Program) TiledMatmul(wName, xName, zName string, m, n, k, tile int) error {
	wAddr, err := p.allocator.Addr(wName)
	if err != nil {
		return err
	}
	xAddr, err := p.allocator.Addr(xName)
	if err != nil {
		return err
	}
	zAddr, err := p.allocator.Addr(zName)
	if err != nil {
		return err
	}

	p.anonCount++
	scratch := fmt.Sprintf("_tiled_matmul_temp%d", p.anonCount)
	tempAddr, err := p.allocator.Alloc(scratch, tile*tile)
	if err != nil {
		return err
	}

	t := kernel.NewTrace()
	err = kernel.TiledMatmul(t, kernel.At(wAddr), kernel.At(xAddr), kernel.At(zAddr),
		m, n, k, tile, kernel.At(tempAddr))
	if err != nil {
		p.allocator.Free(scratch)
		return err
	}

	p.CallCompiled(&kernel.CompiledKernel{
		Name:         fmt.Sprintf("tiled_matmul_%dx%dx%d", m, n, k),
		Instructions: t.Instructions(),
	}, nil)

	// The scratch words stay live at runtime but the name can be recycled
	// for later allocations once the addresses are baked into the trace.
	p.allocator.Free(scratch)
	return nil
}

// Compile resolves every scheduled call in order and appends the single
// terminating HALT. It is a pure read of accumulated state and may be
// called repeatedly. The finished stream must fit instruction memory.
func (p *Program) Compile() ([]isa.Word, error) {
	words := make([]isa.Word, 0, 64)
	for i, call := range p.calls {
		resolved, err := call.Kernel.Resolve(call.Bindings)
		if err != nil {
			return nil, fmt.Errorf("call %d (%s): %w", i, call.Kernel.Name, err)
		}
		words = append(words, resolved...)
	}
	words = append(words, isa.EncodeHalt())

	if len(words) > isa.IMEMMaxSize {
		return nil, fmt.Errorf("%w: program has %d instructions, limit %d",
			isa.ErrIMEMOverflow, len(words), isa.IMEMMaxSize)
	}
	return words, nil
}

// MemoryMap exports the current allocations for external cross-checking.
func (p *Program) MemoryMap() map[string]mem.Region {
	return p.allocator.Map()
}

// Reset clears the allocator, the call list and the kernel compile cache.
func (p *Program) Reset() {
	p.allocator.Reset()
	p.calls = nil
	p.cache = make(map[*kernel.Kernel]*kernel.CompiledKernel)
	p.anonCount = 0
}
