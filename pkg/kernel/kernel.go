// Package kernel traces Mini-TPU kernel bodies into relocatable instruction
// lists.
//
// A kernel is declared with an explicit parameter-name list and a body that
// issues logical operations against a Trace. Compiling the kernel runs the
// body once with a symbolic Param per parameter and records every operation;
// the recorded instructions are resolved to concrete 64-bit words when the
// kernel is launched with real addresses bound to its parameters.
package kernel

import (
	"errors"
	"fmt"
	"sort"

	"minitpu/pkg/isa"
)

var (
	ErrUnbound   = errors.New("unbound kernel parameter")
	ErrDimension = errors.New("dimension not divisible by tile size")
)

// Bindings maps parameter names to concrete BRAM addresses.
type Bindings map[string]int

// Param is a symbolic BRAM address: a parameter name plus a signed offset.
// Arithmetic returns new values; a Param never mutates. A Param with an
// empty name is absolute and resolves to its offset alone.
type Param struct {
	Name   string
	Offset int
}

// At builds an absolute Param for callers that already hold a concrete
// address, so traced instructions need only one address representation.
func At(addr int) Param {
	return Param{Offset: addr}
}

// Add returns the Param shifted forward by n words.
func (p Param) Add(n int) Param {
	return Param{Name: p.Name, Offset: p.Offset + n}
}

// Sub returns the Param shifted back by n words.
func (p Param) Sub(n int) Param {
	return Param{Name: p.Name, Offset: p.Offset - n}
}

func (p Param) String() string {
	switch {
	case p.Name == "":
		return fmt.Sprintf("@%d", p.Offset)
	case p.Offset > 0:
		return fmt.Sprintf("%s+%d", p.Name, p.Offset)
	case p.Offset < 0:
		return fmt.Sprintf("%s-%d", p.Name, -p.Offset)
	default:
		return p.Name
	}
}

// Resolve maps the Param to a concrete address using bindings. The result
// must land inside the BRAM arena.
func (p Param) Resolve(b Bindings) (int, error) {
	addr := p.Offset
	if p.Name != "" {
		base, ok := b[p.Name]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnbound, p.Name)
		}
		addr += base
	}
	if addr < 0 || addr > isa.AddrMax {
		return 0, fmt.Errorf("%w: %s resolves to %d (0..%d)", isa.ErrAddressRange, p, addr, isa.AddrMax)
	}
	return addr, nil
}

// Instruction is one traced operation. The concrete types below form a
// closed set; each knows how to resolve itself to an encoded word.
type Instruction interface {
	// Resolve produces the concrete instruction word, or fails if any
	// operand cannot be resolved or encoded.
	Resolve(b Bindings) (isa.Word, error)

	isInstruction()
}

// Matmul is one systolic tile multiply: Z = X * W^T over Length words.
type Matmul struct {
	W, X, Z Param
	Length  int
}

// Scalar is one scalar VPU operation. Const carries the optional fourth
// address operand and is normally absolute zero.
type Scalar struct {
	Op        string
	A, B, Out Param
	Const     Param
}

// VLoad moves 8 words from BRAM into a vector register.
type VLoad struct {
	Reg  int
	Addr Param
}

// VStore moves 8 words from a vector register into BRAM.
type VStore struct {
	Reg  int
	Addr Param
}

// VCompute is one 8-lane SIMD register-to-register operation. Registers
// are concrete at trace time; only BRAM addresses are ever symbolic.
type VCompute struct {
	Op        string
	Dst, A, B int
	ScalarB   bool
}

func (Matmul) isInstruction()   {}
func (Scalar) isInstruction()   {}
func (VLoad) isInstruction()    {}
func (VStore) isInstruction()   {}
func (VCompute) isInstruction() {}

func (m Matmul) Resolve(b Bindings) (isa.Word, error) {
	w, err := m.W.Resolve(b)
	if err != nil {
		return 0, err
	}
	x, err := m.X.Resolve(b)
	if err != nil {
		return 0, err
	}
	z, err := m.Z.Resolve(b)
	if err != nil {
		return 0, err
	}
	return isa.EncodeSystolic(w, x, z, m.Length)
}

func (s Scalar) Resolve(b Bindings) (isa.Word, error) {
	a, err := s.A.Resolve(b)
	if err != nil {
		return 0, err
	}
	bAddr, err := s.B.Resolve(b)
	if err != nil {
		return 0, err
	}
	out, err := s.Out.Resolve(b)
	if err != nil {
		return 0, err
	}
	c, err := s.Const.Resolve(b)
	if err != nil {
		return 0, err
	}
	return isa.EncodeVPU(s.Op, a, bAddr, out, c)
}

func (v VLoad) Resolve(b Bindings) (isa.Word, error) {
	addr, err := v.Addr.Resolve(b)
	if err != nil {
		return 0, err
	}
	return isa.EncodeVLoad(v.Reg, addr)
}

func (v VStore) Resolve(b Bindings) (isa.Word, error) {
	addr, err := v.Addr.Resolve(b)
	if err != nil {
		return 0, err
	}
	return isa.EncodeVStore(v.Reg, addr)
}

func (v VCompute) Resolve(Bindings) (isa.Word, error) {
	return isa.EncodeVCompute(v.Op, v.Dst, v.A, v.B, v.ScalarB)
}

// Trace records the logical operations a kernel body issues. Each
// compilation owns its own Trace; a Trace must not be shared between
// concurrent compilations.
type Trace struct {
	ops []Instruction
}

func NewTrace() *Trace {
	return &Trace{}
}

// Matmul records a systolic multiply of one m x m tile pair.
func (t *Trace) Matmul(w, x, z Param, m int) {
	t.ops = append(t.ops, Matmul{W: w, X: x, Z: z, Length: m * m})
}

// Add records *out = *a + *b.
func (t *Trace) Add(a, b, out Param) {
	t.ops = append(t.ops, Scalar{Op: "add", A: a, B: b, Out: out, Const: At(0)})
}

// Sub records *out = *a - *b.
func (t *Trace) Sub(a, b, out Param) {
	t.ops = append(t.ops, Scalar{Op: "sub", A: a, B: b, Out: out, Const: At(0)})
}

// Mul records *out = *a * *b.
func (t *Trace) Mul(a, b, out Param) {
	t.ops = append(t.ops, Scalar{Op: "mul", A: a, B: b, Out: out, Const: At(0)})
}

// Relu records *out = max(*x, 0). zero addresses a zero constant the
// hardware compares against.
func (t *Trace) Relu(x, zero, out Param) {
	t.ops = append(t.ops, Scalar{Op: "relu", A: x, B: zero, Out: out, Const: At(0)})
}

// ReluDerivative records *out = relu'(*x).
func (t *Trace) ReluDerivative(x, zero, out Param) {
	t.ops = append(t.ops, Scalar{Op: "relu_derivative", A: x, B: zero, Out: out, Const: At(0)})
}

// VLoad records a BRAM-to-register vector load.
func (t *Trace) VLoad(reg int, addr Param) {
	t.ops = append(t.ops, VLoad{Reg: reg, Addr: addr})
}

// VStore records a register-to-BRAM vector store.
func (t *Trace) VStore(reg int, addr Param) {
	t.ops = append(t.ops, VStore{Reg: reg, Addr: addr})
}

// VAdd records dst[i] = a[i] + b[i]; with scalar set, b's lane 0 is
// broadcast to all lanes.
func (t *Trace) VAdd(dst, a, b int, scalar bool) {
	t.ops = append(t.ops, VCompute{Op: "vadd", Dst: dst, A: a, B: b, ScalarB: scalar})
}

// VSub records dst[i] = a[i] - b[i].
func (t *Trace) VSub(dst, a, b int, scalar bool) {
	t.ops = append(t.ops, VCompute{Op: "vsub", Dst: dst, A: a, B: b, ScalarB: scalar})
}

// VMul records dst[i] = a[i] * b[i].
func (t *Trace) VMul(dst, a, b int, scalar bool) {
	t.ops = append(t.ops, VCompute{Op: "vmul", Dst: dst, A: a, B: b, ScalarB: scalar})
}

// VRelu records dst[i] = max(src[i], 0).
func (t *Trace) VRelu(dst, src int) {
	t.ops = append(t.ops, VCompute{Op: "vrelu", Dst: dst, A: src})
}

// VMax records dst[i] = max(a[i], b[i]).
func (t *Trace) VMax(dst, a, b int) {
	t.ops = append(t.ops, VCompute{Op: "vmax", Dst: dst, A: a, B: b})
}

// VMin records dst[i] = min(a[i], b[i]).
func (t *Trace) VMin(dst, a, b int) {
	t.ops = append(t.ops, VCompute{Op: "vmin", Dst: dst, A: a, B: b})
}

// Len returns the number of recorded instructions.
func (t *Trace) Len() int { return len(t.ops) }

// Instructions returns a copy of the recorded instruction list.
func (t *Trace) Instructions() []Instruction {
	return append([]Instruction(nil), t.ops...)
}

// Reset discards everything recorded so far.
func (t *Trace) Reset() { t.ops = nil }

// Args carries the symbolic Param for each declared parameter into a
// kernel body.
type Args map[string]Param

// Body is a kernel definition: it issues the kernel's operations against
// the supplied Trace using the symbolic parameters in Args.
type Body func(t *Trace, p Args)

// Kernel is a declared but not yet compiled kernel.
type Kernel struct {
	name   string
	params []string
	body   Body
}

// Define declares a kernel with an explicit ordered parameter-name list.
func Define(name string, params []string, body Body) *Kernel {
	return &Kernel{name: name, params: append([]string(nil), params...), body: body}
}

func (k *Kernel) Name() string { return k.name }

// Params returns the declared parameter names in order.
func (k *Kernel) Params() []string {
	return append([]string(nil), k.params...)
}

// Compile traces the kernel body once and returns the captured symbolic
// instruction list. Compilation is pure and repeatable; callers that
// schedule the same kernel many times should reuse the result (Program
// keeps such a cache).
func (k *Kernel) Compile() *CompiledKernel {
	t := NewTrace()
	args := make(Args, len(k.params))
	for _, name := range k.params {
		args[name] = Param{Name: name}
	}
	k.body(t, args)

	return &CompiledKernel{
		Name:         k.name,
		Params:       append([]string(nil), k.params...),
		Instructions: t.ops,
	}
}

// CompiledKernel is an immutable traced kernel: an ordered symbolic
// instruction list plus the parameters it must be launched with.
type CompiledKernel struct {
	Name         string
	Params       []string
	Instructions []Instruction
}

// Resolve concretizes every instruction in order. All declared parameters
// must be bound before any word is produced; a failure on any single
// instruction aborts the whole resolution.
func (ck *CompiledKernel) Resolve(b Bindings) ([]isa.Word, error) {
	var missing []string
	for _, name := range ck.Params {
		if _, ok := b[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: kernel %q missing %v", ErrUnbound, ck.Name, missing)
	}

	words := make([]isa.Word, 0, len(ck.Instructions))
	for i, instr := range ck.Instructions {
		w, err := instr.Resolve(b)
		if err != nil {
			return nil, fmt.Errorf("kernel %q instruction %d: %w", ck.Name, i, err)
		}
		words = append(words, w)
	}
	return words, nil
}
