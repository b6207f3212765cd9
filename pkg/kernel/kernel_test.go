package kernel

import (
	"errors"
	"strings"
	"testing"

	"minitpu/pkg/isa"
)

func TestParamArithmetic(t *testing.T) {
	p := Param{Name: "X"}
	q := p.Add(5)
	r := q.Sub(2)

	if p.Offset != 0 {
		t.Error("Add mutated the receiver")
	}
	if q.Offset != 5 || q.Name != "X" {
		t.Errorf("Add(5) = %+v", q)
	}
	if r.Offset != 3 {
		t.Errorf("Sub(2) offset = %d; want 3", r.Offset)
	}
}

func TestParamResolve(t *testing.T) {
	p := Param{Name: "X", Offset: 5}
	addr, err := p.Resolve(Bindings{"X": 100})
	if err != nil || addr != 105 {
		t.Errorf("Resolve = %d, %v; want 105, nil", addr, err)
	}

	if _, err := p.Resolve(Bindings{"Y": 0}); !errors.Is(err, ErrUnbound) {
		t.Errorf("unbound err = %v; want ErrUnbound", err)
	}

	if _, err := p.Resolve(Bindings{"X": 8190}); !errors.Is(err, isa.ErrAddressRange) {
		t.Errorf("overflow err = %v; want ErrAddressRange", err)
	}
	neg := Param{Name: "X", Offset: -1}
	if _, err := neg.Resolve(Bindings{"X": 0}); !errors.Is(err, isa.ErrAddressRange) {
		t.Errorf("negative err = %v; want ErrAddressRange", err)
	}
}

func TestParamAbsolute(t *testing.T) {
	addr, err := At(42).Resolve(nil)
	if err != nil || addr != 42 {
		t.Errorf("At(42).Resolve = %d, %v; want 42, nil", addr, err)
	}
	if _, err := At(8192).Resolve(nil); !errors.Is(err, isa.ErrAddressRange) {
		t.Errorf("At(8192) err = %v; want ErrAddressRange", err)
	}
}

func TestParamString(t *testing.T) {
	tests := []struct {
		p    Param
		want string
	}{
		{Param{Name: "X"}, "X"},
		{Param{Name: "X", Offset: 3}, "X+3"},
		{Param{Name: "X", Offset: -3}, "X-3"},
		{At(7), "@7"},
	}
	for _, tc := range tests {
		if got := tc.p.String(); got != tc.want {
			t.Errorf("String() = %q; want %q", got, tc.want)
		}
	}
}

func TestTraceCapture(t *testing.T) {
	tr := NewTrace()
	tr.Matmul(Param{Name: "W"}, Param{Name: "X"}, Param{Name: "Z"}, 4)
	tr.Add(Param{Name: "A"}, Param{Name: "B"}, Param{Name: "C"})
	tr.VLoad(0, Param{Name: "A"})
	tr.VAdd(2, 0, 1, false)
	tr.VStore(2, Param{Name: "C"})

	if tr.Len() != 5 {
		t.Fatalf("Len() = %d; want 5", tr.Len())
	}

	ops := tr.Instructions()
	if m, ok := ops[0].(Matmul); !ok || m.Length != 16 {
		t.Errorf("ops[0] = %#v; want Matmul with length 16", ops[0])
	}
	if s, ok := ops[1].(Scalar); !ok || s.Op != "add" {
		t.Errorf("ops[1] = %#v; want add Scalar", ops[1])
	}

	tr.Reset()
	if tr.Len() != 0 {
		t.Errorf("Len() after Reset = %d; want 0", tr.Len())
	}
}

func TestKernelCompile(t *testing.T) {
	k := Define("axpy", []string{"A", "B", "C"}, func(tr *Trace, p Args) {
		tr.Mul(p["A"], p["B"], p["C"])
		tr.Add(p["C"], p["B"], p["C"])
	})

	ck := k.Compile()
	if ck.Name != "axpy" {
		t.Errorf("Name = %q; want axpy", ck.Name)
	}
	if len(ck.Params) != 3 || ck.Params[0] != "A" || ck.Params[2] != "C" {
		t.Errorf("Params = %v; want [A B C]", ck.Params)
	}
	if len(ck.Instructions) != 2 {
		t.Fatalf("captured %d instructions; want 2", len(ck.Instructions))
	}
}

func TestResolveMissingBindings(t *testing.T) {
	ck := Matmul4x4.Compile()
	_, err := ck.Resolve(Bindings{"W": 0, "X": 16})
	if !errors.Is(err, ErrUnbound) {
		t.Fatalf("err = %v; want ErrUnbound", err)
	}
	if !strings.Contains(err.Error(), "Z") {
		t.Errorf("error %q does not name the missing parameter Z", err)
	}

	// All-missing names the full sorted set.
	_, err = ck.Resolve(nil)
	for _, name := range []string{"W", "X", "Z"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name %s", err, name)
		}
	}
}

func TestResolveProducesWords(t *testing.T) {
	ck := Matmul4x4.Compile()
	words, err := ck.Resolve(Bindings{"W": 0, "X": 16, "Z": 32})
	if err != nil {
		t.Fatal(err)
	}
	if len(words) != 1 {
		t.Fatalf("resolved %d words; want 1", len(words))
	}
	want, _ := isa.EncodeSystolic(0, 16, 32, 16)
	if words[0] != want {
		t.Errorf("word = %s; want %s", words[0], want)
	}
}

func TestResolveAtomic(t *testing.T) {
	k := Define("bad_tail", []string{"A"}, func(tr *Trace, p Args) {
		tr.Add(p["A"], p["A"], p["A"])
		tr.Add(p["A"].Add(9000), p["A"], p["A"]) // out of range once bound
	})
	words, err := k.Compile().Resolve(Bindings{"A": 0})
	if !errors.Is(err, isa.ErrAddressRange) {
		t.Fatalf("err = %v; want ErrAddressRange", err)
	}
	if words != nil {
		t.Error("partial word list returned alongside error")
	}
}

func TestResolveDispatch(t *testing.T) {
	k := Define("all_ops", []string{"A"}, func(tr *Trace, p Args) {
		tr.Sub(p["A"], p["A"].Add(1), p["A"].Add(2))
		tr.Relu(p["A"], p["A"].Add(3), p["A"].Add(4))
		tr.ReluDerivative(p["A"], p["A"].Add(3), p["A"].Add(5))
		tr.VLoad(1, p["A"])
		tr.VRelu(2, 1)
		tr.VMax(3, 1, 2)
		tr.VMin(4, 1, 2)
		tr.VSub(5, 3, 4, false)
		tr.VMul(6, 5, 5, true)
		tr.VStore(6, p["A"].Add(8))
	})
	words, err := k.Compile().Resolve(Bindings{"A": 64})
	if err != nil {
		t.Fatal(err)
	}

	wants := []string{
		"sub 64 65 66",
		"relu 64 67 68",
		"relu_derivative 64 67 69",
		"vload v1, 64",
		"vrelu v2, v1, v0",
		"vmax v3, v1, v2",
		"vmin v4, v1, v2",
		"vsub v5, v3, v4",
		"vmul v6, v5, v5 (broadcast)",
		"vstore v6, 72",
	}
	if len(words) != len(wants) {
		t.Fatalf("resolved %d words; want %d", len(words), len(wants))
	}
	for i, want := range wants {
		if got := isa.Disassemble(words[i]); got != want {
			t.Errorf("word %d = %q; want %q", i, got, want)
		}
	}
}

func TestVComputeRegisterValidationAtResolve(t *testing.T) {
	tr := NewTrace()
	tr.VAdd(9, 0, 1, false)
	ck := &CompiledKernel{Name: "bad_reg", Instructions: tr.Instructions()}
	if _, err := ck.Resolve(nil); !errors.Is(err, isa.ErrRegisterRange) {
		t.Errorf("err = %v; want ErrRegisterRange", err)
	}
}
