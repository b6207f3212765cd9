package kernel

import (
	"errors"
	"testing"

	"minitpu/pkg/isa"
)

func TestTiledMatmulDimensionChecks(t *testing.T) {
	tests := []struct {
		name    string
		m, n, k int
	}{
		{"M", 6, 8, 8},
		{"N", 8, 6, 8},
		{"K", 8, 8, 6},
	}
	for _, tc := range tests {
		tr := NewTrace()
		err := TiledMatmul(tr, At(0), At(64), At(128), tc.m, tc.n, tc.k, 4, At(192))
		if !errors.Is(err, ErrDimension) {
			t.Errorf("%s=%d: err = %v; want ErrDimension", tc.name, 6, err)
		}
		if tr.Len() != 0 {
			t.Errorf("%s: %d instructions emitted despite dimension error", tc.name, tr.Len())
		}
	}
}

// Instruction count follows Mt*Nt*(1 + (Kt-1)*(1 + t^2)).
func TestTiledMatmulInstructionCount(t *testing.T) {
	tests := []struct {
		m, n, k, tile int
		want          int
	}{
		{4, 4, 4, 4, 1},      // single tile, no accumulation
		{8, 8, 8, 4, 72},     // 2x2 output tiles, 2 contraction steps
		{8, 4, 8, 4, 36},     // 2x1x2
		{12, 12, 12, 4, 315}, // 3x3x3: 9*(1+2*17)
		{4, 4, 4, 2, 24},     // 2x2x2 with 2x2 tiles: 4*(1+1*5)
	}
	for _, tc := range tests {
		tr := NewTrace()
		if err := TiledMatmul(tr, At(0), At(1024), At(2048), tc.m, tc.n, tc.k, tc.tile, At(4000)); err != nil {
			t.Fatalf("%dx%dx%d/%d: %v", tc.m, tc.n, tc.k, tc.tile, err)
		}
		if tr.Len() != tc.want {
			t.Errorf("%dx%dx%d/%d: %d instructions; want %d", tc.m, tc.n, tc.k, tc.tile, tr.Len(), tc.want)
		}
	}
}

func TestTiledMatmulSingleTile(t *testing.T) {
	tr := NewTrace()
	if err := TiledMatmul(tr, Param{Name: "W"}, Param{Name: "X"}, Param{Name: "Z"}, 4, 4, 4, 4, Param{Name: "temp"}); err != nil {
		t.Fatal(err)
	}
	ops := tr.Instructions()
	if len(ops) != 1 {
		t.Fatalf("%d instructions; want 1", len(ops))
	}
	m, ok := ops[0].(Matmul)
	if !ok {
		t.Fatalf("ops[0] = %#v; want Matmul", ops[0])
	}
	if m.W.Name != "W" || m.X.Name != "X" || m.Z.Name != "Z" || m.Length != 16 {
		t.Errorf("Matmul = %+v", m)
	}
}

// The 8x8 decomposition must address tiles in tile-major order and
// accumulate through the scratch buffer after the first contraction step.
func TestTiledMatmulAddressing(t *testing.T) {
	tr := NewTrace()
	if err := TiledMatmul(tr, At(0), At(64), At(128), 8, 8, 8, 4, At(192)); err != nil {
		t.Fatal(err)
	}
	words := make([]isa.Word, 0, tr.Len())
	for _, op := range tr.Instructions() {
		w, err := op.Resolve(nil)
		if err != nil {
			t.Fatal(err)
		}
		words = append(words, w)
	}

	// Output tile (0,0): first step straight into Z, second into temp.
	first := words[0]
	if first.Mode() != isa.ModeSystolic || first.AddrA() != 0 || first.AddrB() != 64 || first.AddrOut() != 128 {
		t.Errorf("first matmul = %s", isa.Disassemble(first))
	}
	second := words[1]
	if second.AddrA() != 16 || second.AddrB() != 80 || second.AddrOut() != 192 {
		t.Errorf("second matmul = %s; want w=16 x=80 z=192", isa.Disassemble(second))
	}

	// Then 16 accumulating adds: Z[e] = Z[e] + temp[e].
	for e := 0; e < 16; e++ {
		w := words[2+e]
		if w.Mode() != isa.ModeVPU {
			t.Fatalf("word %d is not a VPU op: %s", 2+e, isa.Disassemble(w))
		}
		if w.AddrA() != 128+e || w.AddrB() != 192+e || w.AddrOut() != 128+e {
			t.Errorf("accumulate %d = %s; want add %d %d %d", e, isa.Disassemble(w), 128+e, 192+e, 128+e)
		}
	}

	// Output tile (0,1) starts at Z+16 with W tile row 1.
	next := words[18]
	if next.Mode() != isa.ModeSystolic || next.AddrA() != 32 || next.AddrB() != 64 || next.AddrOut() != 144 {
		t.Errorf("tile (0,1) first matmul = %s; want w=32 x=64 z=144", isa.Disassemble(next))
	}
}

func TestTiledMatmulMatchesLibraryKernel(t *testing.T) {
	// The generic decomposer at 8x8x8 must agree with the hand-written
	// Matmul8x8Tiled kernel.
	tr := NewTrace()
	if err := TiledMatmul(tr, Param{Name: "W"}, Param{Name: "X"}, Param{Name: "Z"}, 8, 8, 8, 4, Param{Name: "temp"}); err != nil {
		t.Fatal(err)
	}
	b := Bindings{"W": 0, "X": 64, "Z": 128, "temp": 192}

	generic := &CompiledKernel{Name: "g", Params: []string{"W", "X", "Z", "temp"}, Instructions: tr.Instructions()}
	genericWords, err := generic.Resolve(b)
	if err != nil {
		t.Fatal(err)
	}
	libWords, err := Matmul8x8Tiled.Compile().Resolve(b)
	if err != nil {
		t.Fatal(err)
	}

	if len(genericWords) != len(libWords) {
		t.Fatalf("generic %d words, library %d", len(genericWords), len(libWords))
	}
	for i := range genericWords {
		if genericWords[i] != libWords[i] {
			t.Errorf("word %d: generic %s, library %s", i, genericWords[i], libWords[i])
		}
	}
}
