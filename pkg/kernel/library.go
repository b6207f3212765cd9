package kernel

// Prebuilt kernels for common Mini-TPU operations. Scalar vector kernels
// process 16 elements one VPU instruction at a time; the SIMD variants use
// the 8-lane vector unit.

// Matmul4x4 computes Z = X * W^T for one native 4x4 tile.
var Matmul4x4 = Define("matmul_4x4", []string{"W", "X", "Z"}, func(t *Trace, p Args) {
	t.Matmul(p["W"], p["X"], p["Z"], 4)
})

// Matmul8x8Tiled computes an 8x8 Z = X * W^T from 2x2x2 tile-major 4x4
// tiles, accumulating through a 16-word scratch buffer at temp.
var Matmul8x8Tiled = Define("matmul_8x8_tiled", []string{"W", "X", "Z", "temp"}, func(t *Trace, p Args) {
	const t2 = 16

	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			zTile := p["Z"].Add((i*2 + j) * t2)
			for k := 0; k < 2; k++ {
				xTile := p["X"].Add((i*2 + k) * t2)
				wTile := p["W"].Add((j*2 + k) * t2)

				if k == 0 {
					t.Matmul(wTile, xTile, zTile, 4)
					continue
				}
				t.Matmul(wTile, xTile, p["temp"], 4)
				for e := 0; e < t2; e++ {
					t.Add(zTile.Add(e), p["temp"].Add(e), zTile.Add(e))
				}
			}
		}
	}
})

// VectorAdd computes C[i] = A[i] + B[i] for i in 0..15.
var VectorAdd = Define("vector_add", []string{"A", "B", "C"}, func(t *Trace, p Args) {
	for i := 0; i < 16; i++ {
		t.Add(p["A"].Add(i), p["B"].Add(i), p["C"].Add(i))
	}
})

// VectorSub computes C[i] = A[i] - B[i] for i in 0..15.
var VectorSub = Define("vector_sub", []string{"A", "B", "C"}, func(t *Trace, p Args) {
	for i := 0; i < 16; i++ {
		t.Sub(p["A"].Add(i), p["B"].Add(i), p["C"].Add(i))
	}
})

// VectorMul computes C[i] = A[i] * B[i] for i in 0..15.
var VectorMul = Define("vector_mul", []string{"A", "B", "C"}, func(t *Trace, p Args) {
	for i := 0; i < 16; i++ {
		t.Mul(p["A"].Add(i), p["B"].Add(i), p["C"].Add(i))
	}
})

// VectorRelu computes Y[i] = max(X[i], 0) for i in 0..15. Zero addresses a
// single zero-constant word.
var VectorRelu = Define("vector_relu", []string{"X", "Zero", "Y"}, func(t *Trace, p Args) {
	for i := 0; i < 16; i++ {
		t.Relu(p["X"].Add(i), p["Zero"], p["Y"].Add(i))
	}
})

// VectorAddSIMD adds two 8-element vectors with one VADD.
var VectorAddSIMD = Define("vector_add_simd", []string{"A", "B", "C"}, func(t *Trace, p Args) {
	t.VLoad(0, p["A"])
	t.VLoad(1, p["B"])
	t.VAdd(2, 0, 1, false)
	t.VStore(2, p["C"])
})

// VectorMulSIMD multiplies two 8-element vectors with one VMUL.
var VectorMulSIMD = Define("vector_mul_simd", []string{"A", "B", "C"}, func(t *Trace, p Args) {
	t.VLoad(0, p["A"])
	t.VLoad(1, p["B"])
	t.VMul(2, 0, 1, false)
	t.VStore(2, p["C"])
})

// VectorReluSIMD applies ReLU to an 8-element vector in one VRELU.
var VectorReluSIMD = Define("vector_relu_simd", []string{"X", "Y"}, func(t *Trace, p Args) {
	t.VLoad(0, p["X"])
	t.VRelu(1, 0)
	t.VStore(1, p["Y"])
})

// VectorScaleSIMD multiplies an 8-element vector by a single scalar,
// broadcast from lane 0 of the scale register.
var VectorScaleSIMD = Define("vector_scale_simd", []string{"X", "Scale", "Y"}, func(t *Trace, p Args) {
	t.VLoad(0, p["X"])
	t.VLoad(1, p["Scale"])
	t.VMul(2, 0, 1, true)
	t.VStore(2, p["Y"])
})

// VectorAdd16SIMD adds two 16-element vectors as two 8-lane halves.
var VectorAdd16SIMD = Define("vector_add_16_simd", []string{"A", "B", "C"}, func(t *Trace, p Args) {
	t.VLoad(0, p["A"])
	t.VLoad(1, p["B"])
	t.VAdd(2, 0, 1, false)
	t.VStore(2, p["C"])

	t.VLoad(3, p["A"].Add(8))
	t.VLoad(4, p["B"].Add(8))
	t.VAdd(5, 3, 4, false)
	t.VStore(5, p["C"].Add(8))
})

// FusedMLPLayerSIMD computes Y = ReLU(X * W + Bias) over 8 elements
// without intermediate BRAM writes.
var FusedMLPLayerSIMD = Define("fused_mlp_layer_simd", []string{"X", "W", "Bias", "Y"}, func(t *Trace, p Args) {
	t.VLoad(0, p["X"])
	t.VLoad(1, p["W"])
	t.VLoad(2, p["Bias"])
	t.VMul(3, 0, 1, false)
	t.VAdd(4, 3, 2, false)
	t.VRelu(5, 4)
	t.VStore(5, p["Y"])
})
