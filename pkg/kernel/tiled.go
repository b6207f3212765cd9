package kernel

import "fmt"

// TiledMatmul decomposes Z = X * W^T into hardware-tile-sized systolic
// calls with scalar accumulation, emitting into t.
//
// X is M x K at x, W is N x K at w, Z is M x N at z. All three matrices
// must be stored tile-major: tiles in row-major tile order, each tile
// itself row-major. M, N and K must each be divisible by tile. temp
// addresses a tile*tile word scratch buffer used to accumulate contraction
// steps after the first.
//
// The emitted instruction count is Mt*Nt*(1 + (Kt-1)*(1 + tile*tile)) for
// Mt, Nt, Kt tile counts along each dimension.
func TiledMatmul(t *Trace, w, x, z Param, m, n, k, tile int, temp Param) error {
	if tile <= 0 {
		return fmt.Errorf("%w: tile size %d", ErrDimension, tile)
	}
	if m%tile != 0 {
		return fmt.Errorf("%w: M=%d, tile=%d", ErrDimension, m, tile)
	}
	if n%tile != 0 {
		return fmt.Errorf("%w: N=%d, tile=%d", ErrDimension, n, tile)
	}
	if k%tile != 0 {
		return fmt.Errorf("%w: K=%d, tile=%d", ErrDimension, k, tile)
	}

	t2 := tile * tile
	mTiles := m / tile
	nTiles := n / tile
	kTiles := k / tile

	// Z[i,j] = sum over c of X[i,c] * W[j,c]^T
	for i := 0; i < mTiles; i++ {
		for j := 0; j < nTiles; j++ {
			zTile := z.Add((i*nTiles + j) * t2)

			for c := 0; c < kTiles; c++ {
				xTile := x.Add((i*kTiles + c) * t2)
				wTile := w.Add((j*kTiles + c) * t2)

				if c == 0 {
					t.Matmul(wTile, xTile, zTile, tile)
					continue
				}

				// Later contraction steps multiply into the scratch tile
				// and fold it into Z element by element.
				t.Matmul(wTile, xTile, temp, tile)
				for e := 0; e < t2; e++ {
					t.Add(zTile.Add(e), temp.Add(e), zTile.Add(e))
				}
			}
		}
	}
	return nil
}
