// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cp

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/tensorfac/tensor"
)

// Initialize produces the starting factor list for a rank-R decomposition of t.
//
// InitRandom draws each factor i.i.d. uniform in [0,1), shape
// (t.Shape()[mode] × rank). InitSVD seeds factor mode with the leading rank
// left singular vectors of the mode unfolding; when a mode is shorter than the
// rank the missing columns are padded with random values. With nonNegative the
// factors are passed through an elementwise absolute value, a heuristic rather
// than a projection.
func Initialize(t *tensor.Dense, rank int, strategy InitStrategy, svdName string, rng *rand.Rand, nonNegative bool) ([]*mat.Dense, error) {
	svd, err := tensor.LookupSVD(svdName)
	if err != nil {
		return nil, err
	}
	return initialize(t, rank, strategy, svd, newRand(rng, 0), nonNegative)
}

func initialize(t *tensor.Dense, rank int, strategy InitStrategy, svd tensor.SVD, rng *rand.Rand, nonNegative bool) ([]*mat.Dense, error) {

	shape := t.Shape()
	n := shape.Order()
	factors := make([]*mat.Dense, n)

	switch strategy {
	case InitRandom:
		for mode := 0; mode < n; mode++ {
			factors[mode] = randMatrix(shape[mode], rank, rng)
		}
	case InitSVD:
		for mode := 0; mode < n; mode++ {
			u, _, _, err := svd.Factorize(t.Unfold(mode), rank)
			if err != nil {
				return nil, err
			}
			rows, uc := u.Dims()
			if shape[mode] < rank {
				// Deficient mode: fewer singular vectors than components.
				padded := mat.NewDense(rows, rank, nil)
				padded.Slice(0, rows, 0, uc).(*mat.Dense).Copy(u)
				pad := padded.Slice(0, rows, uc, rank).(*mat.Dense)
				pad.Copy(randMatrix(rows, rank-uc, rng))
				u = padded
			}
			factors[mode] = u
		}
	default:
		return nil, fmt.Errorf("got init=%q, the possible choices are [svd random]", strategy)
	}

	if nonNegative {
		for _, f := range factors {
			f.Apply(func(_, _ int, v float64) float64 { return math.Abs(v) }, f)
		}
	}
	return factors, nil
}

func randMatrix(r, c int, rng *rand.Rand) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	data := m.RawMatrix().Data
	for i := range data {
		data[i] = rng.Float64()
	}
	return m
}
