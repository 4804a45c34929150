// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cp

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Normalize rescales every factor column to unit Euclidean length and absorbs
// the scales into a length-R weights vector, turning ⟦A₁, …, A_N⟧ into
// ⟦w; V₁, …, V_N⟧ with the same reconstruction. A zero-norm column is left
// untouched (its divisor is replaced by one) so the weight keeps the zero
// instead of producing NaN. The input factors are not modified.
func Normalize(factors []*mat.Dense) ([]*mat.Dense, []float64) {
	if len(factors) == 0 {
		panic("normalize requires at least one factor")
	}
	_, rank := factors[0].Dims()

	weights := make([]float64, rank)
	for r := range weights {
		weights[r] = 1
	}

	normalized := make([]*mat.Dense, len(factors))
	scales := make([]float64, rank)
	for k, f := range factors {
		rows, c := f.Dims()
		if c != rank {
			panic("factor rank not match")
		}
		col := make([]float64, rows)
		for r := 0; r < rank; r++ {
			mat.Col(col, r, f)
			scales[r] = floats.Norm(col, 2)
		}
		floats.Mul(weights, scales)

		norm := mat.NewDense(rows, c, nil)
		norm.Apply(func(_, j int, v float64) float64 {
			if scales[j] == 0 {
				return v
			}
			return v / scales[j]
		}, f)
		normalized[k] = norm
	}
	return normalized, weights
}
