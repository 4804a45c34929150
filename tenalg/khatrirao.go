// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tenalg

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/tensorfac/tensor"
)

// SkipNone selects no matrix to skip.
const SkipNone = -1

// Warnings receives performance warnings. Defaults to standard error.
var Warnings io.Writer = os.Stderr

// KhatriRao computes the column-wise Khatri-Rao product A₁ ⊙ A₂ ⊙ ··· ⊙ A_N of
// the given matrices, all sharing the same column count R. The matrix at index
// skip is excluded when skip ≥ 0. Row indices of the earlier matrices vary
// slowest: row (i₁·s₂···s_N + ··· + i_N) is the Hadamard product of rows
// A₁[i₁], …, A_N[i_N]. A single included matrix is returned unchanged.
func KhatriRao(matrices []*mat.Dense, skip int) *mat.Dense {
	included := exclude(matrices, skip)
	if len(included) == 0 {
		panic("khatri-rao product requires at least one matrix")
	}

	rank := cols(included[0])
	for _, m := range included[1:] {
		if cols(m) != rank {
			panic("khatri-rao column count not match")
		}
	}

	cur := included[0]
	for _, m := range included[1:] {
		cr, _ := cur.Dims()
		mr, _ := m.Dims()
		next := mat.NewDense(cr*mr, rank, nil)
		for i := 0; i < cr; i++ {
			crow := cur.RawRowView(i)
			for j := 0; j < mr; j++ {
				mrow := m.RawRowView(j)
				nrow := next.RawRowView(i*mr + j)
				for r := 0; r < rank; r++ {
					nrow[r] = crow[r] * mrow[r]
				}
			}
		}
		cur = next
	}
	return cur
}

// SampleKhatriRao computes a uniform row subsample of the Khatri-Rao product of
// the given matrices, excluding the one at index skip when skip ≥ 0.
//
// For each included matrix, nSamples row indices are drawn with replacement;
// row j of the (nSamples × R) result is the Hadamard product of the sampled
// rows. It returns the per-matrix index lists and the flattened row indices
// into the conceptual full product, accumulated in mixed radix over the
// included row counts.
//
// The rng should be reused across calls: a nil rng constructs a fresh
// time-seeded generator each call, which is correct but slow inside a loop,
// and emits a warning on Warnings.
func SampleKhatriRao(matrices []*mat.Dense, nSamples, skip int, rng *rand.Rand) (*mat.Dense, [][]int, []int) {
	if rng == nil {
		fmt.Fprint(Warnings, "sample-khatri-rao: creating a new random number generator at each call;"+
			" pass a reusable rng when sampling inside a loop\n")
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	included := exclude(matrices, skip)
	if len(included) == 0 {
		panic("khatri-rao product requires at least one matrix")
	}
	rank := cols(included[0])

	indices := make([][]int, len(included))
	for k, m := range included {
		rows, _ := m.Dims()
		idx := make([]int, nSamples)
		for j := range idx {
			idx[j] = rng.Intn(rows)
		}
		indices[k] = idx
	}

	flat := make([]int, nSamples)
	for k, m := range included {
		rows, _ := m.Dims()
		for j, i := range indices[k] {
			flat[j] = flat[j]*rows + i
		}
	}

	sampled := mat.NewDense(nSamples, rank, nil)
	for j := 0; j < nSamples; j++ {
		row := sampled.RawRowView(j)
		for r := range row {
			row[r] = 1
		}
		for k, m := range included {
			mrow := m.RawRowView(indices[k][j])
			for r := range row {
				row[r] *= mrow[r]
			}
		}
	}
	return sampled, indices, flat
}

// MTTKRP computes the matricized-tensor-times-Khatri-Rao-product: the unfolding
// of t along mode, multiplied by the Khatri-Rao product of all factors except
// factors[mode]. The contraction walks the tensor once in row-major order and
// never materializes the Khatri-Rao product. The result has shape
// (t.Shape()[mode] × R).
func MTTKRP(t *tensor.Dense, factors []*mat.Dense, mode int) *mat.Dense {
	shape := t.Shape()
	n := shape.Order()
	if len(factors) != n {
		panic("mttkrp factor count not match tensor order")
	}
	if mode < 0 || mode >= n {
		panic("mttkrp mode out of range")
	}
	rank := cols(factors[mode])
	for k, f := range factors {
		rows, c := f.Dims()
		if c != rank || (k != mode && rows != shape[k]) {
			panic("mttkrp factor shape not match tensor")
		}
	}

	out := mat.NewDense(shape[mode], rank, nil)
	data := t.Data()

	ones := make([]float64, rank)
	for r := range ones {
		ones[r] = 1
	}
	scales := make([][]float64, n)
	for d := range scales {
		scales[d] = make([]float64, rank)
	}

	pos := 0
	var walk func(depth, row int, scale []float64)
	walk = func(depth, row int, scale []float64) {
		if depth == n {
			if x := data[pos]; x != 0 {
				orow := out.RawRowView(row)
				for r, s := range scale {
					orow[r] += x * s
				}
			}
			pos++
			return
		}
		if depth == mode {
			for i := 0; i < shape[depth]; i++ {
				walk(depth+1, i, scale)
			}
			return
		}
		f, buf := factors[depth], scales[depth]
		for i := 0; i < shape[depth]; i++ {
			frow := f.RawRowView(i)
			for r := range buf {
				buf[r] = scale[r] * frow[r]
			}
			walk(depth+1, row, buf)
		}
	}
	walk(0, 0, ones)
	return out
}

func exclude(matrices []*mat.Dense, skip int) []*mat.Dense {
	if skip < 0 {
		return matrices
	}
	included := make([]*mat.Dense, 0, len(matrices)-1)
	for i, m := range matrices {
		if i != skip {
			included = append(included, m)
		}
	}
	return included
}

func cols(m *mat.Dense) int {
	_, c := m.Dims()
	return c
}
