// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tensor

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Shape describes the mode sizes s₁…s_N of a dense N-way array.
// A Shape is consulted once on entry to a solver and never mutated afterwards.
type Shape []int

// Order returns the number of modes N.
func (s Shape) Order() int { return len(s) }

// Size returns the total number of elements ∏sᵢ.
func (s Shape) Size() int {
	size := 1
	for _, d := range s {
		size *= d
	}
	return size
}

// Clone returns an independent copy of the shape.
func (s Shape) Clone() Shape {
	c := make(Shape, len(s))
	copy(c, s)
	return c
}

// Eq reports whether two shapes have the same mode count and sizes.
func (s Shape) Eq(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i, d := range s {
		if d != o[i] {
			return false
		}
	}
	return true
}

// Dense is a dense N-way numeric array ("tensor") stored in row-major order,
// the last mode varying fastest. Solvers treat a Dense as immutable input.
type Dense struct {
	shape Shape
	data  []float64
}

// New creates a tensor of the given shape backed by data.
// A nil data allocates a zero tensor. The data length must match the shape size.
func New(shape Shape, data []float64) *Dense {
	size := shape.Size()
	if data == nil {
		data = make([]float64, size)
	}
	if len(data) != size {
		panic("tensor data length not match shape")
	}
	return &Dense{shape: shape.Clone(), data: data}
}

// Rand creates a tensor of the given shape with entries drawn i.i.d. uniform in [0,1).
func Rand(shape Shape, rng *rand.Rand) *Dense {
	t := New(shape, nil)
	for i := range t.data {
		t.data[i] = rng.Float64()
	}
	return t
}

// Shape returns the tensor shape. The caller must not mutate it.
func (t *Dense) Shape() Shape { return t.shape }

// Order returns the number of modes.
func (t *Dense) Order() int { return len(t.shape) }

// Data returns the backing slice in row-major order.
// The caller must not mutate it while a decomposition is running.
func (t *Dense) Data() []float64 { return t.data }

// At returns the element at the given multi-index.
func (t *Dense) At(idx ...int) float64 {
	return t.data[t.offset(idx)]
}

// Set stores v at the given multi-index.
func (t *Dense) Set(v float64, idx ...int) {
	t.data[t.offset(idx)] = v
}

func (t *Dense) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic("tensor index order not match shape")
	}
	off := 0
	for k, i := range idx {
		if i < 0 || i >= t.shape[k] {
			panic("tensor index out of range")
		}
		off = off*t.shape[k] + i
	}
	return off
}

// Norm returns the Frobenius norm ‖t‖ = (∑x²)¹ᐟ².
func (t *Dense) Norm() float64 {
	return dnrm2(t.data)
}

// Dist returns the Frobenius distance ‖t − o‖ between two tensors of equal shape.
func Dist(t, o *Dense) float64 {
	if !t.shape.Eq(o.shape) {
		panic("tensor shape not match")
	}
	scale, ssq := 0.0, 1.0
	for i, x := range t.data {
		scale, ssq = ssqAcc(x-o.data[i], scale, ssq)
	}
	return scale * sqrt(ssq)
}

// Unfold matricizes the tensor along the given mode: the result has
// shape (s_mode × ∏_{k≠mode}s_k) with the remaining modes flattened in
// original order, row-major. Row i holds every element whose mode index is i.
func (t *Dense) Unfold(mode int) *mat.Dense {
	n := len(t.shape)
	if mode < 0 || mode >= n {
		panic("unfold mode out of range")
	}
	rows := t.shape[mode]
	cols := len(t.data) / rows

	outer, inner := 1, 1
	for k := 0; k < mode; k++ {
		outer *= t.shape[k]
	}
	for k := mode + 1; k < n; k++ {
		inner *= t.shape[k]
	}

	m := mat.NewDense(rows, cols, nil)
	for a := 0; a < outer; a++ {
		for i := 0; i < rows; i++ {
			src := ((a*rows)+i)*inner
			row := m.RawRowView(i)
			copy(row[a*inner:(a+1)*inner], t.data[src:src+inner])
		}
	}
	return m
}

// FromKruskal assembles the dense tensor ∑ᵣ wᵣ · u⁽¹⁾ᵣ ∘ ··· ∘ u⁽ᴺ⁾ᵣ from a
// factor list and optional per-component weights (nil means all ones).
// All factors must share the same column count.
func FromKruskal(weights []float64, factors []*mat.Dense) *Dense {
	n := len(factors)
	if n == 0 {
		panic("kruskal form requires at least one factor")
	}
	_, rank := factors[0].Dims()
	shape := make(Shape, n)
	for k, f := range factors {
		r, c := f.Dims()
		if c != rank {
			panic("kruskal factor rank not match")
		}
		shape[k] = r
	}
	if weights == nil {
		weights = make([]float64, rank)
		for r := range weights {
			weights[r] = 1
		}
	} else if len(weights) != rank {
		panic("kruskal weights length not match rank")
	}

	t := New(shape, nil)
	scales := make([][]float64, n)
	for d := range scales {
		scales[d] = make([]float64, rank)
	}

	pos := 0
	var walk func(depth int, scale []float64)
	walk = func(depth int, scale []float64) {
		if depth == n {
			t.data[pos] = dsum(scale)
			pos++
			return
		}
		f, buf := factors[depth], scales[depth]
		for i := 0; i < shape[depth]; i++ {
			row := f.RawRowView(i)
			for r := range buf {
				buf[r] = scale[r] * row[r]
			}
			walk(depth+1, buf)
		}
	}
	walk(0, weights)
	return t
}
