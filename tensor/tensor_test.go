// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tensor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func rangeTensor(shape Shape) *Dense {
	data := make([]float64, shape.Size())
	for i := range data {
		data[i] = float64(i)
	}
	return New(shape, data)
}

func TestShape(t *testing.T) {
	s := Shape{2, 3, 4}
	assert.Equal(t, 3, s.Order())
	assert.Equal(t, 24, s.Size())
	assert.True(t, s.Eq(s.Clone()))
	assert.False(t, s.Eq(Shape{2, 3}))
	assert.False(t, s.Eq(Shape{2, 3, 5}))
}

func TestAtSet(t *testing.T) {
	x := rangeTensor(Shape{2, 3, 2})
	assert.Equal(t, 0.0, x.At(0, 0, 0))
	assert.Equal(t, 7.0, x.At(1, 0, 1))
	assert.Equal(t, 11.0, x.At(1, 2, 1))
	x.Set(-1, 1, 2, 1)
	assert.Equal(t, -1.0, x.At(1, 2, 1))
}

func TestUnfold(t *testing.T) {
	x := rangeTensor(Shape{2, 3, 2})

	want := map[int][][]float64{
		0: {
			{0, 1, 2, 3, 4, 5},
			{6, 7, 8, 9, 10, 11},
		},
		1: {
			{0, 1, 6, 7},
			{2, 3, 8, 9},
			{4, 5, 10, 11},
		},
		2: {
			{0, 2, 4, 6, 8, 10},
			{1, 3, 5, 7, 9, 11},
		},
	}
	for mode, rows := range want {
		m := x.Unfold(mode)
		r, c := m.Dims()
		require.Equal(t, len(rows), r)
		require.Equal(t, len(rows[0]), c)
		for i, row := range rows {
			assert.Equal(t, row, m.RawRowView(i), "mode %d row %d", mode, i)
		}
	}
}

func TestFromKruskal(t *testing.T) {
	u := mat.NewDense(2, 1, []float64{1, 2})
	v := mat.NewDense(3, 1, []float64{3, 4, 5})

	x := FromKruskal(nil, []*mat.Dense{u, v})
	require.True(t, x.Shape().Eq(Shape{2, 3}))
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			assert.Equal(t, u.At(i, 0)*v.At(j, 0), x.At(i, j))
		}
	}

	// Weights scale every component.
	w := FromKruskal([]float64{2}, []*mat.Dense{u, v})
	for i, val := range w.Data() {
		assert.Equal(t, 2*x.Data()[i], val)
	}
}

func TestNormDist(t *testing.T) {
	x := New(Shape{2, 2}, []float64{3, 0, 0, 4})
	assert.InDelta(t, 5, x.Norm(), 1e-14)

	y := New(Shape{2, 2}, []float64{0, 0, 0, 0})
	assert.InDelta(t, 5, Dist(x, y), 1e-14)
	assert.Equal(t, 0.0, Dist(x, x))
}

func TestRandDeterministic(t *testing.T) {
	a := Rand(Shape{3, 3}, rand.New(rand.NewSource(1)))
	b := Rand(Shape{3, 3}, rand.New(rand.NewSource(1)))
	assert.Equal(t, a.Data(), b.Data())
	for _, v := range a.Data() {
		assert.True(t, v >= 0 && v < 1)
	}
}

func TestGonumSVD(t *testing.T) {
	a := mat.NewDense(4, 3, []float64{
		4, 0, 1,
		0, 2, 0,
		1, 0, 3,
		2, 1, 0,
	})

	u, s, vt, err := GonumSVD{}.Factorize(a, 3)
	require.NoError(t, err)
	require.Len(t, s, 3)
	assert.True(t, s[0] >= s[1] && s[1] >= s[2])

	// Full-rank truncation reconstructs the input.
	var us, rec mat.Dense
	us.Mul(u, mat.NewDiagDense(3, s))
	rec.Mul(&us, vt)
	assert.True(t, mat.EqualApprox(a, &rec, 1e-12))

	// Truncated shapes.
	u2, s2, vt2, err := GonumSVD{}.Factorize(a, 2)
	require.NoError(t, err)
	ur, uc := u2.Dims()
	vr, vc := vt2.Dims()
	assert.Equal(t, [4]int{4, 2, 2, 3}, [4]int{ur, uc, vr, vc})
	assert.Len(t, s2, 2)

	// Requesting more vectors than min(m,n) falls back to the full basis.
	u5, s5, vt5, err := GonumSVD{}.Factorize(a, 5)
	require.NoError(t, err)
	ur, uc = u5.Dims()
	vr, vc = vt5.Dims()
	assert.Equal(t, [4]int{4, 4, 3, 3}, [4]int{ur, uc, vr, vc})
	assert.Len(t, s5, 3)

	// Left singular vectors stay orthonormal.
	var gram mat.Dense
	gram.Mul(u5.T(), u5)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(gram.At(i, j)-want) > 1e-12 {
				t.Fatalf("UᵀU not identity at (%d,%d): %v", i, j, gram.At(i, j))
			}
		}
	}
}

func TestLookupSVD(t *testing.T) {
	f, err := LookupSVD("")
	require.NoError(t, err)
	assert.NotNil(t, f)

	_, err = LookupSVD("lapack")
	var unknown *UnknownSVDError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "lapack", unknown.Name)
	assert.Contains(t, unknown.Choices, "gonum")
	assert.Contains(t, err.Error(), "lapack")
	assert.Contains(t, err.Error(), "gonum")
}

func TestRegisterSVD(t *testing.T) {
	RegisterSVD("gonum-test", GonumSVD{})
	f, err := LookupSVD("gonum-test")
	require.NoError(t, err)
	assert.NotNil(t, f)
}
