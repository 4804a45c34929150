// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package parafac2

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/tensorfac/tensor"
)

func randMatrix(r, c int, rng *rand.Rand) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, rng.Float64())
		}
	}
	return m
}

// orthonormalBasis returns the first c columns of the Q factor of a random
// rows×rows matrix.
func orthonormalBasis(rows, c int, rng *rand.Rand) *mat.Dense {
	var qr mat.QR
	qr.Factorize(randMatrix(rows, rows, rng))
	var q mat.Dense
	qr.QTo(&q)
	return mat.DenseCopyOf(q.Slice(0, rows, 0, c))
}

func reconstruct(p, f, a *mat.Dense, d []float64) *mat.Dense {
	var pf mat.Dense
	pf.Mul(p, f)
	rows, c := pf.Dims()
	for i := 0; i < rows; i++ {
		row := pf.RawRowView(i)
		for j := 0; j < c; j++ {
			row[j] *= d[j]
		}
	}
	var rec mat.Dense
	rec.Mul(&pf, a.T())
	return &rec
}

func TestIdenticalSlices(t *testing.T) {

	rng := rand.New(rand.NewSource(2))
	x := randMatrix(5, 3, rng)
	slices := []*mat.Dense{x, x, x, x}

	p := Problem{Rank: 2, Tolerance: 1e-9}
	s, err := p.New()
	require.NoError(t, err)

	res, err := s.Fit(slices)
	require.NoError(t, err)
	require.Len(t, res.Factors, 4)

	// Identical inputs get identical alignments and identical scales.
	for i := 1; i < 4; i++ {
		assert.True(t, mat.EqualApprox(res.Factors[0], res.Factors[i], 1e-8), "slice %d", i)
		assert.InDeltaSlice(t, res.D.RawRowView(0), res.D.RawRowView(i), 1e-8, "slice %d", i)
	}

	dr, dc := res.D.Dims()
	assert.Equal(t, [2]int{4, 2}, [2]int{dr, dc})
	ar, ac := res.A.Dims()
	assert.Equal(t, [2]int{3, 2}, [2]int{ar, ac})
}

func TestStructuredRecovery(t *testing.T) {

	rng := rand.New(rand.NewSource(6))
	const j, r = 4, 2
	ks := []int{6, 5, 7}

	f0 := randMatrix(r, r, rng)
	a0 := randMatrix(j, r, rng)
	d0 := [][]float64{{1, 0.5}, {0.7, 1.2}, {1.3, 0.4}}

	slices := make([]*mat.Dense, len(ks))
	for i, k := range ks {
		p := orthonormalBasis(k, r, rng)
		slices[i] = reconstruct(p, f0, a0, d0[i])
	}

	prob := Problem{Rank: r, Tolerance: 1e-10}
	s, err := prob.New()
	require.NoError(t, err)

	res, err := s.Fit(slices)
	require.NoError(t, err)
	require.True(t, res.NumIter <= 100)

	// The model is exact, so the fit must reproduce each slice.
	var total, normX float64
	for i, x := range slices {
		rec := reconstruct(eye(res.Factors[i].RawMatrix().Rows), res.Factors[i], res.A, res.D.RawRowView(i))
		var diff mat.Dense
		diff.Sub(x, rec)
		n := mat.Norm(&diff, 2)
		total += n * n
		nx := mat.Norm(x, 2)
		normX += nx * nx
	}
	if rel := math.Sqrt(total / normX); rel > 1e-3 {
		t.Fatalf("relative reconstruction error too large: %v", rel)
	}

	for i, fi := range res.Factors {
		rows, c := fi.Dims()
		assert.Equal(t, ks[i], rows)
		assert.Equal(t, r, c)
	}
}

func TestParafac2Errors(t *testing.T) {

	if _, err := (&Problem{Rank: 0, Tolerance: 1e-6}).New(); err == nil {
		t.Fatal("rank 0 accepted")
	}
	if _, err := (&Problem{Rank: 2, Tolerance: 0}).New(); err == nil {
		t.Fatal("zero tolerance accepted")
	}

	_, err := (&Problem{Rank: 2, Tolerance: 1e-6, SVD: "lapack"}).New()
	var unknown *tensor.UnknownSVDError
	require.ErrorAs(t, err, &unknown)

	s, err := (&Problem{Rank: 2, Tolerance: 1e-6}).New()
	require.NoError(t, err)

	if _, err := s.Fit(nil); err == nil {
		t.Fatal("empty slice list accepted")
	}

	rng := rand.New(rand.NewSource(1))
	mismatched := []*mat.Dense{randMatrix(4, 3, rng), randMatrix(4, 2, rng)}
	if _, err := s.Fit(mismatched); err == nil {
		t.Fatal("mismatched column counts accepted")
	}
}
