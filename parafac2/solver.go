// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package parafac2

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/tensorfac/tenalg"
)

// Fit decomposes the slice list, alternating per-slice orthogonal Procrustes
// rotations with closed-form least-squares updates of the shared factors.
//
// Each slice taller than it is wide is first compressed to the R-factor of its
// QR decomposition, a rank-preserving reduction that bounds the per-iteration
// cost by the column count. Every factor update is the CP normal-equations
// pattern applied to the coupled three-way core: flatten the stacked slice
// cores along the factor's axis, multiply by the Khatri-Rao product of the
// other two factors and by the pseudo-inverse of the Hadamard product of their
// Gram matrices. The Gram matrices G₀ = FᵀF, G₁ = AᵀA, G₂ = DᵀD are refreshed
// immediately after the matrix they track.
//
// After the loop the rotations are recomputed once against the uncompressed
// slices, and the returned per-slice factors are Pᵢ·F in each slice's original
// row space.
func (s *Solver) Fit(slices []*mat.Dense) (*Result, error) {

	m := len(slices)
	if m == 0 {
		return nil, errors.New("slice list must not be empty")
	}
	r := s.rank
	_, cols := slices[0].Dims()
	for _, x := range slices {
		if _, c := x.Dims(); c != cols {
			return nil, errors.New("slice column count not match")
		}
	}
	logger := s.logger

	f := eye(r)
	d := onesMatrix(m, r)
	a, err := initColumnSpace(slices, r)
	if err != nil {
		return nil, err
	}

	// Compress tall slices to their triangular factor.
	h := make([]*mat.Dense, m)
	for i, x := range slices {
		rows, _ := x.Dims()
		if rows > cols {
			var qr mat.QR
			qr.Factorize(x)
			var rm mat.Dense
			qr.RTo(&rm)
			h[i] = mat.DenseCopyOf(rm.Slice(0, cols, 0, cols))
		} else {
			h[i] = x
		}
	}

	g0, g1 := eye(r), eye(r)
	g2 := onesMatrix(r, r)
	g2.Scale(float64(m), g2)

	p := make([]*mat.Dense, m)
	t := make([]*mat.Dense, m)

	residual := 1.0
	converged := false
	numIter := 0

	for numIter < maxIterations && !converged {
		// Orthogonal Procrustes alignment of every compressed slice to the
		// shared-factor prediction, then the basis-aligned cores Tᵢ = PᵢᵀHᵢ.
		for i := range slices {
			var ha mat.Dense
			ha.Mul(h[i], a)
			if p[i], err = s.procrustes(scaleColumns(f, d.RawRowView(i)), &ha); err != nil {
				return nil, err
			}
			var ti mat.Dense
			ti.Mul(p[i].T(), h[i])
			t[i] = &ti
		}

		// F update: core flattened along the first axis against D ⊙ A.
		wf := mat.NewDense(m*cols, r, nil)
		for i, ti := range t {
			for j := 0; j < cols; j++ {
				row := wf.RawRowView(i*cols + j)
				for k := 0; k < r; k++ {
					row[k] = ti.At(k, j)
				}
			}
		}
		f = normalEquations(wf, tenalg.KhatriRao([]*mat.Dense{d, a}, tenalg.SkipNone), g2, g1)
		g0.Mul(f.T(), f)

		// A update: core flattened along the column axis against D ⊙ F.
		wa := mat.NewDense(m*r, cols, nil)
		for i, ti := range t {
			wa.Slice(i*r, (i+1)*r, 0, cols).(*mat.Dense).Copy(ti)
		}
		a = normalEquations(wa, tenalg.KhatriRao([]*mat.Dense{d, f}, tenalg.SkipNone), g2, g0)
		g1.Mul(a.T(), a)

		// D update: core flattened along the slice axis against A ⊙ F.
		wd := mat.NewDense(cols*r, m, nil)
		for i, ti := range t {
			for j := 0; j < cols; j++ {
				for k := 0; k < r; k++ {
					wd.Set(j*r+k, i, ti.At(k, j))
				}
			}
		}
		d = normalEquations(wd, tenalg.KhatriRao([]*mat.Dense{a, f}, tenalg.SkipNone), g1, g0)
		g2.Mul(d.T(), d)

		prev := residual
		residual = 0
		for i, hi := range h {
			var pf, rec, diff mat.Dense
			pf.Mul(p[i], f)
			rec.Mul(scaleColumns(&pf, d.RawRowView(i)), a.T())
			diff.Sub(hi, &rec)
			n := mat.Norm(&diff, 2)
			residual += n * n
		}

		numIter++
		converged = math.Abs(prev-residual) < s.tol*prev
		if logger.enable(LogEval) {
			logger.log("iteration %d; error = %.6f\n", numIter, residual)
		}
	}
	if logger.enable(LogLast) {
		logger.log("terminated after %d iterations; error = %.6f\n", numIter, residual)
	}

	// Rotate back into the original row space of every slice.
	factors := make([]*mat.Dense, m)
	for i, x := range slices {
		var xa mat.Dense
		xa.Mul(x, a)
		pi, err := s.procrustes(scaleColumns(f, d.RawRowView(i)), &xa)
		if err != nil {
			return nil, err
		}
		var fi mat.Dense
		fi.Mul(pi, f)
		factors[i] = &fi
	}

	return &Result{
		Factors: factors,
		D:       d,
		A:       a,
		Summary: Summary{Converged: converged, NumIter: numIter, Residual: residual},
	}, nil
}

// initColumnSpace seeds A with the top-r eigenvectors of ∑ᵢXᵢᵀXᵢ.
func initColumnSpace(slices []*mat.Dense, r int) (*mat.Dense, error) {
	_, cols := slices[0].Dims()
	sum := mat.NewDense(cols, cols, nil)
	var gram mat.Dense
	for _, x := range slices {
		gram.Mul(x.T(), x)
		sum.Add(sum, &gram)
	}

	sym := mat.NewSymDense(cols, nil)
	for i := 0; i < cols; i++ {
		for j := i; j < cols; j++ {
			sym.SetSym(i, j, sum.At(i, j))
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return nil, errors.New("eigendecomposition did not converge")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// Eigenvalues come out ascending: the trailing r columns span the dominant subspace.
	return mat.DenseCopyOf(vecs.Slice(0, cols, cols-r, cols)), nil
}

// procrustes solves min‖target − P·predᵀ‖ over orthonormal P via the SVD of
// pred·targetᵀ, returning P = (U·Vᵀ)ᵀ.
func (s *Solver) procrustes(pred, target *mat.Dense) (*mat.Dense, error) {
	var prod mat.Dense
	prod.Mul(pred, target.T())
	pr, pc := prod.Dims()
	u, _, vt, err := s.svd.Factorize(&prod, min(pr, pc))
	if err != nil {
		return nil, err
	}
	var uv mat.Dense
	uv.Mul(u, vt)
	return mat.DenseCopyOf(uv.T()), nil
}

// normalEquations computes flatᵀ · kr · (ga ⊛ gb)⁺, the closed-form
// least-squares factor update shared by all three modes.
func normalEquations(flat, kr, ga, gb *mat.Dense) *mat.Dense {
	var had, lhs, out mat.Dense
	had.MulElem(ga, gb)
	lhs.Mul(flat.T(), kr)
	out.Mul(&lhs, pinv(&had))
	return &out
}

// pinv computes the Moore-Penrose pseudo-inverse, discarding singular values
// below 1e-15 of the largest.
func pinv(a *mat.Dense) *mat.Dense {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		panic("svd factorization did not converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)

	cutoff := 0.0
	if len(s) > 0 {
		cutoff = 1e-15 * s[0]
	}
	inv := mat.NewDense(len(s), len(s), nil)
	for i, sv := range s {
		if sv > cutoff {
			inv.Set(i, i, 1/sv)
		}
	}

	var tmp, out mat.Dense
	tmp.Mul(&v, inv)
	out.Mul(&tmp, u.T())
	return &out
}

// scaleColumns returns f with column c scaled by w[c].
func scaleColumns(f *mat.Dense, w []float64) *mat.Dense {
	out := mat.DenseCopyOf(f)
	rows, c := out.Dims()
	for i := 0; i < rows; i++ {
		row := out.RawRowView(i)
		for j := 0; j < c; j++ {
			row[j] *= w[j]
		}
	}
	return out
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func onesMatrix(r, c int) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	data := m.RawMatrix().Data
	for i := range data {
		data[i] = 1
	}
	return m
}
