// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cp

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/tensorfac/tenalg"
	"github.com/curioloop/tensorfac/tensor"
)

// Multiplicative-update clip floor keeping numerator and denominator away from zero.
const epsilon = 10e-12

// mainLoop runs the alternating least squares sweep
//
//	repeat: for each mode n, solve factor[n] holding the others fixed
//
// Per-mode normal equations exploit (A₁ ⊙ ··· ⊙ A_N)ᵀ(A₁ ⊙ ··· ⊙ A_N) = ⊛ᵢAᵢᵀAᵢ,
// the Hadamard product of the per-factor Gram matrices, so the full Khatri-Rao
// product is never formed. The relative reconstruction error
//
//	𝚎 = (|‖𝐓‖² + ‖⟦A₁…A_N⟧‖² - 2⟨𝐓,⟦A₁…A_N⟧⟩|)¹ᐟ² / ‖𝐓‖
//
// is likewise computed from Gram matrices and the last MTTKRP, without
// materializing the reconstruction. Earlier-mode updates within one iteration
// are visible to the later modes of the same sweep.
func (s *Solver) mainLoop(t *tensor.Dense, factors []*mat.Dense) (*Result, error) {

	shape := t.Shape()
	n := shape.Order()
	rank, tol := s.rank, s.stop.Tolerance
	logger := s.logger

	orth := s.orth
	if orth < 0 {
		orth = s.stop.MaxIterations
	}

	normT := t.Norm()
	recErrors := make([]float64, 0, s.stop.MaxIterations)

	status := ExceedMaxIter
	numIter := 0

	var lastMTTKRP, lastFactor *mat.Dense
	for iteration := 0; iteration < s.stop.MaxIterations; iteration++ {
		numIter = iteration + 1

		if orth > 0 && iteration <= orth {
			orthogonalise(factors)
		}

		if logger.enable(LogTrace) {
			logger.log("starting iteration %d\n", iteration)
		}
		for mode := 0; mode < n; mode++ {
			if logger.enable(LogTrace) {
				logger.log("mode %d of %d\n", mode, n)
			}

			pseudoInverse := gramHadamard(factors, mode, rank)
			mttkrp := tenalg.MTTKRP(t, factors, mode)

			var factor *mat.Dense
			if s.nonNeg {
				factor = multiplicativeUpdate(factors[mode], mttkrp, pseudoInverse)
			} else {
				// Solve 𝐆ᵀ𝐗ᵀ = 𝙼ᵀ for the mode factor 𝐗, with 𝐆 the Gram-Hadamard
				// matrix and 𝙼 the MTTKRP.
				var xt mat.Dense
				if err := xt.Solve(pseudoInverse.T(), mttkrp.T()); err != nil {
					if _, ill := err.(mat.Condition); !ill {
						return nil, err
					}
				}
				factor = mat.DenseCopyOf(xt.T())
			}
			factors[mode] = factor
			lastMTTKRP, lastFactor = mttkrp, factor
		}

		if tol != 0 {
			recError := relativeError(normT, factors, lastMTTKRP, lastFactor, rank)
			recErrors = append(recErrors, recError)

			if iteration >= 1 {
				variation := recErrors[len(recErrors)-2] - recErrors[len(recErrors)-1]
				if logger.enable(LogEval) {
					logger.log("reconstruction error=%v, variation=%v\n", recError, variation)
				}
				if math.Abs(variation) < tol {
					if logger.enable(LogLast) {
						logger.log("converged in %d iterations\n", iteration)
					}
					status = Converged
					break
				}
			} else if logger.enable(LogEval) {
				logger.log("reconstruction error=%v\n", recError)
			}
		}
	}

	return &Result{
		OK:      status == Converged,
		Factors: factors,
		Errors:  recErrors,
		Summary: Summary{Status: status, NumIter: numIter},
	}, nil
}

// gramHadamard computes ⊛_{i≠mode} AᵢᵀAᵢ, the R×R Gram matrix of the implicit
// Khatri-Rao product of all factors except mode. A negative mode includes all.
func gramHadamard(factors []*mat.Dense, mode, rank int) *mat.Dense {
	prod := onesMatrix(rank, rank)
	var gram mat.Dense
	for i, f := range factors {
		if i == mode {
			continue
		}
		gram.Mul(f.T(), f)
		prod.MulElem(prod, &gram)
	}
	return prod
}

// multiplicativeUpdate applies the non-negativity preserving step
//
//	𝐗 ← 𝐗 ⊛ 𝚌𝚕𝚒𝚙(𝙼,ε) ⊘ 𝚌𝚕𝚒𝚙(𝐗·𝐆,ε)
//
// where 𝙼 is the MTTKRP and 𝐆 the Gram-Hadamard accumulator. Both sides are
// clipped away from zero so the iterate stays non-negative whenever the
// previous one was.
func multiplicativeUpdate(factor, mttkrp, accum *mat.Dense) *mat.Dense {
	var numerator, denominator, next mat.Dense
	numerator.Apply(clipFloor, mttkrp)
	denominator.Mul(factor, accum)
	denominator.Apply(clipFloor, &denominator)
	next.MulElem(factor, &numerator)
	next.DivElem(&next, &denominator)
	return &next
}

func clipFloor(_, _ int, v float64) float64 {
	if v < epsilon {
		return epsilon
	}
	return v
}

// relativeError evaluates the error expansion using the Gram matrices of all
// factors and the MTTKRP of the last updated mode, which equals the inner
// product between the tensor and its reconstruction.
func relativeError(normT float64, factors []*mat.Dense, mttkrp, factor *mat.Dense, rank int) float64 {
	factorsNorm := floats.Sum(gramHadamard(factors, -1, rank).RawMatrix().Data)
	iprod := floats.Dot(mttkrp.RawMatrix().Data, factor.RawMatrix().Data)
	return math.Sqrt(math.Abs(normT*normT+factorsNorm-2*iprod)) / normT
}

// orthogonalise computes the reduced QR orthonormal basis of each factor into a
// scratch copy. The scratch deliberately does not replace the sweep input.
func orthogonalise(factors []*mat.Dense) {
	for _, f := range factors {
		r, c := f.Dims()
		if r < c {
			// gonum QR requires m ≥ n.
			continue
		}
		var qr mat.QR
		qr.Factorize(f)
		var q mat.Dense
		qr.QTo(&q)
	}
}

func onesMatrix(r, c int) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	data := m.RawMatrix().Data
	for i := range data {
		data[i] = 1
	}
	return m
}
