// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cp

import (
	"errors"
	"math"
	"math/rand"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/tensorfac/tenalg"
	"github.com/curioloop/tensorfac/tensor"
)

// RandomisedTermination specifies the stopping criteria for the sampled ALS
// iteration. Besides the tolerance rule of Termination it carries a stagnation
// bound: the iteration also stops once the number of consecutive iterations
// without improving the best-seen reconstruction error exceeds MaxStagnation.
// When both Tolerance and MaxStagnation are zero no error trace is kept and
// only the iteration bound applies.
type RandomisedTermination struct {
	MaxIterations int
	Tolerance     float64
	MaxStagnation int
}

// Randomised specifies a randomized CP decomposition via sampled ALS: each
// per-mode update solves the normal equations of a uniform row subsample of
// the Khatri-Rao product instead of the full matricization, at cost
// proportional to NSamples.
type Randomised struct {
	// The number of rank-one components R.
	Rank int
	// The number of Khatri-Rao rows sampled per ALS step.
	NSamples int
	// Stop condition.
	Stop RandomisedTermination
	// Factor initialization strategy.
	Init InitStrategy
	// Named SVD implementation used by the initializer. Empty selects the default.
	SVD string
	// Optional reusable random source, shared by the initializer and the
	// per-step sampling.
	Rand *rand.Rand
	// Seed for the random source constructed when Rand is nil.
	Seed int64
	// Optional logger.
	Logger *Logger
}

// New creates a new sampled-ALS solver for the given problem.
func (p *Randomised) New() (*RandomisedSolver, error) {

	logger := p.Logger
	if logger == nil {
		logger = &Logger{Level: LogNoop}
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}

	var err error
	switch {
	case p.Rank <= 0:
		err = errors.New("rank must greater than 0")
	case p.NSamples <= 0:
		err = errors.New("sample number must greater than 0")
	case p.Stop.MaxIterations <= 0:
		err = errors.New("max iteration must greater than 1")
	case p.Stop.Tolerance < 0:
		err = errors.New("tolerance must not less than 0")
	case p.Stop.MaxStagnation < 0:
		err = errors.New("max stagnation must not less than 0")
	case p.Init != InitSVD && p.Init != InitRandom:
		err = errors.New("got init=" + p.Init.String() + ", the possible choices are [svd random]")
	}
	if err != nil {
		return nil, err
	}

	svd, err := tensor.LookupSVD(p.SVD)
	if err != nil {
		return nil, err
	}

	return &RandomisedSolver{
		rank:     p.Rank,
		nSamples: p.NSamples,
		stop:     p.Stop,
		init:     p.Init,
		svd:      svd,
		rng:      newRand(p.Rand, p.Seed),
		logger:   logger,
	}, nil
}

// RandomisedSolver implements CP decomposition using sampled alternating least squares.
type RandomisedSolver struct {
	rank     int
	nSamples int
	stop     RandomisedTermination
	init     InitStrategy
	svd      tensor.SVD
	rng      *rand.Rand
	logger   *Logger
}

// Fit decomposes the tensor with sampled per-mode updates. The same rng is
// reused across every sampling step of the run.
func (s *RandomisedSolver) Fit(t *tensor.Dense) (*Result, error) {

	factors, err := initialize(t, s.rank, s.init, s.svd, s.rng, false)
	if err != nil {
		return nil, err
	}

	shape := t.Shape()
	n := shape.Order()
	tol, maxStagnation := s.stop.Tolerance, s.stop.MaxStagnation
	logger := s.logger

	normT := t.Norm()
	recErrors := make([]float64, 0, s.stop.MaxIterations)
	minError := 0.0
	stagnation := 0

	status := ExceedMaxIter
	numIter := 0

	for iteration := 0; iteration < s.stop.MaxIterations; iteration++ {
		numIter = iteration + 1

		for mode := 0; mode < n; mode++ {
			krProd, indices, _ := tenalg.SampleKhatriRao(factors, s.nSamples, mode, s.rng)
			sampled := sampleUnfolding(t, indices, mode)

			// Normal equations of the subsample: (𝚂ᵀ𝚂)𝐗ᵀ = 𝚂ᵀ𝚄 with 𝚂 the sampled
			// Khatri-Rao rows and 𝚄 the matching rows of the mode unfolding.
			var gram, rhs, xt mat.Dense
			gram.Mul(krProd.T(), krProd)
			rhs.Mul(krProd.T(), sampled)
			if err := xt.Solve(&gram, &rhs); err != nil {
				if _, ill := err.(mat.Condition); !ill {
					return nil, err
				}
			}
			factors[mode] = mat.DenseCopyOf(xt.T())
		}

		if maxStagnation > 0 || tol != 0 {
			recError := tensor.Dist(t, tensor.FromKruskal(nil, factors)) / normT
			if minError == 0 || recError < minError {
				minError = recError
				stagnation = -1
			}
			stagnation++

			recErrors = append(recErrors, recError)

			if iteration > 1 {
				variation := recErrors[len(recErrors)-2] - recErrors[len(recErrors)-1]
				if logger.enable(LogEval) {
					logger.log("reconstruction error=%v, variation=%v\n", recError, variation)
				}
				stop := tol != 0 && math.Abs(variation) < tol
				stagnated := stagnation != 0 && stagnation > maxStagnation
				if stop || stagnated {
					if logger.enable(LogLast) {
						logger.log("converged in %d iterations\n", iteration)
					}
					if stop {
						status = Converged
					} else {
						status = Stagnated
					}
					break
				}
			}
		}
	}

	return &Result{
		OK:      status != ExceedMaxIter,
		Factors: factors,
		Errors:  recErrors,
		Summary: Summary{Status: status, NumIter: numIter},
	}, nil
}

// sampleUnfolding gathers the rows of the mode unfolding matching a sampled
// Khatri-Rao product: entry (j, i) is the tensor element whose mode index is i
// and whose other indices are the j-th sample of each remaining mode, in order.
func sampleUnfolding(t *tensor.Dense, indices [][]int, mode int) *mat.Dense {
	shape := t.Shape()
	n := shape.Order()
	data := t.Data()

	strides := make([]int, n)
	stride := 1
	for k := n - 1; k >= 0; k-- {
		strides[k] = stride
		stride *= shape[k]
	}

	nSamples := len(indices[0])
	out := mat.NewDense(nSamples, shape[mode], nil)
	for j := 0; j < nSamples; j++ {
		base := 0
		pos := 0
		for k := 0; k < n; k++ {
			if k == mode {
				continue
			}
			base += indices[pos][j] * strides[k]
			pos++
		}
		row := out.RawRowView(j)
		for i := 0; i < shape[mode]; i++ {
			row[i] = data[base+i*strides[mode]]
		}
	}
	return out
}
