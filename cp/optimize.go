// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cp

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/tensorfac/tensor"
)

// LogLevel controls the frequency and type of logger output.
type LogLevel int

const (
	// LogNoop no output is generated.
	LogNoop LogLevel = -1
	// LogLast print only one line when the iteration terminates.
	LogLast LogLevel = 0
	// LogEval print the reconstruction error of every iteration.
	LogEval LogLevel = 1
	// LogTrace print also the per-mode sweep progress.
	LogTrace LogLevel = 2
)

// Logger handles logging output for the solvers.
// Note the writer must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

// InitStrategy selects how the initial factor matrices are produced.
type InitStrategy int

const (
	// InitSVD seeds each factor with the leading left singular vectors of the
	// matching mode unfolding, padded with random columns for deficient modes.
	InitSVD InitStrategy = iota
	// InitRandom seeds each factor i.i.d. uniform in [0,1).
	InitRandom
)

func (s InitStrategy) String() string {
	switch s {
	case InitSVD:
		return "svd"
	case InitRandom:
		return "random"
	}
	return fmt.Sprintf("InitStrategy(%d)", int(s))
}

// Termination specifies the stopping criteria for the ALS iteration.
type Termination struct {
	// The iteration stop when the number of iteration exceeds limit.
	MaxIterations int
	// The iteration will stop when the reconstruction error satisfied
	//   |𝚎ₖ - 𝚎ₖ₋₁| < 𝚝𝚘𝚕
	// checked from the second iteration onward.
	// A zero tolerance disables the check and the error trace entirely:
	// only the iteration bound applies.
	Tolerance float64
}

// Problem specifies a CANDECOMP/PARAFAC decomposition via alternating least
// squares: the input tensor is approximated by a sum of Rank rank-one terms,
// one factor matrix per mode.
type Problem struct {
	// The number of rank-one components R.
	Rank int
	// Stop condition.
	Stop Termination
	// Factor initialization strategy.
	Init InitStrategy
	// Named SVD implementation used by the initializer,
	// resolved through the tensor package registry. Empty selects the default.
	SVD string
	// QR-orthonormalize a scratch copy of the factors before the mode sweep for
	// the first Orthogonalise iterations. A negative value means every
	// iteration. The scratch is computed but never fed back into the sweep.
	Orthogonalise int
	// Run the non-negative multiplicative-update variant instead of the exact
	// least-squares update. Factors stay elementwise non-negative.
	NonNegative bool
	// Optional reusable random source for the initializer.
	Rand *rand.Rand
	// Seed for the random source constructed when Rand is nil.
	Seed int64
	// Optional logger.
	Logger *Logger
}

// NonNegativeProblem builds a Problem running the multiplicative-update
// variant, the non-negative alias of the plain decomposition.
func NonNegativeProblem(rank int, stop Termination) Problem {
	return Problem{Rank: rank, Stop: stop, NonNegative: true}
}

// Status is the terminal state of a decomposition.
type Status int

const (
	// Converged the tolerance-based stopping rule was satisfied.
	Converged Status = iota
	// ExceedMaxIter the iteration bound was reached first. Not an error:
	// the best factors found are still returned.
	ExceedMaxIter
	// Stagnated the randomized variant stopped after too many iterations
	// without improving on the best-seen error.
	Stagnated
)

// Summary contains a summary of the decomposition process.
type Summary struct {
	Status  Status // Final status after optimization.
	NumIter int    // Number of outer iterations performed.
}

// Result contains the final result of a decomposition.
type Result struct {
	OK      bool         // Whether a stopping rule other than the iteration bound fired.
	Factors []*mat.Dense // Factor matrices, element i of shape (tensor.Shape()[i] × Rank).
	Errors  []float64    // Relative reconstruction error per iteration. Empty when disabled.
	Summary              // Decomposition summary.
}

// New creates a new CP-ALS solver for the given problem.
func (p *Problem) New() (*Solver, error) {

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
	case p.Stop.MaxIterations <= 0:
		err = errors.New("max iteration must greater than 1")
	case p.Stop.Tolerance < 0:
		err = errors.New("tolerance must not less than 0")
	case p.Init != InitSVD && p.Init != InitRandom:
		err = fmt.Errorf("got init=%q, the possible choices are [svd random]", p.Init)
	}
	if err != nil {
		return nil, err
	}

	svd, err := tensor.LookupSVD(p.SVD)
	if err != nil {
		return nil, err
	}

	return &Solver{
		rank:   p.Rank,
		stop:   p.Stop,
		init:   p.Init,
		svd:    svd,
		orth:   p.Orthogonalise,
		nonNeg: p.NonNegative,
		rng:    newRand(p.Rand, p.Seed),
		logger: logger,
	}, nil
}

// Solver implements CP decomposition using alternating least squares.
type Solver struct {
	rank   int
	stop   Termination
	init   InitStrategy
	svd    tensor.SVD
	orth   int
	nonNeg bool
	rng    *rand.Rand
	logger *Logger
}

// Fit decomposes the tensor and returns the factor list with the
// reconstruction-error trace. Reaching the iteration bound without satisfying
// the tolerance is not an error.
func (s *Solver) Fit(t *tensor.Dense) (*Result, error) {
	factors, err := initialize(t, s.rank, s.init, s.svd, s.rng, s.nonNeg)
	if err != nil {
		return nil, err
	}
	return s.mainLoop(t, factors)
}

func newRand(rng *rand.Rand, seed int64) *rand.Rand {
	if rng != nil {
		return rng
	}
	return rand.New(rand.NewSource(seed))
}
