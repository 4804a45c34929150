// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package parafac2

import (
	"errors"
	"fmt"
	"io"
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
	// LogEval print the residual of every iteration.
	LogEval LogLevel = 1
)

// Logger handles logging output for the solver.
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

// The iteration cap of the alternating loop. Fixed, no override.
const maxIterations = 100

// Problem specifies a PARAFAC2 decomposition: a list of slices X₁ … X_m with a
// common column count J and per-slice row counts Kᵢ is approximated as
//
//	Xᵢ ≈ Pᵢ·F·𝚍𝚒𝚊𝚐(Dᵢ)·Aᵀ
//
// with shared factors F (r×r), D (m×r), A (J×r) and one orthonormal transform
// Pᵢ (Kᵢ×r) per slice.
type Problem struct {
	// The number of components r.
	Rank int
	// The iteration stops when the residual change between iterations drops
	// below Tolerance relative to the previous residual, or after 100
	// iterations unconditionally.
	Tolerance float64
	// Named SVD implementation used for the per-slice Procrustes rotations,
	// resolved through the tensor package registry. Empty selects the default.
	SVD string
	// Optional logger.
	Logger *Logger
}

// Summary contains a summary of the decomposition process.
type Summary struct {
	Converged bool    // Whether the relative-change rule fired before the cap.
	NumIter   int     // Number of iterations performed.
	Residual  float64 // Final sum of squared slice residuals.
}

// Result contains the final result of a decomposition.
type Result struct {
	// Per-slice factor Pᵢ·F of shape (Kᵢ×r), expressed in the original row
	// space of each slice.
	Factors []*mat.Dense
	// Per-slice component scales, one row per slice (m×r).
	D *mat.Dense
	// Shared column-space factor (J×r).
	A *mat.Dense
	Summary
}

// New creates a new PARAFAC2 solver for the given problem.
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
	case p.Tolerance <= 0:
		err = errors.New("tolerance must greater than 0")
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
		tol:    p.Tolerance,
		svd:    svd,
		logger: logger,
	}, nil
}

// Solver implements the PARAFAC2 alternating algorithm.
type Solver struct {
	rank   int
	tol    float64
	svd    tensor.SVD
	logger *Logger
}
