// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tensor

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// SVD is the truncated singular value decomposition capability consumed by the
// decomposition solvers. Factorize returns the leading nEigenvecs singular
// triplets of a: U (m×k), the singular values in descending order (length k)
// and Vᵗ (k×n), where k = min(nEigenvecs, m, n) except that requesting more
// vectors than min(m,n) still yields up to min(nEigenvecs, m) left vectors.
type SVD interface {
	Factorize(a mat.Matrix, nEigenvecs int) (u *mat.Dense, s []float64, vt *mat.Dense, err error)
}

// UnknownSVDError reports a request for an SVD implementation that is not
// registered. It carries the offending name and the registered choices.
type UnknownSVDError struct {
	Name    string
	Choices []string
}

func (e *UnknownSVDError) Error() string {
	return fmt.Sprintf("got svd=%q, the possible choices are %v", e.Name, e.Choices)
}

var (
	svdMu   sync.RWMutex
	svdFuns = map[string]SVD{"gonum": GonumSVD{}}
)

// RegisterSVD makes an SVD implementation selectable by name.
func RegisterSVD(name string, f SVD) {
	if f == nil {
		panic("register nil svd")
	}
	svdMu.Lock()
	defer svdMu.Unlock()
	svdFuns[name] = f
}

// LookupSVD resolves a registered SVD implementation by name.
// The empty name selects the default "gonum" implementation.
// An unregistered name yields an *UnknownSVDError.
func LookupSVD(name string) (SVD, error) {
	if name == "" {
		name = "gonum"
	}
	svdMu.RLock()
	defer svdMu.RUnlock()
	if f, ok := svdFuns[name]; ok {
		return f, nil
	}
	choices := make([]string, 0, len(svdFuns))
	for n := range svdFuns {
		choices = append(choices, n)
	}
	sort.Strings(choices)
	return nil, &UnknownSVDError{Name: name, Choices: choices}
}

// GonumSVD computes truncated SVDs with gonum's dense factorization.
type GonumSVD struct{}

// Factorize implements the SVD interface.
func (GonumSVD) Factorize(a mat.Matrix, nEigenvecs int) (*mat.Dense, []float64, *mat.Dense, error) {
	m, n := a.Dims()
	if nEigenvecs <= 0 {
		return nil, nil, nil, errors.New("svd eigenvector number must greater than 0")
	}

	kind := mat.SVDThin
	if nEigenvecs > min(m, n) {
		// The caller wants more vectors than the thin factorization holds.
		kind = mat.SVDFull
	}

	var svd mat.SVD
	if !svd.Factorize(a, kind) {
		return nil, nil, nil, errors.New("svd factorization did not converge")
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)

	ur, uc := u.Dims()
	vr, vc := v.Dims()
	ku := min(nEigenvecs, uc)
	kv := min(nEigenvecs, vc)
	ks := min(nEigenvecs, len(s))

	ut := mat.DenseCopyOf(u.Slice(0, ur, 0, ku))
	vt := mat.DenseCopyOf(v.Slice(0, vr, 0, kv).T())
	return ut, s[:ks:ks], vt, nil
}
