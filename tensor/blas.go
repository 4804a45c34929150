// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tensor

import "math"

var sqrt = math.Sqrt

// ssqAcc accumulates one term of a scaled sum of squares,
// keeping (scale, ssq) such that scale²·ssq = ∑x² without overflow.
func ssqAcc(x, scale, ssq float64) (float64, float64) {
	if absx := math.Abs(x); absx > 0 {
		if scale < absx {
			sx := scale / absx
			ssq = 1 + ssq*sx*sx
			scale = absx
		} else {
			sx := absx / scale
			ssq += sx * sx
		}
	}
	return scale, ssq
}

// dnrm2 computes the Euclidean norm of a vector x.
func dnrm2(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	if len(x) == 1 {
		return math.Abs(x[0])
	}
	scale, ssq := 0.0, 1.0
	for _, v := range x {
		scale, ssq = ssqAcc(v, scale, ssq)
	}
	return scale * math.Sqrt(ssq)
}

// dsum sums the elements of vector x.
func dsum(x []float64) (sum float64) {
	n := uint(len(x))
	m := n % 5
	for i := uint(0); i < m; i++ {
		sum += x[i]
	}
	if n < 5 {
		return sum
	}
	for i := m; i < n; i += 5 {
		d := x[i : i+5 : i+5]
		sum += d[0] + d[1] + d[2] + d[3] + d[4]
	}
	return sum
}
