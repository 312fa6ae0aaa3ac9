package numeric

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// LerpS2 interpolates three vertex values with barycentric weights mu
func LerpS2(v [3]float64, mu [3]float64) float64 {
	return mu[0]*v[0] + mu[1]*v[1] + mu[2]*v[2]
}

// LerpS2V3 interpolates three 3-vectors with barycentric weights mu
func LerpS2V3(X [3][3]float64, mu [3]float64) (x [3]float64) {
	for j := 0; j < 3; j++ {
		x[j] = mu[0]*X[0][j] + mu[1]*X[1][j] + mu[2]*X[2][j]
	}
	return
}

// InverseLerpS2V2 finds the barycentric coordinates mu of the zero of a
// 2-vector field linearly interpolated over a triangle with vertex
// values V. ok is false when the field is degenerate or the zero lies
// outside the triangle.
func InverseLerpS2V2(V [3][2]float64) (mu [3]float64, ok bool) {
	// mu_i is proportional to the cross product of the other two vectors
	c0 := V[1][0]*V[2][1] - V[1][1]*V[2][0]
	c1 := V[2][0]*V[0][1] - V[2][1]*V[0][0]
	c2 := V[0][0]*V[1][1] - V[0][1]*V[1][0]
	det := c0 + c1 + c2
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return mu, false
	}
	mu = [3]float64{c0 / det, c1 / det, c2 / det}
	for _, m := range mu {
		if m < 0 || m > 1 || math.IsNaN(m) {
			return mu, false
		}
	}
	return mu, true
}

// InverseLerp solves for the barycentric coordinates of the zero of a
// linear n-vector field given at n+1 simplex vertices. vecs[i] is the
// value at vertex i. It is the dense counterpart of InverseLerpS2V2.
func InverseLerp(vecs [][]float64) ([]float64, bool) {
	n := len(vecs) - 1
	if n < 1 {
		return nil, false
	}
	// Rows 0..n-1 hold the vector components, row n the partition of unity
	A := mat.NewDense(n+1, n+1, nil)
	for i, v := range vecs {
		if len(v) != n {
			return nil, false
		}
		for r := 0; r < n; r++ {
			A.Set(r, i, v[r])
		}
		A.Set(n, i, 1)
	}
	b := mat.NewVecDense(n+1, nil)
	b.SetVec(n, 1)

	var x mat.VecDense
	if err := x.SolveVec(A, b); err != nil {
		return nil, false
	}
	mu := make([]float64, n+1)
	for i := range mu {
		mu[i] = x.AtVec(i)
		if mu[i] < 0 || mu[i] > 1 || math.IsNaN(mu[i]) {
			return mu, false
		}
	}
	return mu, true
}
