package numeric

import (
	"gonum.org/v1/gonum/mat"
)

// SymmetricEigenvalues2 returns the eigenvalues of the symmetric matrix
// [[hxx, hxy], [hxy, hyy]] in ascending order
func SymmetricEigenvalues2(hxx, hxy, hyy float64) ([2]float64, bool) {
	var (
		es   mat.EigenSym
		eigs [2]float64
	)
	if !es.Factorize(mat.NewSymDense(2, []float64{hxx, hxy, hxy, hyy}), false) {
		return eigs, false
	}
	vals := es.Values(nil)
	eigs[0], eigs[1] = vals[0], vals[1]
	return eigs, true
}

// CriticalType classifies a critical point by its Hessian eigenvalues
type CriticalType uint8

const (
	Degenerate CriticalType = iota
	Maximum
	Minimum
	Saddle
)

func (c CriticalType) String() string {
	switch c {
	case Maximum:
		return "maximum"
	case Minimum:
		return "minimum"
	case Saddle:
		return "saddle"
	default:
		return "degenerate"
	}
}

// Classify returns the critical point type for ascending eigenvalues
func Classify(eigs [2]float64) CriticalType {
	switch {
	case eigs[0] < 0 && eigs[1] < 0:
		return Maximum
	case eigs[0] > 0 && eigs[1] > 0:
		return Minimum
	case eigs[0] < 0 && eigs[1] > 0:
		return Saddle
	default:
		return Degenerate
	}
}
