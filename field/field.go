package field

import (
	"fmt"
	"math"

	"github.com/notargets/CPTrack/mesh"
)

// Array is a dense W x H x T float32 array, x fastest
type Array struct {
	W, H, T int
	Data    []float32
}

// NewArray allocates a zeroed array
func NewArray(W, H, T int) *Array {
	return &Array{W: W, H: H, T: T, Data: make([]float32, W*H*T)}
}

// Index returns the flat offset of (i, j, k)
func (a *Array) Index(i, j, k int) int { return i + a.W*(j+a.H*k) }

// At returns the value at (i, j, k)
func (a *Array) At(i, j, k int) float32 { return a.Data[a.Index(i, j, k)] }

// Set stores v at (i, j, k)
func (a *Array) Set(i, j, k int, v float32) { a.Data[a.Index(i, j, k)] = v }

// Shape returns the array dimensions
func (a *Array) Shape() [mesh.NDims]int { return [mesh.NDims]int{a.W, a.H, a.T} }

// Gradient holds the two spatial derivative components
type Gradient struct {
	X, Y *Array
}

// Hessian holds the second spatial derivatives
type Hessian struct {
	XX, XY, YX, YY *Array
}

// Synthetic evaluates the built-in rotating pattern used when no input
// file is given
func Synthetic(x, y, t float64) float64 {
	return math.Cos(x*math.Cos(t)-y*math.Sin(t)) * math.Sin(x*math.Sin(t)+y*math.Cos(t))
}

// Region returns the box [lower, upper) of grid points around ghost,
// padded by pad points and clipped to the W x H x T grid
func Region(W, H, T int, ghost mesh.Lattice, pad int) (lower, upper [mesh.NDims]int) {
	dims := [mesh.NDims]int{W, H, T}
	for a := 0; a < mesh.NDims; a++ {
		lower[a] = max(0, ghost.Lower(a)-pad)
		upper[a] = min(ghost.Upper(a)+pad+1, dims[a])
	}
	return
}

// GenerateSynthetic fills the part of a W x H x T array a block needs:
// its ghost lattice padded by two points for the second derivatives
func GenerateSynthetic(W, H, T int, scaling float64, ghost mesh.Lattice) (*Array, error) {
	if W < 2 || H < 2 || T < 2 {
		return nil, fmt.Errorf("synthetic field needs at least 2 points per axis, got %dx%dx%d", W, H, T)
	}
	scalar := NewArray(W, H, T)
	lower, upper := Region(W, H, T, ghost, 2)
	for k := lower[2]; k < upper[2]; k++ {
		for j := lower[1]; j < upper[1]; j++ {
			for i := lower[0]; i < upper[0]; i++ {
				x := (float64(i)/float64(W-1) - 0.5) * scaling
				y := (float64(j)/float64(H-1) - 0.5) * scaling
				t := float64(k)/float64(T-1) + 1e-4
				scalar.Set(i, j, k, float32(Synthetic(x, y, t)))
			}
		}
	}
	return scalar, nil
}

// DeriveGradients computes central difference gradients over the ghost
// lattice padded by one point. Derivatives are scaled to a unit domain.
func DeriveGradients(scalar *Array, ghost mesh.Lattice) *Gradient {
	W, H, T := scalar.W, scalar.H, scalar.T
	g := &Gradient{X: NewArray(W, H, T), Y: NewArray(W, H, T)}
	sx, sy := float32(W-1), float32(H-1)

	lower, upper := Region(W, H, T, ghost, 1)
	for k := lower[2]; k < upper[2]; k++ {
		for j := max(1, lower[1]); j < min(upper[1], H-1); j++ {
			for i := max(1, lower[0]); i < min(upper[0], W-1); i++ {
				g.X.Set(i, j, k, 0.5*(scalar.At(i+1, j, k)-scalar.At(i-1, j, k))*sx)
				g.Y.Set(i, j, k, 0.5*(scalar.At(i, j+1, k)-scalar.At(i, j-1, k))*sy)
			}
		}
	}
	return g
}

// DeriveHessians differentiates the gradient over the ghost lattice
func DeriveHessians(g *Gradient, ghost mesh.Lattice) *Hessian {
	W, H, T := g.X.W, g.X.H, g.X.T
	h := &Hessian{XX: NewArray(W, H, T), XY: NewArray(W, H, T), YX: NewArray(W, H, T), YY: NewArray(W, H, T)}
	sx, sy := float32(W-1), float32(H-1)

	lower, upper := Region(W, H, T, ghost, 0)
	for k := lower[2]; k < upper[2]; k++ {
		for j := max(2, lower[1]); j < min(upper[1], H-2); j++ {
			for i := max(2, lower[0]); i < min(upper[0], W-2); i++ {
				h.XX.Set(i, j, k, 0.5*(g.X.At(i+1, j, k)-g.X.At(i-1, j, k))*sx)
				h.XY.Set(i, j, k, 0.5*(g.X.At(i, j+1, k)-g.X.At(i, j-1, k))*sy)
				h.YX.Set(i, j, k, 0.5*(g.Y.At(i+1, j, k)-g.Y.At(i-1, j, k))*sx)
				h.YY.Set(i, j, k, 0.5*(g.Y.At(i, j+1, k)-g.Y.At(i, j-1, k))*sy)
			}
		}
	}
	return h
}
