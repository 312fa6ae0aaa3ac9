package scanner

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/notargets/CPTrack/feature"
	"github.com/notargets/CPTrack/field"
	"github.com/notargets/CPTrack/mesh"
	"github.com/notargets/CPTrack/numeric"
)

// Policy selects which critical point types are tracked
type Policy uint8

const (
	Maxima Policy = iota
	Minima
	Saddles
	Extrema // maxima and minima
	All
)

var policyNames = map[string]Policy{
	"maxima":  Maxima,
	"minima":  Minima,
	"saddles": Saddles,
	"extrema": Extrema,
	"all":     All,
}

// ParsePolicy maps a policy name to a Policy
func ParsePolicy(name string) (Policy, error) {
	p, ok := policyNames[strings.ToLower(name)]
	if !ok {
		return Maxima, fmt.Errorf("unknown critical point policy %q", name)
	}
	return p, nil
}

func (p Policy) String() string {
	for name, v := range policyNames {
		if v == p {
			return name
		}
	}
	return fmt.Sprintf("policy(%d)", uint8(p))
}

// Accept reports whether critical type c is tracked under p
func (p Policy) Accept(c numeric.CriticalType) bool {
	switch p {
	case Maxima:
		return c == numeric.Maximum
	case Minima:
		return c == numeric.Minimum
	case Saddles:
		return c == numeric.Saddle
	case Extrema:
		return c == numeric.Maximum || c == numeric.Minimum
	case All:
		return c != numeric.Degenerate
	}
	return false
}

// Stats counts the outcome of every simplex check
type Stats struct {
	Simplices int64
	NoRoot    int64 // no gradient zero inside the simplex
	Rejected  int64 // zero found but its type is not tracked
	Accepted  int64
}

// Scanner finds critical points on the 2-simplices of a block mesh
type Scanner struct {
	Mesh    *mesh.Mesh
	Scalar  *field.Array
	Grad    *field.Gradient
	Hess    *field.Hessian
	Policy  Policy
	Threads int
	Store   *feature.Store

	simplices, noRoot, rejected, accepted atomic.Int64

	logger *slog.Logger
}

// New returns a scanner writing into store. A nil logger uses slog.Default().
func New(m *mesh.Mesh, scalar *field.Array, grad *field.Gradient, hess *field.Hessian,
	store *feature.Store, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		Mesh:    m,
		Scalar:  scalar,
		Grad:    grad,
		Hess:    hess,
		Threads: 1,
		Store:   store,
		logger:  logger.With(slog.String("component", "scanner")),
	}
}

// Scan checks every 2-simplex of the mesh and returns the counters
func (s *Scanner) Scan() Stats {
	s.Mesh.ElementForParallel(2, s.Threads, func(f mesh.Simplex) {
		s.simplices.Add(1)
		in, ok := s.CheckSimplex(f)
		if ok {
			s.Store.Insert(in)
		}
	})
	st := s.Stats()
	s.logger.Debug("scan complete",
		slog.String("lattice", s.Mesh.Lattice.String()),
		slog.Int64("simplices", st.Simplices),
		slog.Int64("no_root", st.NoRoot),
		slog.Int64("rejected", st.Rejected),
		slog.Int64("accepted", st.Accepted))
	return st
}

// Stats returns the counters accumulated so far
func (s *Scanner) Stats() Stats {
	return Stats{
		Simplices: s.simplices.Load(),
		NoRoot:    s.noRoot.Load(),
		Rejected:  s.rejected.Load(),
		Accepted:  s.accepted.Load(),
	}
}

// CheckSimplex looks for a tracked critical point inside triangle f
func (s *Scanner) CheckSimplex(f mesh.Simplex) (feature.Intersection, bool) {
	if f.Dim != 2 || !s.Mesh.Valid(f) {
		return feature.Intersection{}, false
	}
	verts := f.Vertices()

	var (
		g     [3][2]float64
		value [3]float64
	)
	for i, v := range verts {
		g[i][0] = float64(s.Grad.X.At(v[0], v[1], v[2]))
		g[i][1] = float64(s.Grad.Y.At(v[0], v[1], v[2]))
		value[i] = float64(s.Scalar.At(v[0], v[1], v[2]))
	}

	mu, ok := numeric.InverseLerpS2V2(g)
	if !ok {
		s.noRoot.Add(1)
		return feature.Intersection{}, false
	}

	var hxx, hxy, hyy [3]float64
	for i, v := range verts {
		hxx[i] = float64(s.Hess.XX.At(v[0], v[1], v[2]))
		hxy[i] = float64(s.Hess.XY.At(v[0], v[1], v[2]))
		hyy[i] = float64(s.Hess.YY.At(v[0], v[1], v[2]))
	}
	eigs, ok := numeric.SymmetricEigenvalues2(numeric.LerpS2(hxx, mu), numeric.LerpS2(hxy, mu), numeric.LerpS2(hyy, mu))
	if !ok || !s.Policy.Accept(numeric.Classify(eigs)) {
		s.rejected.Add(1)
		return feature.Intersection{}, false
	}

	var X [3][3]float64
	for i, v := range verts {
		for j := 0; j < 3; j++ {
			X[i][j] = float64(v[j])
		}
	}
	s.accepted.Add(1)
	return feature.Intersection{
		ID:  f.ID(),
		X:   numeric.LerpS2V3(X, mu),
		Val: numeric.LerpS2(value, mu),
	}, true
}
