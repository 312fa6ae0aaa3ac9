package mesh

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ElementID is the stable key of a mesh element. IDs are totally ordered
// by string comparison and can be sent between processes as is.
type ElementID string

// Less orders element IDs
func (id ElementID) Less(o ElementID) bool { return id < o }

// ErrMalformedID is returned when an element ID cannot be parsed
var ErrMalformedID = errors.New("malformed element id")

const allAxes uint8 = 1<<NDims - 1

// Simplex is a k-simplex of the Freudenthal triangulation of the lattice.
// Its vertices are Corner, Corner+Masks[0], Corner+Masks[0]+Masks[1], ...
// where the masks are disjoint, non-empty sets of axes (bit i = axis i).
type Simplex struct {
	Dim    int
	Corner [NDims]int
	Masks  [NDims]uint8
}

// NewSimplex checks the mask chain and builds a simplex
func NewSimplex(corner [NDims]int, masks ...uint8) (Simplex, error) {
	s := Simplex{Dim: len(masks), Corner: corner}
	if len(masks) > NDims {
		return s, fmt.Errorf("simplex dimension %d exceeds %d", len(masks), NDims)
	}
	var used uint8
	for i, m := range masks {
		if m == 0 || m&^allAxes != 0 {
			return s, fmt.Errorf("invalid axis mask %d", m)
		}
		if used&m != 0 {
			return s, fmt.Errorf("axis masks overlap at position %d", i)
		}
		used |= m
		s.Masks[i] = m
	}
	return s, nil
}

// Vertices returns the Dim+1 lattice points of the simplex
func (s Simplex) Vertices() [][NDims]int {
	verts := make([][NDims]int, s.Dim+1)
	verts[0] = s.Corner
	for i := 0; i < s.Dim; i++ {
		v := verts[i]
		for a := 0; a < NDims; a++ {
			if s.Masks[i]&(1<<a) != 0 {
				v[a]++
			}
		}
		verts[i+1] = v
	}
	return verts
}

// ID encodes the simplex as "dim:cx,cy,ct:m0,m1"
func (s Simplex) ID() ElementID {
	var sb strings.Builder
	sb.Grow(24)
	sb.WriteString(strconv.Itoa(s.Dim))
	sb.WriteByte(':')
	for i := 0; i < NDims; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(s.Corner[i]))
	}
	sb.WriteByte(':')
	for i := 0; i < s.Dim; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(s.Masks[i])))
	}
	return ElementID(sb.String())
}

func (s Simplex) String() string { return string(s.ID()) }

// ParseID reconstructs a simplex from its ID
func ParseID(id ElementID) (Simplex, error) {
	parts := strings.Split(string(id), ":")
	if len(parts) != 3 {
		return Simplex{}, fmt.Errorf("%w: %q", ErrMalformedID, id)
	}
	dim, err := strconv.Atoi(parts[0])
	if err != nil || dim < 0 || dim > NDims {
		return Simplex{}, fmt.Errorf("%w: bad dimension in %q", ErrMalformedID, id)
	}
	coords := strings.Split(parts[1], ",")
	if len(coords) != NDims {
		return Simplex{}, fmt.Errorf("%w: bad corner in %q", ErrMalformedID, id)
	}
	var corner [NDims]int
	for i, c := range coords {
		if corner[i], err = strconv.Atoi(c); err != nil {
			return Simplex{}, fmt.Errorf("%w: bad corner in %q", ErrMalformedID, id)
		}
	}
	var masks []uint8
	if dim > 0 {
		fields := strings.Split(parts[2], ",")
		if len(fields) != dim {
			return Simplex{}, fmt.Errorf("%w: expected %d masks in %q", ErrMalformedID, dim, id)
		}
		for _, f := range fields {
			m, err := strconv.Atoi(f)
			if err != nil {
				return Simplex{}, fmt.Errorf("%w: bad mask in %q", ErrMalformedID, id)
			}
			masks = append(masks, uint8(m))
		}
	} else if parts[2] != "" {
		return Simplex{}, fmt.Errorf("%w: vertex with masks %q", ErrMalformedID, id)
	}
	s, err := NewSimplex(corner, masks...)
	if err != nil {
		return Simplex{}, fmt.Errorf("%w: %v", ErrMalformedID, err)
	}
	return s, nil
}

// Sides returns the (Dim-1)-faces of the simplex
func (s Simplex) Sides() []Simplex {
	if s.Dim == 0 {
		return nil
	}
	k := s.Dim
	sides := make([]Simplex, 0, k+1)
	masks := s.Masks[:k]

	// drop the first vertex: the corner moves along the first mask
	first := Simplex{Dim: k - 1, Corner: shift(s.Corner, masks[0], 1)}
	copy(first.Masks[:], masks[1:])
	sides = append(sides, first)

	// drop an interior vertex: the two adjacent masks merge
	for i := 1; i < k; i++ {
		f := Simplex{Dim: k - 1, Corner: s.Corner}
		n := 0
		for j := 0; j < k; j++ {
			switch {
			case j == i-1:
				f.Masks[n] = masks[j] | masks[j+1]
				n++
			case j == i:
			default:
				f.Masks[n] = masks[j]
				n++
			}
		}
		sides = append(sides, f)
	}

	// drop the last vertex
	last := Simplex{Dim: k - 1, Corner: s.Corner}
	copy(last.Masks[:], masks[:k-1])
	sides = append(sides, last)
	return sides
}

// SideOf returns the (Dim+1)-simplices that have s as a face.
// Cofaces outside the mesh are included; filter them with Mesh.Valid.
func (s Simplex) SideOf() []Simplex {
	if s.Dim >= NDims {
		return nil
	}
	k := s.Dim
	var used uint8
	for i := 0; i < k; i++ {
		used |= s.Masks[i]
	}
	free := allAxes &^ used

	var cofaces []Simplex
	for sub := free; sub != 0; sub = (sub - 1) & free {
		// new first vertex below the corner
		pre := Simplex{Dim: k + 1, Corner: shift(s.Corner, sub, -1)}
		pre.Masks[0] = sub
		copy(pre.Masks[1:], s.Masks[:k])
		cofaces = append(cofaces, pre)

		// new last vertex above the top vertex
		post := Simplex{Dim: k + 1, Corner: s.Corner}
		copy(post.Masks[:], s.Masks[:k])
		post.Masks[k] = sub
		cofaces = append(cofaces, post)
	}

	// new interior vertex splitting one mask in two
	for i := 0; i < k; i++ {
		m := s.Masks[i]
		for a := (m - 1) & m; a != 0; a = (a - 1) & m {
			c := Simplex{Dim: k + 1, Corner: s.Corner}
			n := 0
			for j := 0; j < k; j++ {
				if j == i {
					c.Masks[n] = a
					c.Masks[n+1] = m &^ a
					n += 2
					continue
				}
				c.Masks[n] = s.Masks[j]
				n++
			}
			cofaces = append(cofaces, c)
		}
	}
	return cofaces
}

func shift(p [NDims]int, mask uint8, delta int) [NDims]int {
	for a := 0; a < NDims; a++ {
		if mask&(1<<a) != 0 {
			p[a] += delta
		}
	}
	return p
}

// Types lists every mask chain of a dim-simplex anchored at one lattice
// point, in a fixed order. There are 7 edges, 12 triangles and 6 tets.
func Types(dim int) [][NDims]uint8 {
	var out [][NDims]uint8
	var rec func(depth int, used uint8, chain [NDims]uint8)
	rec = func(depth int, used uint8, chain [NDims]uint8) {
		if depth == dim {
			out = append(out, chain)
			return
		}
		free := allAxes &^ used
		for m := uint8(1); m <= allAxes; m++ {
			if m&free != m {
				continue
			}
			chain[depth] = m
			rec(depth+1, used|m, chain)
		}
	}
	rec(0, 0, [NDims]uint8{})
	return out
}
