// Package fileio reads and writes intersection dumps, trajectory files,
// component set files and raw scalar fields.
package fileio

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/notargets/CPTrack/feature"
	"github.com/notargets/CPTrack/field"
	"github.com/notargets/CPTrack/mesh"
)

// ErrMalformed is returned for trajectory or set files that cannot be parsed
var ErrMalformed = errors.New("malformed file")

// WriteDump writes intersections as a JSON array ordered by ID
func WriteDump(w io.Writer, ins []feature.Intersection) error {
	sorted := append([]feature.Intersection(nil), ins...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	if sorted == nil {
		sorted = []feature.Intersection{}
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(sorted); err != nil {
		return fmt.Errorf("encoding dump: %w", err)
	}
	return nil
}

// ReadDump reads a JSON dump into a store. Duplicate IDs keep the first
// record.
func ReadDump(r io.Reader) (*feature.Store, error) {
	var ins []feature.Intersection
	if err := json.NewDecoder(r).Decode(&ins); err != nil {
		return nil, fmt.Errorf("decoding dump: %w", err)
	}
	s := feature.NewStore()
	for _, in := range ins {
		s.Insert(in)
	}
	return s, nil
}

// WriteDumpFile writes a dump to path
func WriteDumpFile(path string, ins []feature.Intersection) error {
	return writeFile(path, func(w io.Writer) error { return WriteDump(w, ins) })
}

// ReadDumpFile reads the dump at path
func ReadDumpFile(path string) (*feature.Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := ReadDump(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// WriteTrajectories writes every curve as its float count followed by
// the flattened x, y, t, value coordinates, all little endian float32
func WriteTrajectories(w io.Writer, trs []feature.Trajectory) error {
	bw := bufio.NewWriter(w)
	for _, tr := range trs {
		coords := tr.Flatten()
		if err := binary.Write(bw, binary.LittleEndian, float32(len(coords))); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, coords); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadTrajectories reads curves written by WriteTrajectories
func ReadTrajectories(r io.Reader) ([]feature.Trajectory, error) {
	br := bufio.NewReader(r)
	var out []feature.Trajectory
	for {
		var count float32
		err := binary.Read(br, binary.LittleEndian, &count)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("trajectory %d: %w", len(out), err)
		}
		n := int(count)
		if count < 0 || float32(n) != count || n%4 != 0 || n > math.MaxInt32 {
			return nil, fmt.Errorf("%w: trajectory %d has count %v", ErrMalformed, len(out), count)
		}
		coords := make([]float32, n)
		if err := binary.Read(br, binary.LittleEndian, coords); err != nil {
			return nil, fmt.Errorf("%w: trajectory %d truncated: %v", ErrMalformed, len(out), err)
		}
		out = append(out, feature.Unflatten(coords))
	}
}

// WriteTrajectoryFile writes curves to path
func WriteTrajectoryFile(path string, trs []feature.Trajectory) error {
	return writeFile(path, func(w io.Writer) error { return WriteTrajectories(w, trs) })
}

// ReadTrajectoryFile reads the curves at path
func ReadTrajectoryFile(path string) ([]feature.Trajectory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	trs, err := ReadTrajectories(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return trs, nil
}

// WriteSets writes one line per component with its sorted member IDs
// separated by spaces
func WriteSets(w io.Writer, comps []feature.Component) error {
	bw := bufio.NewWriter(w)
	for _, c := range comps {
		ids := c.IDs()
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = string(id)
		}
		if _, err := fmt.Fprintln(bw, strings.Join(parts, " ")); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadSets parses a component set file
func ReadSets(r io.Reader) ([][]mesh.ElementID, error) {
	var out [][]mesh.ElementID
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		ids := make([]mesh.ElementID, len(fields))
		for i, f := range fields {
			ids[i] = mesh.ElementID(f)
		}
		out = append(out, ids)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return out, nil
}

// WriteSetsFile writes a component set file to path
func WriteSetsFile(path string, comps []feature.Component) error {
	return writeFile(path, func(w io.Writer) error { return WriteSets(w, comps) })
}

// ReadRawFieldRegion reads the box [lower, upper) of a raw little endian
// float32 W x H x T field, x fastest. Only the rows inside the box are
// read, the rest of the returned array is zero.
func ReadRawFieldRegion(path string, W, H, T int, lower, upper [mesh.NDims]int) (*field.Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if want := int64(W) * int64(H) * int64(T) * 4; st.Size() < want {
		return nil, fmt.Errorf("%s: %d bytes, a %dx%dx%d float32 field needs %d", path, st.Size(), W, H, T, want)
	}
	dims := [mesh.NDims]int{W, H, T}
	for a := 0; a < mesh.NDims; a++ {
		if lower[a] < 0 || upper[a] > dims[a] || lower[a] > upper[a] {
			return nil, fmt.Errorf("%s: region %v..%v outside field %v", path, lower, upper, dims)
		}
	}

	a := field.NewArray(W, H, T)
	nx := upper[0] - lower[0]
	if nx == 0 {
		return a, nil
	}
	buf := make([]byte, 4*nx)
	for k := lower[2]; k < upper[2]; k++ {
		for j := lower[1]; j < upper[1]; j++ {
			off := a.Index(lower[0], j, k)
			if _, err := f.ReadAt(buf, int64(off)*4); err != nil {
				return nil, fmt.Errorf("%s: row (%d, %d): %w", path, j, k, err)
			}
			for i := 0; i < nx; i++ {
				a.Data[off+i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
			}
		}
	}
	return a, nil
}

// WriteRawField writes a full field as little endian float32
func WriteRawField(path string, a *field.Array) error {
	return writeFile(path, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		if err := binary.Write(bw, binary.LittleEndian, a.Data); err != nil {
			return err
		}
		return bw.Flush()
	})
}

func writeFile(path string, fn func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
