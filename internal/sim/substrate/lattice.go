// Package substrate provides the lattice geometry the kernel runs on: the
// dimension count and the fixed list of legal move/division directions.
package substrate

import (
	"fmt"
	"strings"

	"tickframe.space/internal/sim/vec"
)

const (
	NeighbourhoodAxis  = "axis"
	NeighbourhoodMoore = "moore"
)

// Lattice is immutable after construction and safe for concurrent use.
type Lattice struct {
	dims       int
	kind       string
	directions []vec.Vector
	magnitudes []int64
}

// Axis returns the 2·dim unit directions ±e_i.
func Axis(dims int) *Lattice {
	dirs := make([]vec.Vector, 0, 2*dims)
	for i := 0; i < dims; i++ {
		for _, s := range [2]int64{1, -1} {
			c := make([]int64, dims)
			c[i] = s
			dirs = append(dirs, vec.Of(c...))
		}
	}
	return newLattice(dims, NeighbourhoodAxis, dirs)
}

// Moore returns every non-zero vector in {-1,0,1}^dim, in lexicographic order.
func Moore(dims int) *Lattice {
	total := 1
	for i := 0; i < dims; i++ {
		total *= 3
	}
	dirs := make([]vec.Vector, 0, total-1)
	for n := 0; n < total; n++ {
		c := make([]int64, dims)
		x := n
		for i := dims - 1; i >= 0; i-- {
			c[i] = int64(x%3) - 1
			x /= 3
		}
		v := vec.Of(c...)
		if v.IsZero() {
			continue
		}
		dirs = append(dirs, v)
	}
	return newLattice(dims, NeighbourhoodMoore, dirs)
}

// New builds a lattice by neighbourhood name.
func New(neighbourhood string, dims int) (*Lattice, error) {
	if dims < 1 {
		return nil, fmt.Errorf("substrate: dims must be >= 1, got %d", dims)
	}
	switch strings.ToLower(strings.TrimSpace(neighbourhood)) {
	case "", NeighbourhoodAxis:
		return Axis(dims), nil
	case NeighbourhoodMoore:
		return Moore(dims), nil
	default:
		return nil, fmt.Errorf("substrate: unknown neighbourhood %q", neighbourhood)
	}
}

func newLattice(dims int, kind string, dirs []vec.Vector) *Lattice {
	mags := make([]int64, len(dirs))
	for i, d := range dirs {
		mags[i] = d.Magnitude().Int64()
	}
	return &Lattice{dims: dims, kind: kind, directions: dirs, magnitudes: mags}
}

func (l *Lattice) Dims() int { return l.dims }

func (l *Lattice) Kind() string { return l.kind }

// Directions returns the shared direction list. Vectors are immutable, so
// callers may hold on to them; the slice itself must not be modified.
func (l *Lattice) Directions() []vec.Vector { return l.directions }

// Magnitude is the precomputed floor length of direction i.
func (l *Lattice) Magnitude(i int) int64 { return l.magnitudes[i] }

func (l *Lattice) Zero() vec.Vector { return vec.Zero(l.dims) }
