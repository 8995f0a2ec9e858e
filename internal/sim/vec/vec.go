// Package vec implements immutable N-dimensional integer vectors backed by
// arbitrary-precision integers. Every operation returns a new Vector; the
// receiver is never modified.
package vec

import (
	"fmt"
	"math/big"
	"strings"
)

var bigOne = big.NewInt(1)

// Vector is an ordered, fixed-length sequence of integers.
// The zero value is the 0-dimensional vector.
type Vector struct {
	c []*big.Int
}

// Position is a Vector interpreted as a lattice coordinate.
type Position = Vector

func Zero(dim int) Vector {
	c := make([]*big.Int, dim)
	for i := range c {
		c[i] = new(big.Int)
	}
	return Vector{c: c}
}

func Of(components ...int64) Vector {
	c := make([]*big.Int, len(components))
	for i, v := range components {
		c[i] = big.NewInt(v)
	}
	return Vector{c: c}
}

// OfBig copies the given components.
func OfBig(components ...*big.Int) Vector {
	c := make([]*big.Int, len(components))
	for i, v := range components {
		c[i] = new(big.Int).Set(v)
	}
	return Vector{c: c}
}

func (v Vector) Dim() int { return len(v.c) }

// Component returns a copy of the i-th component.
func (v Vector) Component(i int) *big.Int { return new(big.Int).Set(v.c[i]) }

// Int64s returns the components as int64. ok is false if any component
// does not fit.
func (v Vector) Int64s() (out []int64, ok bool) {
	out = make([]int64, len(v.c))
	for i, x := range v.c {
		if !x.IsInt64() {
			return nil, false
		}
		out[i] = x.Int64()
	}
	return out, true
}

func (v Vector) sameDim(o Vector) {
	if len(v.c) != len(o.c) {
		panic(fmt.Sprintf("vec: dimension mismatch %d vs %d", len(v.c), len(o.c)))
	}
}

func (v Vector) Dot(o Vector) *big.Int {
	v.sameDim(o)
	sum := new(big.Int)
	var t big.Int
	for i := range v.c {
		sum.Add(sum, t.Mul(v.c[i], o.c[i]))
	}
	return sum
}

func (v Vector) MagnitudeSquared() *big.Int { return v.Dot(v) }

// Magnitude is the exact floor of the Euclidean length.
func (v Vector) Magnitude() *big.Int { return ISqrt(v.MagnitudeSquared()) }

func (v Vector) Add(o Vector) Vector {
	v.sameDim(o)
	c := make([]*big.Int, len(v.c))
	for i := range v.c {
		c[i] = new(big.Int).Add(v.c[i], o.c[i])
	}
	return Vector{c: c}
}

func (v Vector) Sub(o Vector) Vector {
	v.sameDim(o)
	c := make([]*big.Int, len(v.c))
	for i := range v.c {
		c[i] = new(big.Int).Sub(v.c[i], o.c[i])
	}
	return Vector{c: c}
}

// Offset moves a position by a direction.
func (v Vector) Offset(d Vector) Position { return v.Add(d) }

func (v Vector) Scale(s *big.Int) Vector {
	c := make([]*big.Int, len(v.c))
	for i := range v.c {
		c[i] = new(big.Int).Mul(v.c[i], s)
	}
	return Vector{c: c}
}

func (v Vector) ScaleInt(s int64) Vector { return v.Scale(big.NewInt(s)) }

func (v Vector) MaxAbsComponent() *big.Int {
	max := new(big.Int)
	var a big.Int
	for _, x := range v.c {
		a.Abs(x)
		if a.Cmp(max) > 0 {
			max.Set(&a)
		}
	}
	return max
}

// NormalizeByMaxComponent divides every component by the largest absolute
// component, truncating toward zero. The zero vector maps to itself.
func (v Vector) NormalizeByMaxComponent() Vector {
	max := v.MaxAbsComponent()
	if max.Sign() == 0 {
		return Zero(len(v.c))
	}
	c := make([]*big.Int, len(v.c))
	for i, x := range v.c {
		c[i] = new(big.Int).Quo(x, max)
	}
	return Vector{c: c}
}

func (v Vector) IsZero() bool {
	for _, x := range v.c {
		if x.Sign() != 0 {
			return false
		}
	}
	return true
}

func (v Vector) SumComponents() *big.Int {
	sum := new(big.Int)
	for _, x := range v.c {
		sum.Add(sum, x)
	}
	return sum
}

func (v Vector) Equal(o Vector) bool {
	if len(v.c) != len(o.c) {
		return false
	}
	for i := range v.c {
		if v.c[i].Cmp(o.c[i]) != 0 {
			return false
		}
	}
	return true
}

// Compare orders vectors lexicographically by component. Shorter vectors
// sort first.
func (v Vector) Compare(o Vector) int {
	if len(v.c) != len(o.c) {
		if len(v.c) < len(o.c) {
			return -1
		}
		return 1
	}
	for i := range v.c {
		if c := v.c[i].Cmp(o.c[i]); c != 0 {
			return c
		}
	}
	return 0
}

// Key is a canonical content key, usable as a map key.
func (v Vector) Key() string {
	var b strings.Builder
	for i, x := range v.c {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(x.String())
	}
	return b.String()
}

func (v Vector) String() string { return "(" + v.Key() + ")" }

// ISqrt returns floor(sqrt(n)) using a bit-by-bit search over the result's
// binary digits. n must be non-negative.
func ISqrt(n *big.Int) *big.Int {
	if n.Sign() < 0 {
		panic("vec: square root of negative number")
	}
	r := new(big.Int)
	if n.Sign() == 0 {
		return r
	}
	var cand, sq, bit big.Int
	for i := (n.BitLen()+1)/2 - 1; i >= 0; i-- {
		bit.Lsh(bigOne, uint(i))
		cand.Add(r, &bit)
		sq.Mul(&cand, &cand)
		if sq.Cmp(n) <= 0 {
			r.Set(&cand)
		}
	}
	return r
}
