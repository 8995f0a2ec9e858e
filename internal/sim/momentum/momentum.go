// Package momentum models entity motion as a (rate, direction) pair.
//
// Rate is the number of ticks needed to advance one lattice step along
// Direction. Rate 1 is the fastest legal motion. Rate 0 appears only as the
// degenerate result of a merge whose contributions cancel exactly and must be
// checked for by every caller of Merge.
//
// Merge conserves momentum only approximately. The merged direction is
// normalized by its largest component rather than by its length, and the
// merged rate is floor((e1+e2)·r1·r2 / floor|p|) where p is the exact
// cross-multiplied total. The integer relation
//
//	rate·floor|p| <= (e1+e2)·r1·r2 < (rate+1)·floor|p|
//
// holds whenever the rate is not clamped, so the merged speed never falls
// below the exact value and overshoots it by less than one rate step.
package momentum

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"tickframe.space/internal/sim/vec"
)

var ErrSubLightRate = errors.New("momentum: rate below causal limit")

type Momentum struct {
	Rate      int64
	Direction vec.Vector
}

// AtRest is the canonical momentum of a non-moving entity.
func AtRest(dim int) Momentum { return Momentum{Rate: 1, Direction: vec.Zero(dim)} }

// Degenerate is the merge sentinel for perfect cancellation.
func Degenerate(dim int) Momentum { return Momentum{Rate: 0, Direction: vec.Zero(dim)} }

func (m Momentum) IsDegenerate() bool { return m.Rate == 0 && m.Direction.IsZero() }

func (m Momentum) Validate() error {
	if m.Rate < 1 {
		return fmt.Errorf("%w: rate=%d direction=%v", ErrSubLightRate, m.Rate, m.Direction)
	}
	return nil
}

func (m Momentum) Equal(o Momentum) bool {
	return m.Rate == o.Rate && m.Direction.Equal(o.Direction)
}

// Cost is the integer magnitude of Direction scaled by Rate.
func (m Momentum) Cost() int64 {
	return saturate(m.Direction.ScaleInt(m.Rate).Magnitude())
}

func (m Momentum) String() string { return fmt.Sprintf("{rate=%d dir=%v}", m.Rate, m.Direction) }

// Merge combines two momenta weighted by the energies of their carriers.
// Contributions are cross-multiplied by the other rate so that the only
// division happens in the final step.
func Merge(m1, m2 Momentum, e1, e2 int64) Momentum {
	dim := m1.Direction.Dim()
	if e1 == 0 && e2 == 0 {
		return AtRest(dim)
	}
	r1 := big.NewInt(m1.Rate)
	r2 := big.NewInt(m2.Rate)

	w1 := new(big.Int).Mul(big.NewInt(e1), r2)
	w2 := new(big.Int).Mul(big.NewInt(e2), r1)
	total := m1.Direction.Scale(w1).Add(m2.Direction.Scale(w2))
	if total.IsZero() {
		return Degenerate(dim)
	}

	mag := total.Magnitude()
	num := new(big.Int).Add(big.NewInt(e1), big.NewInt(e2))
	num.Mul(num, r1)
	num.Mul(num, r2)
	rate := num.Quo(num, mag)

	out := Momentum{Rate: saturate(rate), Direction: total.NormalizeByMaxComponent()}
	if out.Rate < 1 {
		out.Rate = 1
	}
	return out
}

func saturate(x *big.Int) int64 {
	if x.IsInt64() {
		return x.Int64()
	}
	if x.Sign() < 0 {
		return math.MinInt64
	}
	return math.MaxInt64
}
