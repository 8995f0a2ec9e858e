// Package collision arbitrates simultaneous claims on one lattice cell.
package collision

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/google/uuid"

	"tickframe.space/internal/sim/entity"
	"tickframe.space/internal/sim/momentum"
	"tickframe.space/internal/sim/vec"
)

// Policy selects how groups of two or more claimants are resolved.
type Policy uint8

const (
	// PolicyClassify runs the MERGE / BOUNCE / DISAPPEAR classifier for every
	// group. It is the default.
	PolicyClassify Policy = iota
	// PolicyInterference resolves two-claimant groups by provisional merge,
	// annihilating both when the merged motion costs more than the merged
	// energy. Larger groups use the classifier.
	PolicyInterference
)

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "classify":
		return PolicyClassify, nil
	case "interference":
		return PolicyInterference, nil
	default:
		return 0, fmt.Errorf("collision: unknown policy %q", s)
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyClassify:
		return "classify"
	case PolicyInterference:
		return "interference"
	default:
		return fmt.Sprintf("Policy(%d)", p)
	}
}

type Kind uint8

const (
	KindPassThrough Kind = iota
	KindMerge
	KindBounce
	KindDisappear
	KindAnnihilate
)

func (k Kind) String() string {
	switch k {
	case KindPassThrough:
		return "PASS"
	case KindMerge:
		return "MERGE"
	case KindBounce:
		return "BOUNCE"
	case KindDisappear:
		return "DISAPPEAR"
	case KindAnnihilate:
		return "ANNIHILATE"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Claimant is an entity targeting a cell this tick. Occupant marks the
// entity that already lived there and was not due.
type Claimant struct {
	Entity   *entity.Entity
	Occupant bool
}

// Origin is the cell the claimant came from. Occupants never left.
func (c Claimant) Origin() vec.Position {
	if c.Occupant {
		return c.Entity.Position
	}
	return c.Entity.Position.Sub(c.Entity.Momentum.Direction)
}

// Outcome of one resolution. Survivors occupy the contested cell (at most
// one); Displaced entities were bounced back to their origin cells and must
// be placed there by the caller.
type Outcome struct {
	Kind      Kind
	Survivors []*entity.Entity
	Displaced []*entity.Entity

	EnergyIn        int64
	EnergySurvived  int64
	EnergyDestroyed int64
}

// Options tune one resolution.
type Options struct {
	Policy Policy
	// NoBounce resolves a zero-alignment group as DISAPPEAR instead of
	// displacing claimants. Used for groups formed by displaced entities.
	NoBounce bool
}

// Sort orders claimants by priority: occupant, energy, generation (both
// descending), approach direction, identity.
func Sort(tick int64, cs []Claimant) {
	sort.SliceStable(cs, func(i, j int) bool { return less(tick, cs[i], cs[j]) })
}

func less(tick int64, a, b Claimant) bool {
	if a.Occupant != b.Occupant {
		return a.Occupant
	}
	if ea, eb := a.Entity.Energy(tick), b.Entity.Energy(tick); ea != eb {
		return ea > eb
	}
	if a.Entity.Generation != b.Entity.Generation {
		return a.Entity.Generation > b.Entity.Generation
	}
	if c := a.Entity.Momentum.Direction.Compare(b.Entity.Momentum.Direction); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.Entity.ID[:], b.Entity.ID[:]) < 0
}

// Resolve settles every claim on pos at tick. The input slice is not
// modified; the result does not depend on its order.
func Resolve(tick int64, pos vec.Position, claimants []Claimant, sub entity.Substrate, opts Options) Outcome {
	cs := make([]Claimant, len(claimants))
	copy(cs, claimants)
	Sort(tick, cs)

	var out Outcome
	for _, c := range cs {
		out.EnergyIn += c.Entity.Energy(tick)
	}

	switch {
	case len(cs) == 0:
		out.Kind = KindPassThrough
		return out
	case len(cs) == 1:
		out.Kind = KindPassThrough
		out.Survivors = []*entity.Entity{cs[0].Entity}
		out.EnergySurvived = out.EnergyIn
		return out
	case len(cs) == 2 && opts.Policy == PolicyInterference:
		interfere(tick, pos, cs, sub, &out)
	default:
		classify(tick, pos, cs, sub, opts, &out)
	}
	out.EnergyDestroyed = out.EnergyIn - out.EnergySurvived
	return out
}

// Alignment is Σ dot(winner.direction, c.direction) over the sorted group.
func Alignment(cs []Claimant) *big.Int {
	w := cs[0].Entity.Momentum.Direction
	sum := new(big.Int)
	for _, c := range cs {
		sum.Add(sum, w.Dot(c.Entity.Momentum.Direction))
	}
	return sum
}

func classify(tick int64, pos vec.Position, cs []Claimant, sub entity.Substrate, opts Options, out *Outcome) {
	switch Alignment(cs).Sign() {
	case 1:
		out.Kind = KindMerge
		merged := mergeAll(tick, pos, cs, sub)
		out.Survivors = []*entity.Entity{merged}
		out.EnergySurvived = out.EnergyIn
	case 0:
		net, total := fold(tick, cs)
		if net.IsDegenerate() || (total == 0 && cancels(cs)) {
			out.Kind = KindAnnihilate
			return
		}
		if opts.NoBounce {
			disappear(tick, cs, out)
			return
		}
		out.Kind = KindBounce
		for i, c := range cs {
			m := momentum.Merge(c.Entity.Momentum, net, c.Entity.Energy(tick), total)
			if m.IsDegenerate() {
				m = momentum.AtRest(sub.Dims())
			}
			placed := c.Entity.WithMomentum(sub, tick, m)
			if i == 0 {
				out.Survivors = append(out.Survivors, relocate(placed, pos))
			} else {
				out.Displaced = append(out.Displaced, relocate(placed, c.Origin()))
			}
		}
		out.EnergySurvived = out.EnergyIn
	default:
		disappear(tick, cs, out)
	}
}

func disappear(tick int64, cs []Claimant, out *Outcome) {
	out.Kind = KindDisappear
	out.Survivors = []*entity.Entity{cs[0].Entity}
	out.EnergySurvived = cs[0].Entity.Energy(tick)
}

func interfere(tick int64, pos vec.Position, cs []Claimant, sub entity.Substrate, out *Outcome) {
	a, b := cs[0].Entity, cs[1].Entity
	ea, eb := a.Energy(tick), b.Energy(tick)
	m := momentum.Merge(a.Momentum, b.Momentum, ea, eb)
	if m.IsDegenerate() || m.Cost() > ea+eb || (ea+eb == 0 && cancels(cs)) {
		out.Kind = KindAnnihilate
		return
	}
	gen := a.Generation
	if b.Generation > gen {
		gen = b.Generation
	}
	out.Kind = KindMerge
	out.Survivors = []*entity.Entity{entity.NewMerged(sub, tick, ea+eb, pos, gen+1, m, a.ID, b.ID)}
	out.EnergySurvived = ea + eb
}

func mergeAll(tick int64, pos vec.Position, cs []Claimant, sub entity.Substrate) *entity.Entity {
	m, total := fold(tick, cs)
	if m.IsDegenerate() {
		m = momentum.AtRest(sub.Dims())
	}
	var gen int64
	ids := make([]uuid.UUID, len(cs))
	for i, c := range cs {
		if c.Entity.Generation > gen {
			gen = c.Entity.Generation
		}
		ids[i] = c.Entity.ID
	}
	return entity.NewMerged(sub, tick, total, pos, gen+1, m, ids...)
}

// cancels reports whether the claimants' velocities sum exactly to zero
// while at least one of them moves. Each direction is scaled by the product
// of the other claimants' rates. Used when no claimant carries energy, where
// an energy-weighted fold cannot tell opposition from rest.
func cancels(cs []Claimant) bool {
	dim := cs[0].Entity.Momentum.Direction.Dim()
	sum := vec.Zero(dim)
	moving := false
	for i, c := range cs {
		d := c.Entity.Momentum.Direction
		if d.IsZero() {
			continue
		}
		moving = true
		w := big.NewInt(1)
		for j, o := range cs {
			if j != i {
				w.Mul(w, big.NewInt(o.Entity.Momentum.Rate))
			}
		}
		sum = sum.Add(d.Scale(w))
	}
	return moving && sum.IsZero()
}

// fold merges the group's momenta pairwise in priority order. A degenerate
// intermediate result is treated as rest before the next merge.
func fold(tick int64, cs []Claimant) (momentum.Momentum, int64) {
	dim := cs[0].Entity.Momentum.Direction.Dim()
	m := cs[0].Entity.Momentum
	e := cs[0].Entity.Energy(tick)
	for _, c := range cs[1:] {
		if m.IsDegenerate() {
			m = momentum.AtRest(dim)
		}
		ec := c.Entity.Energy(tick)
		m = momentum.Merge(m, c.Entity.Momentum, e, ec)
		e += ec
	}
	return m, e
}

func relocate(e *entity.Entity, pos vec.Position) *entity.Entity {
	if e.Position.Equal(pos) {
		return e
	}
	cp := *e
	cp.Position = pos
	return &cp
}
