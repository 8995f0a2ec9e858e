// Package entity holds the immutable entity record and its transition
// function. An entity never changes in place: every tick step yields an
// Action naming the replacement values, and the registry commits them.
package entity

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"tickframe.space/internal/sim/momentum"
	"tickframe.space/internal/sim/vec"
)

// Namespace scopes the v5 identities handed out by this package.
var Namespace = uuid.MustParse("6f1f5c1e-3b7a-5d2e-9c44-7a1e0c2b9f10")

// Substrate is the lattice geometry the kernel is queried against.
type Substrate interface {
	Dims() int
	Directions() []vec.Vector
	Zero() vec.Vector
}

// Entity must be treated as read-only once constructed.
type Entity struct {
	ID         uuid.UUID
	BirthTick  int64
	Position   vec.Position
	Generation int64
	Momentum   momentum.Momentum

	// DivisionCosts[i] is the cost of dividing along Directions()[i].
	DivisionCosts     []int64
	DivisionThreshold int64
	NextActionTick    int64
}

const (
	identSeed    = "seed"
	identChild   = "child"
	identMerge   = "merge"
	identRestore = "restore"
)

func newEntity(sub Substrate, id uuid.UUID, birth int64, pos vec.Position, gen int64, m momentum.Momentum, next int64) *Entity {
	costs, threshold := DivisionCosts(sub, m, gen)
	return &Entity{
		ID:                id,
		BirthTick:         birth,
		Position:          pos,
		Generation:        gen,
		Momentum:          m,
		DivisionCosts:     costs,
		DivisionThreshold: threshold,
		NextActionTick:    next,
	}
}

// NewSeed creates the generation-0 entity at rest.
func NewSeed(sub Substrate, pos vec.Position, birth int64) *Entity {
	m := momentum.AtRest(sub.Dims())
	id := identity(identSeed, fmt.Sprint(birth), pos.Key())
	return newEntity(sub, id, birth, pos, 0, m, NextDue(birth, m.Rate, birth))
}

// NewMerged creates the single entity a merge collision folds its claimants
// into. Energy is carried by backdating the birth tick. The identity derives
// from the merged parents' identities.
func NewMerged(sub Substrate, tick, energy int64, pos vec.Position, gen int64, m momentum.Momentum, parents ...uuid.UUID) *Entity {
	birth := tick - energy
	ids := make([]string, len(parents))
	for i, p := range parents {
		ids[i] = p.String()
	}
	sort.Strings(ids)
	id := identity(identMerge, fmt.Sprint(tick), fmt.Sprint(gen), pos.Key(), strings.Join(ids, ","))
	return newEntity(sub, id, birth, pos, gen, m, NextDue(birth, m.Rate, tick))
}

// Restore rebuilds an entity from checkpointed fields at the checkpoint tick.
func Restore(sub Substrate, tick, birth int64, pos vec.Position, gen int64, m momentum.Momentum) *Entity {
	id := identity(identRestore, fmt.Sprint(tick), fmt.Sprint(birth), fmt.Sprint(gen), pos.Key())
	return newEntity(sub, id, birth, pos, gen, m, NextDue(birth, m.Rate, tick))
}

// WithMomentum returns the same entity (identity, birth, position and
// generation kept) carrying a new momentum from tick on.
func (e *Entity) WithMomentum(sub Substrate, tick int64, m momentum.Momentum) *Entity {
	costs, threshold := DivisionCosts(sub, m, e.Generation)
	return &Entity{
		ID:                e.ID,
		BirthTick:         e.BirthTick,
		Position:          e.Position,
		Generation:        e.Generation,
		Momentum:          m,
		DivisionCosts:     costs,
		DivisionThreshold: threshold,
		NextActionTick:    NextDue(e.BirthTick, m.Rate, tick),
	}
}

// Energy is derived, never stored.
func (e *Entity) Energy(tick int64) int64 { return tick - e.BirthTick }

func (e *Entity) Due(tick int64) bool { return tick >= e.NextActionTick }

func (e *Entity) String() string {
	return fmt.Sprintf("entity{%s pos=%v gen=%d birth=%d m=%v next=%d}",
		e.ID.String()[:8], e.Position, e.Generation, e.BirthTick, e.Momentum, e.NextActionTick)
}

// NextDue is the first tick of the cadence birth + k·rate (k >= 1) that is
// strictly after the given tick.
func NextDue(birth, rate, after int64) int64 {
	if rate < 1 {
		rate = 1
	}
	if after < birth {
		return birth + rate
	}
	return birth + ((after-birth)/rate+1)*rate
}

func identity(kind string, parts ...string) uuid.UUID {
	name := kind + "|" + strings.Join(parts, "|")
	return uuid.NewSHA1(Namespace, []byte(name))
}

// childIdentity names the i-th child of parent born at tick.
func childIdentity(parent uuid.UUID, i int, tick int64) uuid.UUID {
	return identity(identChild, parent.String(), strconv.Itoa(i), fmt.Sprint(tick))
}

// Directional-change penalty classes.
const (
	PenaltySame     int64 = 0
	PenaltyOblique  int64 = 1
	PenaltyReversal int64 = 3
)

// DirectionPenalty classifies the angle between the current direction and a
// candidate: within 45° is same, beyond 135° is reversal, anything else is
// oblique. A zero vector on either side has no direction to change from.
func DirectionPenalty(current, candidate vec.Vector) int64 {
	if current.IsZero() || candidate.IsZero() {
		return PenaltySame
	}
	dot := current.Dot(candidate)
	lhs := new(big.Int).Mul(dot, dot)
	lhs.Lsh(lhs, 1)
	rhs := new(big.Int).Mul(current.MagnitudeSquared(), candidate.MagnitudeSquared())
	cone := lhs.Cmp(rhs) > 0
	switch {
	case dot.Sign() > 0 && cone:
		return PenaltySame
	case dot.Sign() < 0 && cone:
		return PenaltyReversal
	default:
		return PenaltyOblique
	}
}

// DivisionCosts computes the per-direction division costs and their sum.
func DivisionCosts(sub Substrate, m momentum.Momentum, gen int64) ([]int64, int64) {
	dirs := sub.Directions()
	costs := make([]int64, len(dirs))
	var sum int64
	for i, d := range dirs {
		geo := d.ScaleInt(m.Rate).Magnitude().Int64()
		costs[i] = geo + DirectionPenalty(m.Direction, d)*gen
		sum += costs[i]
	}
	return costs, sum
}
