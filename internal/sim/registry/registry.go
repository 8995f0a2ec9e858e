// Package registry owns the live entity population and advances it one tick
// at a time.
//
// Two schedulers share the same claim, resolve and commit path. EventDriven
// touches only the entities due at the tick; DoubleBuffered walks the whole
// population into a fresh map every tick. Their observable results are
// identical.
package registry

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"tickframe.space/internal/persistence/snapshot"
	"tickframe.space/internal/sim/collision"
	"tickframe.space/internal/sim/entity"
	"tickframe.space/internal/sim/vec"
)

var (
	// ErrTickOrder is returned when a tick is not exactly one after the last
	// committed tick.
	ErrTickOrder = errors.New("registry: tick out of order")
	ErrOccupied  = errors.New("registry: position occupied")
)

type Kind string

const (
	KindEventDriven    Kind = "event"
	KindDoubleBuffered Kind = "double"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindEventDriven, nil
	case KindEventDriven, KindDoubleBuffered:
		return k, nil
	default:
		return "", fmt.Errorf("registry: unknown scheduler %q", s)
	}
}

type Options struct {
	Kind    Kind
	Workers int
	Policy  collision.Policy
}

func (o Options) withDefaults() Options {
	if o.Kind == "" {
		o.Kind = KindEventDriven
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	return o
}

// TickReport summarizes one committed tick. Collision counters only count
// cells claimed by two or more entities.
type TickReport struct {
	Tick            int64 `json:"tick"`
	Due             int   `json:"due"`
	Moves           int   `json:"moves"`
	Divisions       int   `json:"divisions"`
	Removals        int   `json:"removals"`
	Merges          int   `json:"merges"`
	Bounces         int   `json:"bounces"`
	Disappears      int   `json:"disappears"`
	Annihilations   int   `json:"annihilations"`
	EnergyDestroyed int64 `json:"energy_destroyed"`
	Population      int   `json:"population"`
}

func (r *TickReport) account(out collision.Outcome, claimants int) {
	r.EnergyDestroyed += out.EnergyDestroyed
	if claimants < 2 {
		return
	}
	switch out.Kind {
	case collision.KindMerge:
		r.Merges++
	case collision.KindBounce:
		r.Bounces++
	case collision.KindDisappear:
		r.Disappears++
	case collision.KindAnnihilate:
		r.Annihilations++
	}
}

// Scheduler advances the population. Every method must be called from one
// goroutine; OnTick parallelizes internally.
type Scheduler interface {
	// OnTick commits tick, which must be Tick()+1. A consistency violation
	// poisons the scheduler: the same error is returned from then on.
	OnTick(ctx context.Context, tick int64) (TickReport, error)
	// Place inserts e at its position. Used for seeding and restore.
	Place(e *entity.Entity) error
	Tick() int64
	Population() int
	Snapshot() snapshot.Snapshot
	Digest() string
	Err() error
}

// New returns an empty scheduler whose last committed tick is tick.
func New(sub entity.Substrate, tick int64, opts Options) (Scheduler, error) {
	opts = opts.withDefaults()
	switch opts.Kind {
	case KindEventDriven:
		return NewEventDriven(sub, tick, opts), nil
	case KindDoubleBuffered:
		return NewDoubleBuffered(sub, tick, opts), nil
	default:
		return nil, fmt.Errorf("registry: unknown scheduler %q", opts.Kind)
	}
}

// Seed starts a population of one: the generation-0 entity at rest at pos,
// born at birth.
func Seed(sub entity.Substrate, pos vec.Position, birth int64, opts Options) (Scheduler, error) {
	if pos.Dim() != sub.Dims() {
		return nil, fmt.Errorf("registry: seed position has %d dims, substrate %d", pos.Dim(), sub.Dims())
	}
	s, err := New(sub, birth, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Place(entity.NewSeed(sub, pos, birth)); err != nil {
		return nil, err
	}
	return s, nil
}

// Restore rebuilds a scheduler from a checkpoint. Next action ticks are
// recomputed from each record's birth tick and rate.
func Restore(snap snapshot.Snapshot, sub entity.Substrate, opts Options) (Scheduler, error) {
	if snap.Dims != sub.Dims() {
		return nil, fmt.Errorf("registry: restore: snapshot has %d dims, substrate %d", snap.Dims, sub.Dims())
	}
	s, err := New(sub, snap.Tick, opts)
	if err != nil {
		return nil, err
	}
	for i, r := range snap.Records {
		if err := s.Place(entity.FromRecord(sub, snap.Tick, r)); err != nil {
			return nil, fmt.Errorf("registry: restore record %d: %w", i, err)
		}
	}
	return s, nil
}
