package registry

import (
	"context"

	"tickframe.space/internal/persistence/snapshot"
	"tickframe.space/internal/sim/collision"
	"tickframe.space/internal/sim/entity"
)

// DoubleBuffered rebuilds the whole population into a new map every tick.
// Entities that are not due are carried forward as occupants of their cell.
type DoubleBuffered struct {
	core
	current *population
}

func NewDoubleBuffered(sub entity.Substrate, tick int64, opts Options) *DoubleBuffered {
	opts = opts.withDefaults()
	opts.Kind = KindDoubleBuffered
	return &DoubleBuffered{
		core:    core{sub: sub, opts: opts, tick: tick},
		current: newPopulation(0),
	}
}

func (s *DoubleBuffered) Place(e *entity.Entity) error {
	key, err := s.checkPlace(e, s.current)
	if err != nil {
		return err
	}
	s.current.put(key, e)
	return nil
}

func (s *DoubleBuffered) OnTick(ctx context.Context, tick int64) (TickReport, error) {
	if err := s.begin(ctx, tick); err != nil {
		return TickReport{}, err
	}
	rep := TickReport{Tick: tick}

	claims := newClaimTable()
	var due []*entity.Entity
	for _, k := range sortedKeys(s.current.cells) {
		e := s.current.get(k)
		if e.NextActionTick == tick {
			due = append(due, e)
			continue
		}
		claims.add(k, collision.Claimant{Entity: e, Occupant: true})
	}

	if err := s.decide(tick, due, claims, &rep); err != nil {
		return TickReport{}, s.fail(err)
	}
	next := newPopulation(s.current.len())
	if _, err := s.settle(tick, claims, next, &rep); err != nil {
		return TickReport{}, s.fail(err)
	}

	s.current = next
	s.tick = tick
	rep.Population = next.len()
	return rep, nil
}

func (s *DoubleBuffered) Population() int { return s.current.len() }

func (s *DoubleBuffered) Snapshot() snapshot.Snapshot {
	return snapshotOf(s.tick, s.sub.Dims(), s.current.cells)
}

func (s *DoubleBuffered) Digest() string { return s.current.digest(s.tick) }
