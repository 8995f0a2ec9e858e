package registry

import (
	"context"
	"sort"

	"tickframe.space/internal/persistence/snapshot"
	"tickframe.space/internal/sim/entity"
)

// EventDriven keeps a schedule of position keys by next action tick and
// touches only the entities due at each tick.
type EventDriven struct {
	core
	store    *population
	schedule map[int64]map[string]struct{}
}

func NewEventDriven(sub entity.Substrate, tick int64, opts Options) *EventDriven {
	opts = opts.withDefaults()
	opts.Kind = KindEventDriven
	return &EventDriven{
		core:     core{sub: sub, opts: opts, tick: tick},
		store:    newPopulation(0),
		schedule: make(map[int64]map[string]struct{}),
	}
}

func (s *EventDriven) Place(e *entity.Entity) error {
	key, err := s.checkPlace(e, s.store)
	if err != nil {
		return err
	}
	s.store.put(key, e)
	s.enqueue(key, e.NextActionTick)
	return nil
}

func (s *EventDriven) enqueue(key string, tick int64) {
	set := s.schedule[tick]
	if set == nil {
		set = make(map[string]struct{})
		s.schedule[tick] = set
	}
	set[key] = struct{}{}
}

func (s *EventDriven) OnTick(ctx context.Context, tick int64) (TickReport, error) {
	if err := s.begin(ctx, tick); err != nil {
		return TickReport{}, err
	}
	rep := TickReport{Tick: tick}

	set := s.schedule[tick]
	delete(s.schedule, tick)
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	due := make([]*entity.Entity, 0, len(keys))
	for _, k := range keys {
		e := s.store.get(k)
		// stale: the cell was vacated or its entity rescheduled since
		if e == nil || e.NextActionTick != tick {
			continue
		}
		s.store.remove(k)
		due = append(due, e)
	}

	claims := newClaimTable()
	if err := s.decide(tick, due, claims, &rep); err != nil {
		return TickReport{}, s.fail(err)
	}
	placed, err := s.settle(tick, claims, s.store, &rep)
	if err != nil {
		return TickReport{}, s.fail(err)
	}
	for _, e := range placed {
		s.enqueue(e.Position.Key(), e.NextActionTick)
	}

	s.tick = tick
	rep.Population = s.store.len()
	return rep, nil
}

func (s *EventDriven) Population() int { return s.store.len() }

func (s *EventDriven) Snapshot() snapshot.Snapshot {
	return snapshotOf(s.tick, s.sub.Dims(), s.store.cells)
}

func (s *EventDriven) Digest() string { return s.store.digest(s.tick) }
