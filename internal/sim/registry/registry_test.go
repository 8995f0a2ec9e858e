package registry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"tickframe.space/internal/persistence/snapshot"
	"tickframe.space/internal/sim/collision"
	"tickframe.space/internal/sim/entity"
	"tickframe.space/internal/sim/momentum"
	"tickframe.space/internal/sim/substrate"
	"tickframe.space/internal/sim/vec"
)

func mustSeed(t *testing.T, sub *substrate.Lattice, opts Options) Scheduler {
	t.Helper()
	s, err := Seed(sub, sub.Zero(), 1, opts)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

// cluster seeds a few resting entities close enough that their first
// divisions collide.
func cluster(t *testing.T, sub *substrate.Lattice, opts Options) Scheduler {
	t.Helper()
	s, err := New(sub, 1, opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, p := range [][]int64{{0, 0}, {1, 0}, {0, 1}, {3, 3}, {2, 5}, {-2, -1}} {
		if err := s.Place(entity.NewSeed(sub, vec.Of(p...), 1)); err != nil {
			t.Fatalf("place %v: %v", p, err)
		}
	}
	return s
}

func step(t *testing.T, s Scheduler, tick int64) TickReport {
	t.Helper()
	rep, err := s.OnTick(context.Background(), tick)
	if err != nil {
		t.Fatalf("tick %d: %v", tick, err)
	}
	return rep
}

func TestSeed_DividesThroughRegistry(t *testing.T) {
	sub := substrate.Axis(3)
	for _, kind := range []Kind{KindEventDriven, KindDoubleBuffered} {
		s := mustSeed(t, sub, Options{Kind: kind, Workers: 4})
		for tick := int64(2); tick < 7; tick++ {
			rep := step(t, s, tick)
			if rep.Divisions != 0 || rep.Population != 1 || rep.Moves != 1 {
				t.Fatalf("%s tick %d: %+v", kind, tick, rep)
			}
		}
		rep := step(t, s, 7)
		if rep.Divisions != 1 || rep.Population != 6 {
			t.Fatalf("%s division tick: %+v", kind, rep)
		}
		snap := s.Snapshot()
		var rateSum int64
		for _, r := range snap.Records {
			if r.Generation != 1 || r.Energy != 0 || r.BirthTick != 7 {
				t.Fatalf("%s child record %+v", kind, r)
			}
			if !r.Position.Equal(r.Direction) {
				t.Fatalf("%s child at %v moving %v", kind, r.Position, r.Direction)
			}
			rateSum += r.Rate
		}
		if rateSum != 12 {
			t.Fatalf("%s child rate sum=%d want 12", kind, rateSum)
		}
	}
}

func TestSchedulers_Equivalent(t *testing.T) {
	for _, policy := range []collision.Policy{collision.PolicyClassify, collision.PolicyInterference} {
		sub := substrate.Moore(2)
		ev := cluster(t, sub, Options{Kind: KindEventDriven, Workers: 4, Policy: policy})
		db := cluster(t, sub, Options{Kind: KindDoubleBuffered, Workers: 3, Policy: policy})
		collisions := 0
		for tick := int64(2); tick <= 70; tick++ {
			a := step(t, ev, tick)
			b := step(t, db, tick)
			if a != b {
				t.Fatalf("%v tick %d: reports differ\nevent:  %+v\ndouble: %+v", policy, tick, a, b)
			}
			if ev.Digest() != db.Digest() {
				t.Fatalf("%v tick %d: digests differ", policy, tick)
			}
			collisions += a.Merges + a.Bounces + a.Disappears + a.Annihilations
		}
		if ev.Population() == 0 {
			t.Fatalf("%v: population died out", policy)
		}
		if collisions == 0 {
			t.Fatalf("%v: run exercised no collisions", policy)
		}
	}
}

func TestSchedulers_WorkerCountDoesNotMatter(t *testing.T) {
	sub := substrate.Moore(2)
	one := cluster(t, sub, Options{Workers: 1})
	many := cluster(t, sub, Options{Workers: 8})
	for tick := int64(2); tick <= 40; tick++ {
		step(t, one, tick)
		step(t, many, tick)
	}
	if one.Digest() != many.Digest() {
		t.Fatalf("digest depends on worker count")
	}
}

func TestRestore_ContinuesLikeUninterrupted(t *testing.T) {
	sub := substrate.Moore(2)
	opts := Options{Workers: 2}
	full := cluster(t, sub, opts)
	part := cluster(t, sub, opts)
	for tick := int64(2); tick <= 35; tick++ {
		step(t, full, tick)
		step(t, part, tick)
	}

	var buf bytes.Buffer
	if err := snapshot.Encode(&buf, part.Snapshot()); err != nil {
		t.Fatalf("encode: %v", err)
	}
	snap, err := snapshot.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, kind := range []Kind{KindEventDriven, KindDoubleBuffered} {
		restored, err := Restore(snap, sub, Options{Kind: kind, Workers: 2})
		if err != nil {
			t.Fatalf("restore: %v", err)
		}
		if restored.Digest() != part.Digest() {
			t.Fatalf("%s: restored digest differs at checkpoint", kind)
		}
		ref := full
		if kind == KindDoubleBuffered {
			ref = cluster(t, sub, opts)
			for tick := int64(2); tick <= 35; tick++ {
				step(t, ref, tick)
			}
		}
		for tick := int64(36); tick <= 70; tick++ {
			a := step(t, ref, tick)
			b := step(t, restored, tick)
			if a != b || ref.Digest() != restored.Digest() {
				t.Fatalf("%s tick %d: restored run diverged", kind, tick)
			}
		}
	}
}

func TestRestore_DimensionMismatch(t *testing.T) {
	snap := snapshot.Snapshot{Tick: 5, Dims: 2}
	if _, err := Restore(snap, substrate.Axis(3), Options{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOnTick_OrderEnforced(t *testing.T) {
	sub := substrate.Axis(2)
	s := mustSeed(t, sub, Options{})
	if _, err := s.OnTick(context.Background(), 1); !errors.Is(err, ErrTickOrder) {
		t.Fatalf("repeat tick: got %v", err)
	}
	if _, err := s.OnTick(context.Background(), 3); !errors.Is(err, ErrTickOrder) {
		t.Fatalf("gap: got %v", err)
	}
	step(t, s, 2)
	if s.Tick() != 2 {
		t.Fatalf("tick=%d want 2", s.Tick())
	}
}

func TestOnTick_ConsistencyViolationPoisons(t *testing.T) {
	sub := substrate.Axis(1)
	for _, kind := range []Kind{KindEventDriven, KindDoubleBuffered} {
		s, err := New(sub, 0, Options{Kind: kind})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		bad := *entity.NewSeed(sub, vec.Of(0), 0)
		bad.DivisionCosts = []int64{-5, -5}
		bad.DivisionThreshold = -10
		if err := s.Place(&bad); err != nil {
			t.Fatalf("place: %v", err)
		}

		_, err = s.OnTick(context.Background(), 1)
		if !errors.Is(err, entity.ErrConsistency) {
			t.Fatalf("%s: got %v want consistency violation", kind, err)
		}
		if _, again := s.OnTick(context.Background(), 2); again != err {
			t.Fatalf("%s: scheduler not poisoned: %v", kind, again)
		}
		if s.Err() != err {
			t.Fatalf("%s: Err()=%v", kind, s.Err())
		}
	}
}

func TestOnTick_HeadOnAnnihilation(t *testing.T) {
	sub := substrate.Axis(1)
	for _, kind := range []Kind{KindEventDriven, KindDoubleBuffered} {
		s, err := New(sub, 0, Options{Kind: kind})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		right := momentum.Momentum{Rate: 1, Direction: vec.Of(1)}
		left := momentum.Momentum{Rate: 1, Direction: vec.Of(-1)}
		for _, e := range []*entity.Entity{
			entity.NewMerged(sub, 0, 1, vec.Of(0), 1, right),
			entity.NewMerged(sub, 0, 1, vec.Of(2), 1, left),
		} {
			if err := s.Place(e); err != nil {
				t.Fatalf("place: %v", err)
			}
		}
		rep := step(t, s, 1)
		if rep.Annihilations != 1 || rep.Population != 0 {
			t.Fatalf("%s: %+v", kind, rep)
		}
		if rep.EnergyDestroyed != 4 {
			t.Fatalf("%s: destroyed=%d want 4", kind, rep.EnergyDestroyed)
		}
	}
}

func TestPlace_RejectsOccupiedCell(t *testing.T) {
	sub := substrate.Axis(2)
	s := mustSeed(t, sub, Options{})
	err := s.Place(entity.NewSeed(sub, sub.Zero(), 1))
	if !errors.Is(err, ErrOccupied) {
		t.Fatalf("got %v want ErrOccupied", err)
	}
}

func TestBounce_DisplacedEntityReturnsToOrigin(t *testing.T) {
	sub := substrate.Axis(1)
	for _, kind := range []Kind{KindEventDriven, KindDoubleBuffered} {
		s, err := New(sub, 0, Options{Kind: kind})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		// a resting occupant at 1 with more energy than the mover from 0
		rest := entity.NewMerged(sub, 0, 3, vec.Of(1), 2, momentum.AtRest(1))
		rest.NextActionTick = 50
		mover := entity.NewMerged(sub, 0, 1, vec.Of(0), 2, momentum.Momentum{Rate: 1, Direction: vec.Of(1)})
		for _, e := range []*entity.Entity{rest, mover} {
			if err := s.Place(e); err != nil {
				t.Fatalf("place: %v", err)
			}
		}
		rep := step(t, s, 1)
		if rep.Bounces != 1 || rep.Population != 2 || rep.EnergyDestroyed != 0 {
			t.Fatalf("%s: %+v", kind, rep)
		}
		snap := s.Snapshot()
		if !snap.Records[0].Position.Equal(vec.Of(0)) || !snap.Records[1].Position.Equal(vec.Of(1)) {
			t.Fatalf("%s: positions %v %v", kind, snap.Records[0].Position, snap.Records[1].Position)
		}
	}
}

func TestOnTick_RestingChildrenOpposedAnnihilate(t *testing.T) {
	sub := substrate.Axis(1)
	for _, kind := range []Kind{KindEventDriven, KindDoubleBuffered} {
		s, err := New(sub, 1, Options{Kind: kind})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		for _, p := range []int64{0, 2} {
			if err := s.Place(entity.NewSeed(sub, vec.Of(p), 1)); err != nil {
				t.Fatalf("place %d: %v", p, err)
			}
		}
		step(t, s, 2)
		// both seeds divide; their children meet on cell 1 with no energy
		rep := step(t, s, 3)
		if rep.Divisions != 2 || rep.Annihilations != 1 || rep.Bounces != 0 {
			t.Fatalf("%s: %+v", kind, rep)
		}
		if rep.Population != 2 || rep.EnergyDestroyed != 0 {
			t.Fatalf("%s: population=%d destroyed=%d", kind, rep.Population, rep.EnergyDestroyed)
		}
		snap := s.Snapshot()
		if !snap.Records[0].Position.Equal(vec.Of(-1)) || !snap.Records[1].Position.Equal(vec.Of(3)) {
			t.Fatalf("%s: positions %v %v", kind, snap.Records[0].Position, snap.Records[1].Position)
		}
	}
}

func cells(t *testing.T, s Scheduler) map[string]*entity.Entity {
	t.Helper()
	switch s := s.(type) {
	case *EventDriven:
		return s.store.cells
	case *DoubleBuffered:
		return s.current.cells
	}
	t.Fatalf("unknown scheduler %T", s)
	return nil
}

func TestIdentities_UniqueAcrossPopulation(t *testing.T) {
	sub := substrate.Moore(2)
	for _, kind := range []Kind{KindEventDriven, KindDoubleBuffered} {
		s := cluster(t, sub, Options{Kind: kind, Workers: 4})
		for tick := int64(2); tick <= 40; tick++ {
			step(t, s, tick)
			seen := make(map[string]string)
			for k, e := range cells(t, s) {
				if prev, ok := seen[e.ID.String()]; ok {
					t.Fatalf("%s tick %d: id %s at both %s and %s", kind, tick, e.ID, prev, k)
				}
				seen[e.ID.String()] = k
			}
		}
	}
}

func TestDigest_IncrementalMatchesRecompute(t *testing.T) {
	sub := substrate.Moore(2)
	for _, kind := range []Kind{KindEventDriven, KindDoubleBuffered} {
		s := cluster(t, sub, Options{Kind: kind, Workers: 4})
		for tick := int64(2); tick <= 40; tick++ {
			step(t, s, tick)
			if got, want := s.Digest(), digest(s.Tick(), cells(t, s)); got != want {
				t.Fatalf("%s tick %d: incremental %s recomputed %s", kind, tick, got, want)
			}
		}
	}
}

func TestDigest_IndependentOfInsertOrder(t *testing.T) {
	sub := substrate.Axis(2)
	a, b := newPopulation(0), newPopulation(0)
	es := []*entity.Entity{
		entity.NewSeed(sub, vec.Of(0, 0), 1),
		entity.NewSeed(sub, vec.Of(4, 1), 1),
		entity.NewSeed(sub, vec.Of(-3, 2), 1),
	}
	for i := range es {
		a.put(es[i].Position.Key(), es[i])
		b.put(es[len(es)-1-i].Position.Key(), es[len(es)-1-i])
	}
	if a.digest(5) != b.digest(5) {
		t.Fatalf("digest depends on insert order")
	}
	b.remove(es[1].Position.Key())
	if a.digest(5) == b.digest(5) {
		t.Fatalf("removal did not change digest")
	}
	b.put(es[1].Position.Key(), es[1])
	if a.digest(5) != b.digest(5) {
		t.Fatalf("digest not restored after re-insert")
	}
}
