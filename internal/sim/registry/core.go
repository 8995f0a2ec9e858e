package registry

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"

	"tickframe.space/internal/persistence/snapshot"
	"tickframe.space/internal/sim/collision"
	"tickframe.space/internal/sim/entity"
)

type core struct {
	sub    entity.Substrate
	opts   Options
	tick   int64
	poison error
}

func (c *core) Tick() int64 { return c.tick }
func (c *core) Err() error  { return c.poison }

func (c *core) begin(ctx context.Context, tick int64) error {
	if c.poison != nil {
		return c.poison
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if tick != c.tick+1 {
		return fmt.Errorf("%w: got %d after %d", ErrTickOrder, tick, c.tick)
	}
	return nil
}

func (c *core) fail(err error) error {
	c.poison = err
	return err
}

func (c *core) checkPlace(e *entity.Entity, pop *population) (string, error) {
	if e.Position.Dim() != c.sub.Dims() {
		return "", fmt.Errorf("registry: entity has %d dims, substrate %d", e.Position.Dim(), c.sub.Dims())
	}
	if err := e.Validate(c.tick); err != nil {
		return "", err
	}
	key := e.Position.Key()
	if pop.get(key) != nil {
		return "", fmt.Errorf("%w: %s", ErrOccupied, e.Position)
	}
	return key, nil
}

// decide runs the transition of every due entity against frozen state and
// files each successor as a claim on its target cell.
func (c *core) decide(tick int64, due []*entity.Entity, claims *claimTable, rep *TickReport) error {
	kinds := make([]entity.ActionKind, len(due))
	errs := make([]error, len(due))
	c.parallel(len(due), func(i int) {
		e := due[i]
		act := e.OnTick(tick, c.sub)
		kinds[i] = act.Kind
		if act.Kind == entity.ActionWait {
			claims.add(e.Position.Key(), collision.Claimant{Entity: e, Occupant: true})
			return
		}
		for _, s := range act.Successors {
			if err := s.Validate(tick); err != nil {
				errs[i] = err
				return
			}
			claims.add(s.Position.Key(), collision.Claimant{Entity: s})
		}
	})
	for i, k := range kinds {
		if errs[i] != nil {
			return errs[i]
		}
		switch k {
		case entity.ActionReplace:
			rep.Moves++
		case entity.ActionSpawn:
			rep.Divisions++
		case entity.ActionRemove:
			rep.Removals++
		}
	}
	rep.Due += len(due)
	return nil
}

// settle resolves every claimed cell and commits the results into pop. An
// entity already in pop at a claimed cell joins the group as occupant.
// Entities bounced back to their origin cells are settled in a second round
// in which nothing bounces again. The committed entities are returned.
func (c *core) settle(tick int64, claims *claimTable, pop *population, rep *TickReport) ([]*entity.Entity, error) {
	placed, displaced, err := c.round(tick, claims, pop, collision.Options{Policy: c.opts.Policy}, rep)
	if err != nil || len(displaced) == 0 {
		return placed, err
	}
	second := newClaimTable()
	for _, d := range displaced {
		second.add(d.Position.Key(), collision.Claimant{Entity: d})
	}
	more, rest, err := c.round(tick, second, pop, collision.Options{Policy: c.opts.Policy, NoBounce: true}, rep)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("registry: %d entities displaced twice at tick %d", len(rest), tick)
	}
	return append(placed, more...), nil
}

func (c *core) round(tick int64, claims *claimTable, pop *population, opts collision.Options, rep *TickReport) (placed, displaced []*entity.Entity, err error) {
	keys := claims.keys()
	groups := make([][]collision.Claimant, len(keys))
	for i, k := range keys {
		g := claims.get(k)
		if resident := pop.get(k); resident != nil {
			g = append(g, collision.Claimant{Entity: resident, Occupant: true})
		}
		groups[i] = g
	}

	outs := make([]collision.Outcome, len(keys))
	c.parallel(len(keys), func(i int) {
		g := groups[i]
		outs[i] = collision.Resolve(tick, g[0].Entity.Position, g, c.sub, opts)
	})

	for i, k := range keys {
		out := outs[i]
		rep.account(out, len(groups[i]))
		pop.remove(k)
		for _, s := range out.Survivors {
			if err := s.Validate(tick); err != nil {
				return nil, nil, err
			}
			pop.put(k, s)
			placed = append(placed, s)
		}
		for _, d := range out.Displaced {
			if err := d.Validate(tick); err != nil {
				return nil, nil, err
			}
			displaced = append(displaced, d)
		}
	}
	return placed, displaced, nil
}

// parallel calls fn for every index in [0, n) on up to Workers goroutines.
func (c *core) parallel(n int, fn func(i int)) {
	workers := c.opts.Workers
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	var (
		wg   sync.WaitGroup
		next atomic.Int64
	)
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1) - 1)
				if i >= n {
					return
				}
				fn(i)
			}
		}()
	}
	wg.Wait()
}

const claimShards = 64

// claimTable collects claims per cell key. Inserts on one key are
// serialized by the key's shard lock; different shards proceed in parallel.
type claimTable struct {
	shards [claimShards]claimShard
}

type claimShard struct {
	mu     sync.Mutex
	groups map[string][]collision.Claimant
}

func newClaimTable() *claimTable {
	t := &claimTable{}
	for i := range t.shards {
		t.shards[i].groups = make(map[string][]collision.Claimant)
	}
	return t
}

func shardOf(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % claimShards)
}

func (t *claimTable) add(key string, c collision.Claimant) {
	s := &t.shards[shardOf(key)]
	s.mu.Lock()
	s.groups[key] = append(s.groups[key], c)
	s.mu.Unlock()
}

func (t *claimTable) get(key string) []collision.Claimant {
	s := &t.shards[shardOf(key)]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[key]
}

func (t *claimTable) keys() []string {
	var out []string
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for k := range s.groups {
			out = append(out, k)
		}
		s.mu.Unlock()
	}
	sort.Strings(out)
	return out
}

func sortedKeys(pop map[string]*entity.Entity) []string {
	keys := make([]string, 0, len(pop))
	for k := range pop {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func snapshotOf(tick int64, dims int, pop map[string]*entity.Entity) snapshot.Snapshot {
	snap := snapshot.Snapshot{Tick: tick, Dims: dims, Records: make([]snapshot.Record, 0, len(pop))}
	for _, k := range sortedKeys(pop) {
		snap.Records = append(snap.Records, pop[k].Record(tick))
	}
	return snap
}
