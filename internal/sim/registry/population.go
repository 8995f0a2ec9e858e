package registry

import "tickframe.space/internal/sim/entity"

// population maps cell keys to entities and keeps a running digest sum.
// Every write goes through put or remove so the sum stays in step with
// cells.
type population struct {
	cells map[string]*entity.Entity
	sum   digestSum
}

func newPopulation(capacity int) *population {
	return &population{cells: make(map[string]*entity.Entity, capacity)}
}

func (p *population) get(key string) *entity.Entity { return p.cells[key] }

func (p *population) len() int { return len(p.cells) }

func (p *population) put(key string, e *entity.Entity) {
	if old := p.cells[key]; old != nil {
		p.sum.sub(entryDigest(key, old))
	}
	p.cells[key] = e
	p.sum.add(entryDigest(key, e))
}

func (p *population) remove(key string) {
	old := p.cells[key]
	if old == nil {
		return
	}
	p.sum.sub(entryDigest(key, old))
	delete(p.cells, key)
}

func (p *population) digest(tick int64) string {
	return finishDigest(tick, len(p.cells), p.sum)
}
