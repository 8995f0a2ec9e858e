package entity

import (
	"tickframe.space/internal/persistence/snapshot"
	"tickframe.space/internal/sim/momentum"
)

// Record captures the entity as checkpointed at tick.
func (e *Entity) Record(tick int64) snapshot.Record {
	return snapshot.Record{
		Position:   e.Position,
		Energy:     e.Energy(tick),
		Generation: e.Generation,
		Rate:       e.Momentum.Rate,
		Direction:  e.Momentum.Direction,
		BirthTick:  e.BirthTick,
	}
}

// FromRecord rebuilds an entity checkpointed at tick. Energy is taken from
// BirthTick; the decoder has already checked the two agree.
func FromRecord(sub Substrate, tick int64, r snapshot.Record) *Entity {
	m := momentum.Momentum{Rate: r.Rate, Direction: r.Direction}
	return Restore(sub, tick, r.BirthTick, r.Position, r.Generation, m)
}
