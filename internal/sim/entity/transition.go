package entity

import (
	"errors"
	"fmt"

	"tickframe.space/internal/sim/momentum"
)

type ActionKind uint8

const (
	ActionWait ActionKind = iota
	ActionReplace
	ActionSpawn
	ActionRemove
)

func (k ActionKind) String() string {
	switch k {
	case ActionWait:
		return "WAIT"
	case ActionReplace:
		return "REPLACE"
	case ActionSpawn:
		return "SPAWN"
	case ActionRemove:
		return "REMOVE"
	default:
		return fmt.Sprintf("ActionKind(%d)", k)
	}
}

// Action is the result of one transition step. Replace carries exactly one
// successor, Spawn one per legal direction, Wait and Remove none.
type Action struct {
	Kind       ActionKind
	Successors []*Entity
}

// OnTick decides what the entity does at tick. It reads only the receiver
// and the substrate and is safe to call concurrently.
func (e *Entity) OnTick(tick int64, sub Substrate) Action {
	if tick < e.NextActionTick {
		return Action{Kind: ActionWait}
	}
	if e.Energy(tick) >= e.DivisionThreshold {
		return e.divide(tick, sub)
	}
	return Action{Kind: ActionReplace, Successors: []*Entity{e.moved()}}
}

func (e *Entity) moved() *Entity {
	return &Entity{
		ID:                e.ID,
		BirthTick:         e.BirthTick,
		Position:          e.Position.Offset(e.Momentum.Direction),
		Generation:        e.Generation,
		Momentum:          e.Momentum,
		DivisionCosts:     e.DivisionCosts,
		DivisionThreshold: e.DivisionThreshold,
		NextActionTick:    e.NextActionTick + e.Momentum.Rate,
	}
}

func (e *Entity) divide(tick int64, sub Substrate) Action {
	dirs := sub.Directions()
	if len(dirs) == 0 {
		return Action{Kind: ActionRemove}
	}
	children := make([]*Entity, 0, len(dirs))
	for i, d := range dirs {
		m := momentum.Momentum{Rate: e.Momentum.Rate + e.DivisionCosts[i], Direction: d}
		pos := e.Position.Offset(d)
		children = append(children, newEntity(sub, childIdentity(e.ID, i, tick), tick, pos, e.Generation+1, m, NextDue(tick, m.Rate, tick)))
	}
	return Action{Kind: ActionSpawn, Successors: children}
}

var ErrConsistency = errors.New("entity: consistency violation")

// ConsistencyError reports a successor that breaks the conservation
// invariants. It is never recoverable.
type ConsistencyError struct {
	Entity *Entity
	Tick   int64
	Reason string
	Err    error
}

func (e *ConsistencyError) Error() string {
	msg := fmt.Sprintf("entity: consistency violation at tick %d: %s (%v)", e.Tick, e.Reason, e.Entity)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConsistencyError) Unwrap() error { return e.Err }

func (e *ConsistencyError) Is(target error) bool { return target == ErrConsistency }

// Validate checks a freshly produced successor at the tick it was produced.
func (e *Entity) Validate(tick int64) error {
	if en := e.Energy(tick); en < 0 {
		return &ConsistencyError{Entity: e, Tick: tick, Reason: fmt.Sprintf("negative energy %d", en)}
	}
	if err := e.Momentum.Validate(); err != nil {
		return &ConsistencyError{Entity: e, Tick: tick, Reason: "momentum", Err: err}
	}
	if e.NextActionTick <= tick {
		return &ConsistencyError{Entity: e, Tick: tick, Reason: fmt.Sprintf("next action tick %d not after %d", e.NextActionTick, tick)}
	}
	if e.Position.Dim() != e.Momentum.Direction.Dim() {
		return &ConsistencyError{Entity: e, Tick: tick, Reason: "dimension mismatch"}
	}
	return nil
}
