// Package driver advances a scheduler in real time and feeds the tick log
// and checkpoint writer.
package driver

import (
	"context"
	"log"
	"time"

	persistlog "tickframe.space/internal/persistence/log"
	"tickframe.space/internal/persistence/snapshot"
	"tickframe.space/internal/sim/registry"
)

type Config struct {
	// TickBudget is the last tick to run; 0 runs until ctx is done.
	TickBudget int64
	// TickRateHz throttles stepping; 0 steps back to back.
	TickRateHz         int
	SnapshotEveryTicks int64
}

type TickLogger interface {
	WriteTick(entry persistlog.TickEntry) error
}

// Checkpoint is a population captured at a tick boundary.
type Checkpoint struct {
	Snapshot snapshot.Snapshot
	Digest   string
}

type Driver struct {
	cfg    Config
	sched  registry.Scheduler
	logger *log.Logger

	tickLogger     TickLogger
	snapshotSink   chan<- Checkpoint
	lastCheckpoint int64
}

func New(sched registry.Scheduler, cfg Config, logger *log.Logger) *Driver {
	return &Driver{cfg: cfg, sched: sched, logger: logger, lastCheckpoint: -1}
}

func (d *Driver) SetTickLogger(l TickLogger) {
	d.tickLogger = l
}

// SetSnapshotSink sets where periodic checkpoints go. Sends never block
// the tick loop; a full sink drops the checkpoint.
func (d *Driver) SetSnapshotSink(ch chan<- Checkpoint) {
	d.snapshotSink = ch
}

func (d *Driver) Scheduler() registry.Scheduler { return d.sched }

// Done reports whether the tick budget has been reached.
func (d *Driver) Done() bool {
	return d.cfg.TickBudget > 0 && d.sched.Tick() >= d.cfg.TickBudget
}

// Run steps until the budget is reached, ctx is done or a tick fails. A
// clean finish hands a last checkpoint to the sink.
func (d *Driver) Run(ctx context.Context) error {
	var tickC <-chan time.Time
	if d.cfg.TickRateHz > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(d.cfg.TickRateHz))
		defer ticker.Stop()
		tickC = ticker.C
	}

	for !d.Done() {
		if tickC != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tickC:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := d.Step(ctx); err != nil {
			return err
		}
	}
	d.FinalCheckpoint(ctx)
	return nil
}

// FinalCheckpoint hands the current population to the sink, waiting for
// room, unless that tick was already checkpointed.
func (d *Driver) FinalCheckpoint(ctx context.Context) {
	if d.lastCheckpoint == d.sched.Tick() {
		return
	}
	d.checkpoint(ctx, true)
}

// Step commits the next tick, logs it and checkpoints on the configured
// cadence.
func (d *Driver) Step(ctx context.Context) (registry.TickReport, error) {
	tick := d.sched.Tick() + 1
	rep, err := d.sched.OnTick(ctx, tick)
	if err != nil {
		return rep, err
	}
	if d.tickLogger != nil {
		entry := persistlog.TickEntry{Tick: tick, Digest: d.sched.Digest(), Report: rep}
		if err := d.tickLogger.WriteTick(entry); err != nil {
			d.printf("tick log: %v", err)
		}
	}
	if every := d.cfg.SnapshotEveryTicks; every > 0 && tick%every == 0 {
		d.checkpoint(ctx, false)
	}
	return rep, nil
}

func (d *Driver) checkpoint(ctx context.Context, wait bool) {
	if d.snapshotSink == nil {
		return
	}
	cp := Checkpoint{Snapshot: d.sched.Snapshot(), Digest: d.sched.Digest()}
	if !wait {
		select {
		case d.snapshotSink <- cp:
			d.lastCheckpoint = cp.Snapshot.Tick
		default:
			d.printf("snapshot sink full; dropped checkpoint at tick %d", cp.Snapshot.Tick)
		}
		return
	}
	select {
	case d.snapshotSink <- cp:
		d.lastCheckpoint = cp.Snapshot.Tick
	case <-ctx.Done():
	}
}

func (d *Driver) printf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}
