package driver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	persistlog "tickframe.space/internal/persistence/log"
	"tickframe.space/internal/sim/registry"
)

var ErrDigestMismatch = errors.New("replay: digest mismatch")

// Replay re-runs sched through the ticks recorded in files and compares
// each post-tick digest with the logged one. Entries at or before the
// scheduler's current tick are skipped, including ticks a resumed run
// logged a second time. verifyFrom and toTick are inclusive; 0 means
// unbounded.
func Replay(ctx context.Context, sched registry.Scheduler, files []string, verifyFrom, toTick int64) (checked int64, err error) {
	for _, path := range files {
		err := persistlog.ScanTicks(path, func(entry persistlog.TickEntry) error {
			if entry.Tick <= sched.Tick() {
				return nil
			}
			if toTick != 0 && entry.Tick > toTick {
				return persistlog.ErrStop
			}
			if want := sched.Tick() + 1; entry.Tick != want {
				return fmt.Errorf("tick gap: want=%d got=%d (file=%s)", want, entry.Tick, filepath.Base(path))
			}
			if _, err := sched.OnTick(ctx, entry.Tick); err != nil {
				return err
			}
			if entry.Tick < verifyFrom {
				return nil
			}
			checked++
			if got := sched.Digest(); got != entry.Digest {
				return fmt.Errorf("%w at tick %d: got=%s want=%s", ErrDigestMismatch, entry.Tick, got, entry.Digest)
			}
			return nil
		})
		if err != nil {
			return checked, err
		}
		if toTick != 0 && sched.Tick() >= toTick {
			break
		}
	}
	return checked, nil
}
