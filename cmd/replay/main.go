package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	persistlog "tickframe.space/internal/persistence/log"
	"tickframe.space/internal/persistence/snapshot"
	"tickframe.space/internal/sim/collision"
	"tickframe.space/internal/sim/driver"
	"tickframe.space/internal/sim/registry"
	"tickframe.space/internal/sim/substrate"
	"tickframe.space/internal/sim/tuning"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap[.zst|.gz]")
		ticksDir   = flag.String("ticks", "", "dir containing ticks-*.jsonl.zst (optional)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "tuning used by the run (neighbourhood, collision policy)")
		scheduler  = flag.String("scheduler", "", "override scheduler: event|double")
		fromTick   = flag.Int64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Int64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	var energy, maxGen int64
	for _, r := range snap.Records {
		energy += r.Energy
		if r.Generation > maxGen {
			maxGen = r.Generation
		}
	}
	fmt.Printf("snapshot v%d tick=%d dims=%d entities=%d energy=%d max_gen=%d\n",
		snapshot.Version, snap.Tick, snap.Dims, len(snap.Records), energy, maxGen)

	if *ticksDir == "" {
		return
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}
	if *scheduler != "" {
		tune.Scheduler = *scheduler
	}
	policy, err := collision.ParsePolicy(tune.CollisionPolicy)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tuning:", err)
		os.Exit(1)
	}
	kind, err := registry.ParseKind(tune.Scheduler)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tuning:", err)
		os.Exit(1)
	}
	lattice, err := substrate.New(tune.Neighbourhood, snap.Dims)
	if err != nil {
		fmt.Fprintln(os.Stderr, "substrate:", err)
		os.Exit(1)
	}

	sched, err := registry.Restore(snap, lattice, registry.Options{Kind: kind, Workers: tune.Workers, Policy: policy})
	if err != nil {
		fmt.Fprintln(os.Stderr, "restore:", err)
		os.Exit(1)
	}

	files, err := persistlog.ListFiles(*ticksDir, persistlog.TickPrefix)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list ticks:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no tick files found in", *ticksDir)
		os.Exit(1)
	}

	checked, err := driver.Replay(context.Background(), sched, files, *fromTick, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d ticks (from snapshot tick=%d to tick=%d)\n", checked, snap.Tick, sched.Tick())
}
