package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tickframe.space/internal/persistence/indexdb"
	persistlog "tickframe.space/internal/persistence/log"
	"tickframe.space/internal/persistence/snapshot"
	"tickframe.space/internal/sim/collision"
	"tickframe.space/internal/sim/driver"
	"tickframe.space/internal/sim/registry"
	"tickframe.space/internal/sim/substrate"
	"tickframe.space/internal/sim/tuning"
	"tickframe.space/internal/sim/vec"
)

func main() {
	var (
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		runID      = flag.String("run", "run_1", "run id")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read model")

		snapPath   = flag.String("snapshot", "", "path to snapshot to resume from (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "resume from the latest snapshot of the run if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[tickframe] ", log.LstdFlags|log.Lmicroseconds)

	runDir := filepath.Join(*dataDir, "runs", *runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		logger.Fatalf("run dir: %v", err)
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		path, _, ok, err := snapshot.Latest(filepath.Join(runDir, "snapshots"))
		if err != nil {
			logger.Fatalf("latest snapshot: %v", err)
		}
		if ok {
			snapshotToLoad = path
		}
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if snapshotToLoad == "" || !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}

	policy, err := collision.ParsePolicy(tune.CollisionPolicy)
	if err != nil {
		logger.Fatalf("tuning: %v", err)
	}
	kind, err := registry.ParseKind(tune.Scheduler)
	if err != nil {
		logger.Fatalf("tuning: %v", err)
	}
	compression, err := snapshot.ParseCompression(tune.SnapshotCompression)
	if err != nil {
		logger.Fatalf("tuning: %v", err)
	}
	opts := registry.Options{Kind: kind, Workers: tune.Workers, Policy: policy}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(runDir, "index", "run.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index: upsert tuning: %v", err)
		}
	}

	// a resumed process logs to segments of its own
	var (
		events  *persistlog.RunLogger
		tickLog *persistlog.TickLogger
	)
	if snapshotToLoad != "" {
		session := persistlog.SessionName(time.Now())
		events = persistlog.NewResumedRunLogger(runDir, session)
		tickLog = persistlog.NewResumedTickLogger(runDir, session)
	} else {
		events = persistlog.NewRunLogger(runDir)
		tickLog = persistlog.NewTickLogger(runDir)
	}
	defer events.Close()
	defer tickLog.Close()

	var sched registry.Scheduler
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		lattice, err := substrate.New(tune.Neighbourhood, snap.Dims)
		if err != nil {
			logger.Fatalf("substrate: %v", err)
		}
		sched, err = registry.Restore(snap, lattice, opts)
		if err != nil {
			logger.Fatalf("restore: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d entities=%d", filepath.Base(snapshotToLoad), sched.Tick(), sched.Population())
		_ = events.WriteEvent(persistlog.RunEvent{Tick: sched.Tick(), Kind: "resume", Path: snapshotToLoad})
	} else {
		lattice, err := substrate.New(tune.Neighbourhood, tune.Dims)
		if err != nil {
			logger.Fatalf("substrate: %v", err)
		}
		sched, err = registry.Seed(lattice, vec.Of(tune.Seed()...), tune.SeedBirthTick, opts)
		if err != nil {
			logger.Fatalf("seed: %v", err)
		}
		logger.Printf("seeded run=%s dims=%d neighbourhood=%s at tick=%d", *runID, tune.Dims, lattice.Kind(), sched.Tick())
		_ = events.WriteEvent(persistlog.RunEvent{Tick: sched.Tick(), Kind: "start"})
	}

	d := driver.New(sched, driver.Config{
		TickBudget:         tune.TickBudget,
		TickRateHz:         tune.TickRateHz,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
	}, logger)
	d.SetTickLogger(teeTickLogger{file: tickLog, idx: idx})

	snapCh := make(chan driver.Checkpoint, 2)
	d.SetSnapshotSink(snapCh)
	writer := &driver.SnapshotWriter{
		RunDir:            runDir,
		Compression:       compression,
		ArchiveEveryTicks: tune.ArchiveEveryTicks,
		Events:            events,
		Logger:            logger,
	}
	if idx != nil {
		writer.Index = idx
	}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writer.Run(snapCh)
	}()

	ctx, cancel := signalContext()
	defer cancel()

	runErr := d.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		logger.Printf("interrupted at tick=%d", sched.Tick())
		d.FinalCheckpoint(context.Background())
		runErr = nil
	}
	close(snapCh)
	<-writerDone

	if runErr != nil {
		_ = events.WriteEvent(persistlog.RunEvent{Tick: sched.Tick(), Kind: "failed", Detail: runErr.Error()})
		_ = tickLog.Close()
		_ = events.Close()
		logger.Fatalf("tick %d: %v", sched.Tick()+1, runErr)
	}
	_ = events.WriteEvent(persistlog.RunEvent{Tick: sched.Tick(), Kind: "stop"})
	if idx != nil {
		st := idx.Stats()
		logger.Printf("index drops ticks=%d snapshots=%d epochs=%d", st.DropTickTotal, st.DropSnapshotTotal, st.DropEpochTotal)
	}
	logger.Printf("stopped at tick=%d population=%d digest=%s", sched.Tick(), sched.Population(), sched.Digest())
}

// teeTickLogger writes the tick log first; the index is best effort.
type teeTickLogger struct {
	file *persistlog.TickLogger
	idx  *indexdb.SQLiteIndex
}

func (t teeTickLogger) WriteTick(e persistlog.TickEntry) error {
	if err := t.file.WriteTick(e); err != nil {
		return err
	}
	return t.idx.WriteTick(e)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
