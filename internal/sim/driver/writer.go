package driver

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"tickframe.space/internal/persistence/archive"
	persistlog "tickframe.space/internal/persistence/log"
	"tickframe.space/internal/persistence/snapshot"
)

type SnapshotIndex interface {
	RecordSnapshot(path string, snap snapshot.Snapshot, c snapshot.Compression)
	RecordEpoch(epoch int, endTick int64, archivedSnapshotPath string)
}

type EventLogger interface {
	WriteEvent(ev persistlog.RunEvent) error
}

// SnapshotWriter persists checkpoints off the tick loop: the snapshot file
// under <RunDir>/snapshots, its index row and, on epoch boundaries, an
// archived copy.
type SnapshotWriter struct {
	RunDir            string
	Compression       snapshot.Compression
	ArchiveEveryTicks int64

	Index  SnapshotIndex
	Events EventLogger
	Logger *log.Logger
}

func (w *SnapshotWriter) SnapshotDir() string {
	return filepath.Join(w.RunDir, "snapshots")
}

// Write persists one checkpoint and returns the snapshot path.
func (w *SnapshotWriter) Write(cp Checkpoint) (string, error) {
	dir := w.SnapshotDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, snapshot.FileName(cp.Snapshot.Tick, w.Compression))
	if err := snapshot.WriteSnapshot(path, cp.Snapshot, w.Compression); err != nil {
		return "", fmt.Errorf("write snapshot %d: %w", cp.Snapshot.Tick, err)
	}
	if w.Index != nil {
		w.Index.RecordSnapshot(path, cp.Snapshot, w.Compression)
	}
	w.event(persistlog.RunEvent{Tick: cp.Snapshot.Tick, Kind: "checkpoint", Path: path, Detail: cp.Digest})

	epoch, archived, ok, err := archive.ArchiveEpochSnapshot(w.RunDir, path, cp.Snapshot, w.ArchiveEveryTicks, cp.Digest)
	if err != nil {
		return path, fmt.Errorf("archive snapshot %d: %w", cp.Snapshot.Tick, err)
	}
	if ok {
		if w.Index != nil {
			w.Index.RecordEpoch(epoch, cp.Snapshot.Tick, archived)
		}
		w.event(persistlog.RunEvent{Tick: cp.Snapshot.Tick, Kind: "epoch", Path: archived, Detail: fmt.Sprintf("epoch %d", epoch)})
	}
	return path, nil
}

// Run drains ch until it is closed. Failures are logged; the run goes on.
func (w *SnapshotWriter) Run(ch <-chan Checkpoint) {
	for cp := range ch {
		path, err := w.Write(cp)
		if err != nil {
			w.printf("checkpoint: %v", err)
			continue
		}
		w.printf("checkpoint tick=%d entities=%d path=%s", cp.Snapshot.Tick, len(cp.Snapshot.Records), path)
	}
}

func (w *SnapshotWriter) event(ev persistlog.RunEvent) {
	if w.Events == nil {
		return
	}
	if err := w.Events.WriteEvent(ev); err != nil {
		w.printf("run log: %v", err)
	}
}

func (w *SnapshotWriter) printf(format string, args ...any) {
	if w.Logger != nil {
		w.Logger.Printf(format, args...)
	}
}
