// Package indexdb keeps a queryable SQLite read model of a run: tick
// summaries, checkpoints and archived epochs. It is written asynchronously
// and may lag or drop rows; the tick log stays the source of truth.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tickframe.space/internal/persistence/log"
	"tickframe.space/internal/persistence/snapshot"
	"tickframe.space/internal/sim/tuning"
)

const (
	queueDepth    = 65536
	batchRows     = 2000
	batchMaxDelay = 2 * time.Second
)

type SQLiteIndex struct {
	db    *sql.DB
	queue chan row

	// mu orders sends on queue against Close closing it.
	mu        sync.RWMutex
	closing   bool
	closeOnce sync.Once
	done      chan struct{}

	dropped [rowKinds]atomic.Uint64
}

// Stats reports queue pressure. Drops happen when the writer falls behind.
type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropTickTotal     uint64
	DropSnapshotTotal uint64
	DropEpochTotal    uint64
}

type rowKind int

const (
	rowTick rowKind = iota
	rowSnapshot
	rowEpoch
	rowKinds
)

// row is one pending insert: its table and positional arguments.
type row struct {
	kind rowKind
	args []any
}

var schema = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA synchronous=NORMAL;`,
	`PRAGMA busy_timeout=5000;`,
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS ticks (
		tick INTEGER PRIMARY KEY,
		digest TEXT NOT NULL,
		due INTEGER NOT NULL,
		moves INTEGER NOT NULL,
		divisions INTEGER NOT NULL,
		removals INTEGER NOT NULL,
		merges INTEGER NOT NULL,
		bounces INTEGER NOT NULL,
		disappears INTEGER NOT NULL,
		annihilations INTEGER NOT NULL,
		energy_destroyed INTEGER NOT NULL,
		population INTEGER NOT NULL,
		raw_json TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		tick INTEGER PRIMARY KEY,
		path TEXT NOT NULL,
		dims INTEGER NOT NULL,
		entities INTEGER NOT NULL,
		compression TEXT NOT NULL,
		recorded_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS epochs (
		epoch INTEGER PRIMARY KEY,
		end_tick INTEGER NOT NULL,
		snapshot_path TEXT NOT NULL,
		recorded_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_epochs_end_tick ON epochs(end_tick);`,
}

var inserts = [rowKinds]string{
	rowTick:     `INSERT OR REPLACE INTO ticks(tick,digest,due,moves,divisions,removals,merges,bounces,disappears,annihilations,energy_destroyed,population,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
	rowSnapshot: `INSERT OR REPLACE INTO snapshots(tick,path,dims,entities,compression,recorded_at) VALUES(?,?,?,?,?,?)`,
	rowEpoch:    `INSERT OR REPLACE INTO epochs(epoch,end_tick,snapshot_path,recorded_at) VALUES(?,?,?,?)`,
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, errors.New("indexdb: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: the writer goroutine and UpsertTuning never overlap
	// on separate handles.
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	s := &SQLiteIndex{
		db:    db,
		queue: make(chan row, queueDepth),
		done:  make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Close flushes queued rows and closes the database.
func (s *SQLiteIndex) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		close(s.queue)
		s.mu.Unlock()
		<-s.done
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.queue),
		QueueCapacity:     cap(s.queue),
		DropTickTotal:     s.dropped[rowTick].Load(),
		DropSnapshotTotal: s.dropped[rowSnapshot].Load(),
		DropEpochTotal:    s.dropped[rowEpoch].Load(),
	}
}

func (s *SQLiteIndex) enqueue(r row) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closing {
		return
	}
	select {
	case s.queue <- r:
	default:
		s.dropped[r.kind].Add(1)
	}
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// WriteTick queues a tick summary. It never blocks and never fails.
func (s *SQLiteIndex) WriteTick(entry log.TickEntry) error {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	rep := entry.Report
	s.enqueue(row{kind: rowTick, args: []any{
		entry.Tick, entry.Digest,
		rep.Due, rep.Moves, rep.Divisions, rep.Removals,
		rep.Merges, rep.Bounces, rep.Disappears, rep.Annihilations,
		rep.EnergyDestroyed, rep.Population,
		string(raw),
	}})
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.Snapshot, c snapshot.Compression) {
	s.enqueue(row{kind: rowSnapshot, args: []any{
		snap.Tick, path, snap.Dims, len(snap.Records), string(c), now(),
	}})
}

func (s *SQLiteIndex) RecordEpoch(epoch int, endTick int64, archivedSnapshotPath string) {
	if epoch <= 0 || archivedSnapshotPath == "" {
		return
	}
	s.enqueue(row{kind: rowEpoch, args: []any{epoch, endTick, archivedSnapshotPath, now()}})
}

// UpsertTuning stores the applied run configuration and its digest. It is
// written synchronously, once per process start.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, kv := range [][2]string{
		{"schema_version", "1"},
		{"tuning", string(b)},
		{"tuning_digest", hex.EncodeToString(sum[:])},
	} {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, kv[0], kv[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// batch groups queued rows into one transaction.
type batch struct {
	db    *sql.DB
	stmts [rowKinds]*sql.Stmt
	tx    *sql.Tx
	rows  int
}

func (b *batch) add(r row) {
	if b.tx == nil {
		tx, err := b.db.Begin()
		if err != nil {
			return
		}
		b.tx = tx
	}
	st := b.stmts[r.kind]
	if st == nil {
		return
	}
	if _, err := b.tx.Stmt(st).Exec(r.args...); err != nil {
		// A failed insert discards the batch; rows are best effort.
		b.abort()
		return
	}
	b.rows++
}

func (b *batch) commit() {
	if b.tx == nil {
		return
	}
	_ = b.tx.Commit()
	b.tx, b.rows = nil, 0
}

func (b *batch) abort() {
	if b.tx == nil {
		return
	}
	_ = b.tx.Rollback()
	b.tx, b.rows = nil, 0
}

func (s *SQLiteIndex) run() {
	defer close(s.done)

	b := &batch{db: s.db}
	for k, q := range inserts {
		st, err := s.db.Prepare(q)
		if err == nil {
			b.stmts[k] = st
			defer st.Close()
		}
	}

	flush := time.NewTicker(batchMaxDelay)
	defer flush.Stop()
	for {
		select {
		case r, ok := <-s.queue:
			if !ok {
				b.commit()
				return
			}
			b.add(r)
			if b.rows >= batchRows {
				b.commit()
			}
		case <-flush.C:
			b.commit()
		}
	}
}
