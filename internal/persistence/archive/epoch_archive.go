package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"tickframe.space/internal/persistence/snapshot"
)

type EpochArchiveMeta struct {
	Epoch      int    `json:"epoch"`
	EndTick    int64  `json:"end_tick"`
	EpochTicks int64  `json:"epoch_ticks"`
	Snapshot   string `json:"snapshot"`
	Dims       int    `json:"dims"`
	Entities   int    `json:"entities"`
	Digest     string `json:"digest,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// ArchiveEpochSnapshot copies a checkpoint taken on an epoch boundary into
// `runDir/archives/epoch_<NNN>/` next to a meta.json. A checkpoint at tick T
// closes epoch T/every when T is a positive multiple of every.
func ArchiveEpochSnapshot(runDir, snapshotPath string, snap snapshot.Snapshot, every int64, digest string) (epoch int, archivedPath string, archived bool, err error) {
	if every <= 0 || snap.Tick <= 0 || snap.Tick%every != 0 {
		return 0, "", false, nil
	}
	epoch = int(snap.Tick / every)

	archiveDir := filepath.Join(runDir, "archives", fmt.Sprintf("epoch_%03d", epoch))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	meta := EpochArchiveMeta{
		Epoch:      epoch,
		EndTick:    snap.Tick,
		EpochTicks: every,
		Snapshot:   filepath.Base(dst),
		Dims:       snap.Dims,
		Entities:   len(snap.Records),
		Digest:     digest,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return 0, "", false, err
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644); err != nil {
		return 0, "", false, err
	}
	return epoch, dst, true, nil
}

// ReadMeta loads the meta.json of one archived epoch.
func ReadMeta(epochDir string) (EpochArchiveMeta, error) {
	var m EpochArchiveMeta
	b, err := os.ReadFile(filepath.Join(epochDir, "meta.json"))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("meta.json: %w", err)
	}
	return m, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
