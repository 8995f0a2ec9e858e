package snapshot

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionGzip Compression = "gzip"
)

func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CompressionZstd, nil
	case CompressionNone, CompressionZstd, CompressionGzip:
		return c, nil
	default:
		return "", fmt.Errorf("snapshot: unknown compression %q", s)
	}
}

// Ext is the file suffix appended after ".snap".
func (c Compression) Ext() string {
	switch c {
	case CompressionZstd:
		return ".zst"
	case CompressionGzip:
		return ".gz"
	default:
		return ""
	}
}

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic = []byte{0x1f, 0x8b}
)

// FileName is the checkpoint file name for tick.
func FileName(tick int64, c Compression) string {
	return fmt.Sprintf("%d.snap%s", tick, c.Ext())
}

// WriteSnapshot writes snap to path through a temp file and rename, so a
// crash never leaves a half-written checkpoint under the final name.
func WriteSnapshot(path string, snap Snapshot, c Compression) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := writeCompressed(f, snap, c); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeCompressed(w io.Writer, snap Snapshot, c Compression) error {
	switch c {
	case CompressionNone, "":
		return Encode(w, snap)
	case CompressionZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		if err := Encode(enc, snap); err != nil {
			_ = enc.Close()
			return err
		}
		return enc.Close()
	case CompressionGzip:
		enc := gzip.NewWriter(w)
		if err := Encode(enc, snap); err != nil {
			_ = enc.Close()
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("snapshot: unknown compression %q", c)
	}
}

// ReadSnapshot loads a checkpoint, detecting zstd or gzip framing from the
// leading bytes. Decode failures are *LoadError with Path set.
func ReadSnapshot(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, err
	}
	defer f.Close()

	snap, err := readCompressed(f)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
			return Snapshot{}, le
		}
		return Snapshot{}, &LoadError{Path: path, Err: err}
	}
	return snap, nil
}

func readCompressed(r io.Reader) (Snapshot, error) {
	br := bufio.NewReaderSize(r, 256*1024)
	head, _ := br.Peek(4)
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return Snapshot{}, err
		}
		defer dec.Close()
		return Decode(dec)
	case bytes.HasPrefix(head, gzipMagic):
		dec, err := gzip.NewReader(br)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: gzip: %v", ErrCorrupt, err)
		}
		defer dec.Close()
		return Decode(dec)
	default:
		return Decode(br)
	}
}

// Latest returns the newest checkpoint in dir by tick. ok is false when the
// directory holds none.
func Latest(dir string) (path string, tick int64, ok bool, err error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, false, nil
		}
		return "", 0, false, err
	}
	type cand struct {
		name string
		tick int64
	}
	var cands []cand
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		t, ok := TickFromName(e.Name())
		if !ok {
			continue
		}
		cands = append(cands, cand{name: e.Name(), tick: t})
	}
	if len(cands) == 0 {
		return "", 0, false, nil
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].tick < cands[j].tick })
	best := cands[len(cands)-1]
	return filepath.Join(dir, best.name), best.tick, true, nil
}

// TickFromName parses "<tick>.snap", "<tick>.snap.zst" or "<tick>.snap.gz".
func TickFromName(name string) (int64, bool) {
	for _, c := range []Compression{CompressionZstd, CompressionGzip, CompressionNone} {
		suffix := ".snap" + c.Ext()
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		t, err := strconv.ParseInt(strings.TrimSuffix(name, suffix), 10, 64)
		if err != nil {
			return 0, false
		}
		return t, true
	}
	return 0, false
}
