package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"tickframe.space/internal/sim/registry"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files
// <baseDir>/<prefix>-<yyyy-mm-dd-hh>[.<session>].jsonl.zst.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	session string
	now     func() time.Time

	mu  sync.Mutex
	seg *hourFile
}

// hourFile is the open segment for one UTC hour.
type hourFile struct {
	hour string
	f    *os.File
	zw   *zstd.Encoder
	buf  *bufio.Writer
}

func openHourFile(path, hour string) (*hourFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &hourFile{hour: hour, f: f, zw: zw, buf: bufio.NewWriterSize(zw, 128*1024)}, nil
}

func (h *hourFile) writeLine(b []byte) error {
	if _, err := h.buf.Write(b); err != nil {
		return err
	}
	if err := h.buf.WriteByte('\n'); err != nil {
		return err
	}
	return h.buf.Flush()
}

func (h *hourFile) close() error {
	flushErr := h.buf.Flush()
	zErr := h.zw.Close()
	fErr := h.f.Close()
	return errors.Join(flushErr, zErr, fErr)
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{baseDir: baseDir, prefix: prefix, now: time.Now}
}

// SessionName names the segments of a resumed process. Within one hour they
// sort after the first process's segment and after earlier resumes.
func SessionName(t time.Time) string {
	return "r" + t.UTC().Format("20060102T150405.000000000")
}

// NewSessionWriter is NewJSONLZstdWriter for a resumed process. It never
// appends to a segment an earlier process wrote.
func NewSessionWriter(baseDir, prefix, session string) *JSONLZstdWriter {
	w := NewJSONLZstdWriter(baseDir, prefix)
	w.session = session
	return w
}

func (w *JSONLZstdWriter) segmentName(hour string) string {
	if w.session == "" {
		return fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour)
	}
	return fmt.Sprintf("%s-%s.%s.jsonl.zst", w.prefix, hour, w.session)
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	hour := w.now().UTC().Format("2006-01-02-15")
	if w.seg == nil || w.seg.hour != hour {
		if err := w.closeSegment(); err != nil {
			return err
		}
		if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
			return err
		}
		seg, err := openHourFile(filepath.Join(w.baseDir, w.segmentName(hour)), hour)
		if err != nil {
			return err
		}
		w.seg = seg
	}
	return w.seg.writeLine(b)
}

// Flush pushes buffered lines through the compressor so a reader of the
// current file sees them.
func (w *JSONLZstdWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seg == nil {
		return nil
	}
	if err := w.seg.buf.Flush(); err != nil {
		return err
	}
	return w.seg.zw.Flush()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeSegment()
}

func (w *JSONLZstdWriter) closeSegment() error {
	if w.seg == nil {
		return nil
	}
	err := w.seg.close()
	w.seg = nil
	return err
}

// TickEntry is one committed tick as recorded for replay.
type TickEntry struct {
	Tick   int64               `json:"tick"`
	Digest string              `json:"digest"`
	Report registry.TickReport `json:"report"`
}

const (
	TickPrefix = "ticks"
	RunPrefix  = "run"
)

// TickLogger writes one JSONL entry per tick (compressed).
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(runDir string) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "ticks"), TickPrefix)}
}

// NewResumedTickLogger writes to segments of its own session. Ticks the
// resumed run re-commits after the checkpoint are logged again there.
func NewResumedTickLogger(runDir, session string) *TickLogger {
	return &TickLogger{w: NewSessionWriter(filepath.Join(runDir, "ticks"), TickPrefix, session)}
}

func (l *TickLogger) WriteTick(v TickEntry) error { return l.w.Write(v) }
func (l *TickLogger) Close() error                { return l.w.Close() }

// RunEvent records something that happened to the run rather than to the
// population: start, resume, checkpoint, archive, stop.
type RunEvent struct {
	Tick   int64  `json:"tick"`
	Kind   string `json:"kind"`
	Path   string `json:"path,omitempty"`
	Detail string `json:"detail,omitempty"`
	At     string `json:"at"`
}

// RunLogger writes run event JSONL entries (compressed).
type RunLogger struct{ w *JSONLZstdWriter }

func NewRunLogger(runDir string) *RunLogger {
	return &RunLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "events"), RunPrefix)}
}

func NewResumedRunLogger(runDir, session string) *RunLogger {
	return &RunLogger{w: NewSessionWriter(filepath.Join(runDir, "events"), RunPrefix, session)}
}

func (l *RunLogger) WriteEvent(v RunEvent) error {
	if v.At == "" {
		v.At = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return l.w.Write(v)
}

func (l *RunLogger) Close() error { return l.w.Close() }
