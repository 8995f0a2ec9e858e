// Package snapshot is the binary checkpoint format of the entity population.
//
// A snapshot is a fixed 32-byte little-endian header followed by one record
// per entity. Every record integer is a zigzag base-128 varint, so vector
// components of any magnitude survive the round trip; values that fit an
// int64 encode exactly like encoding/binary varints.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"

	"tickframe.space/internal/sim/vec"
)

const (
	Magic      = "TFSN"
	Version    = 1
	HeaderSize = 32
)

type Header struct {
	Version uint16
	Dims    uint16
	Tick    int64
	Count   uint64
}

// Record is one entity as checkpointed. Energy is redundant with Tick and
// BirthTick and is checked on decode.
type Record struct {
	Position   vec.Position
	Energy     int64
	Generation int64
	Rate       int64
	Direction  vec.Vector
	BirthTick  int64
}

type Snapshot struct {
	Tick    int64
	Dims    int
	Records []Record
}

var (
	ErrBadMagic           = errors.New("snapshot: bad magic")
	ErrUnsupportedVersion = errors.New("snapshot: unsupported version")
	ErrTruncated          = errors.New("snapshot: truncated")
	ErrCorrupt            = errors.New("snapshot: corrupt")
)

// LoadError is returned by every decode failure. The caller's state is left
// untouched; nothing partial is handed back.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return "snapshot: load: " + e.Err.Error()
	}
	return fmt.Sprintf("snapshot: load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func loadErr(sentinel error, format string, args ...any) error {
	return &LoadError{Err: fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)}
}

// Encode writes snap to w. Records are written in the given order.
func Encode(w io.Writer, snap Snapshot) error {
	if snap.Dims < 1 || snap.Dims > math.MaxUint16 {
		return fmt.Errorf("snapshot: encode: dims %d out of range", snap.Dims)
	}
	bw := bufio.NewWriterSize(w, 256*1024)

	var hdr [HeaderSize]byte
	copy(hdr[0:4], Magic)
	binary.LittleEndian.PutUint16(hdr[4:6], Version)
	binary.LittleEndian.PutUint16(hdr[6:8], uint16(snap.Dims))
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(snap.Tick))
	binary.LittleEndian.PutUint64(hdr[16:24], uint64(len(snap.Records)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}

	var buf []byte
	for i, r := range snap.Records {
		if r.Position.Dim() != snap.Dims || r.Direction.Dim() != snap.Dims {
			return fmt.Errorf("snapshot: encode: record %d has dims %d/%d want %d", i, r.Position.Dim(), r.Direction.Dim(), snap.Dims)
		}
		buf = buf[:0]
		buf = appendVector(buf, r.Position)
		buf = binary.AppendVarint(buf, r.Energy)
		buf = binary.AppendVarint(buf, r.Generation)
		buf = binary.AppendVarint(buf, r.Rate)
		buf = appendVector(buf, r.Direction)
		buf = binary.AppendVarint(buf, r.BirthTick)
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func appendVector(buf []byte, v vec.Vector) []byte {
	for i := 0; i < v.Dim(); i++ {
		buf = AppendBigVarint(buf, v.Component(i))
	}
	return buf
}

// Decode reads a whole snapshot from r. Trailing bytes are an error.
func Decode(r io.Reader) (Snapshot, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 256*1024)
	}

	hdr, err := readHeader(br)
	if err != nil {
		return Snapshot{}, err
	}
	dims := int(hdr.Dims)

	// the count comes from the file; do not trust it for allocation
	capHint := hdr.Count
	if capHint > 1<<16 {
		capHint = 1 << 16
	}
	recs := make([]Record, 0, capHint)

	for i := uint64(0); i < hdr.Count; i++ {
		rec, err := readRecord(br, dims)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Snapshot{}, loadErr(ErrTruncated, "record %d of %d", i, hdr.Count)
			}
			return Snapshot{}, loadErr(ErrCorrupt, "record %d: %v", i, err)
		}
		if rec.Rate < 1 {
			return Snapshot{}, loadErr(ErrCorrupt, "record %d: rate %d", i, rec.Rate)
		}
		if rec.Energy < 0 || rec.Energy != hdr.Tick-rec.BirthTick {
			return Snapshot{}, loadErr(ErrCorrupt, "record %d: energy %d does not match birth tick %d at tick %d", i, rec.Energy, rec.BirthTick, hdr.Tick)
		}
		recs = append(recs, rec)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return Snapshot{}, loadErr(ErrCorrupt, "trailing data after %d records", hdr.Count)
	}
	return Snapshot{Tick: hdr.Tick, Dims: dims, Records: recs}, nil
}

func readHeader(r io.Reader) (Header, error) {
	var b [HeaderSize]byte
	n, err := io.ReadFull(r, b[:])
	if err != nil {
		if n >= len(Magic) && !bytes.Equal(b[0:4], []byte(Magic)) {
			return Header{}, loadErr(ErrBadMagic, "%q", b[0:4])
		}
		return Header{}, loadErr(ErrTruncated, "header: %d of %d bytes", n, HeaderSize)
	}
	if !bytes.Equal(b[0:4], []byte(Magic)) {
		return Header{}, loadErr(ErrBadMagic, "%q", b[0:4])
	}
	h := Header{
		Version: binary.LittleEndian.Uint16(b[4:6]),
		Dims:    binary.LittleEndian.Uint16(b[6:8]),
		Tick:    int64(binary.LittleEndian.Uint64(b[8:16])),
		Count:   binary.LittleEndian.Uint64(b[16:24]),
	}
	if h.Version != Version {
		return Header{}, loadErr(ErrUnsupportedVersion, "version %d", h.Version)
	}
	if h.Dims == 0 {
		return Header{}, loadErr(ErrCorrupt, "zero dims")
	}
	return h, nil
}

func readRecord(r io.ByteReader, dims int) (Record, error) {
	var rec Record
	var err error
	if rec.Position, err = readVector(r, dims); err != nil {
		return rec, err
	}
	if rec.Energy, err = readInt64(r); err != nil {
		return rec, err
	}
	if rec.Generation, err = readInt64(r); err != nil {
		return rec, err
	}
	if rec.Rate, err = readInt64(r); err != nil {
		return rec, err
	}
	if rec.Direction, err = readVector(r, dims); err != nil {
		return rec, err
	}
	if rec.BirthTick, err = readInt64(r); err != nil {
		return rec, err
	}
	return rec, nil
}

func readVector(r io.ByteReader, dims int) (vec.Vector, error) {
	cs := make([]*big.Int, dims)
	for i := range cs {
		v, err := ReadBigVarint(r)
		if err != nil {
			return vec.Vector{}, err
		}
		cs[i] = v
	}
	return vec.OfBig(cs...), nil
}

func readInt64(r io.ByteReader) (int64, error) {
	v, err := ReadBigVarint(r)
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("scalar %s overflows int64", v)
	}
	return v.Int64(), nil
}
