package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/big"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"tickframe.space/internal/sim/vec"
)

func randomSnapshot(r *rand.Rand, tick int64, dims, n int) Snapshot {
	snap := Snapshot{Tick: tick, Dims: dims}
	for i := 0; i < n; i++ {
		pos := make([]int64, dims)
		dir := make([]int64, dims)
		for d := 0; d < dims; d++ {
			pos[d] = r.Int63n(1<<20) - 1<<19
			dir[d] = r.Int63n(3) - 1
		}
		energy := r.Int63n(tick + 1)
		snap.Records = append(snap.Records, Record{
			Position:   vec.Of(pos...),
			Energy:     energy,
			Generation: r.Int63n(50),
			Rate:       1 + r.Int63n(1000),
			Direction:  vec.Of(dir...),
			BirthTick:  tick - energy,
		})
	}
	return snap
}

func sameSnapshot(t *testing.T, a, b Snapshot) {
	t.Helper()
	if a.Tick != b.Tick || a.Dims != b.Dims || len(a.Records) != len(b.Records) {
		t.Fatalf("header mismatch: tick %d/%d dims %d/%d count %d/%d", a.Tick, b.Tick, a.Dims, b.Dims, len(a.Records), len(b.Records))
	}
	for i := range a.Records {
		x, y := a.Records[i], b.Records[i]
		if !x.Position.Equal(y.Position) || !x.Direction.Equal(y.Direction) ||
			x.Energy != y.Energy || x.Generation != y.Generation || x.Rate != y.Rate || x.BirthTick != y.BirthTick {
			t.Fatalf("record %d: got %+v want %+v", i, y, x)
		}
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for _, n := range []int{0, 1, 10000} {
		want := randomSnapshot(r, 5000, 3, n)
		var buf bytes.Buffer
		if err := Encode(&buf, want); err != nil {
			t.Fatalf("n=%d encode: %v", n, err)
		}
		got, err := Decode(&buf)
		if err != nil {
			t.Fatalf("n=%d decode: %v", n, err)
		}
		sameSnapshot(t, want, got)
	}
}

func TestWriteReadSnapshot_Compression(t *testing.T) {
	dir := t.TempDir()
	r := rand.New(rand.NewSource(11))
	want := randomSnapshot(r, 900, 4, 10000)
	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionGzip} {
		path := filepath.Join(dir, FileName(want.Tick, c))
		if err := WriteSnapshot(path, want, c); err != nil {
			t.Fatalf("%s: write: %v", c, err)
		}
		got, err := ReadSnapshot(path)
		if err != nil {
			t.Fatalf("%s: read: %v", c, err)
		}
		sameSnapshot(t, want, got)
	}
}

func TestRoundTrip_HugeComponents(t *testing.T) {
	huge, _ := new(big.Int).SetString("-123456789012345678901234567890123456789", 10)
	big2 := new(big.Int).Lsh(big.NewInt(1), 200)
	want := Snapshot{Tick: 3, Dims: 2, Records: []Record{{
		Position:  vec.OfBig(huge, big2),
		Energy:    3,
		Rate:      1,
		Direction: vec.Of(-1, 1),
		BirthTick: 0,
	}}}
	var buf bytes.Buffer
	if err := Encode(&buf, want); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	sameSnapshot(t, want, got)
}

func TestBigVarint_MatchesBinaryVarint(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 63, -64, 64, 1 << 40, -(1 << 40), 1<<63 - 1, -1 << 63} {
		got := AppendBigVarint(nil, big.NewInt(v))
		want := binary.AppendVarint(nil, v)
		if !bytes.Equal(got, want) {
			t.Fatalf("%d: got %x want %x", v, got, want)
		}
		back, err := ReadBigVarint(bytes.NewReader(got))
		if err != nil || back.Int64() != v {
			t.Fatalf("%d: read back %v err=%v", v, back, err)
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	var good bytes.Buffer
	snap := randomSnapshot(rand.New(rand.NewSource(1)), 10, 2, 3)
	if err := Encode(&good, snap); err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw := good.Bytes()

	badMagic := append([]byte("NOPE"), raw[4:]...)
	badVersion := append([]byte(nil), raw...)
	binary.LittleEndian.PutUint16(badVersion[4:6], 9)
	trailing := append(append([]byte(nil), raw...), 0x00)

	cases := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"magic", badMagic, ErrBadMagic},
		{"version", badVersion, ErrUnsupportedVersion},
		{"short header", raw[:10], ErrTruncated},
		{"short records", raw[:len(raw)-2], ErrTruncated},
		{"trailing", trailing, ErrCorrupt},
	}
	for _, c := range cases {
		_, err := Decode(bytes.NewReader(c.data))
		if !errors.Is(err, c.want) {
			t.Fatalf("%s: got %v want %v", c.name, err, c.want)
		}
		var le *LoadError
		if !errors.As(err, &le) {
			t.Fatalf("%s: not a *LoadError: %T", c.name, err)
		}
	}
}

func TestDecode_EnergyMismatchIsCorrupt(t *testing.T) {
	snap := Snapshot{Tick: 10, Dims: 1, Records: []Record{{
		Position: vec.Of(0), Energy: 4, Rate: 1, Direction: vec.Of(0), BirthTick: 2,
	}}}
	var buf bytes.Buffer
	if err := Encode(&buf, snap); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(&buf); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("got %v want ErrCorrupt", err)
	}
}

func TestReadSnapshot_SetsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.snap")
	if err := os.WriteFile(path, []byte("garbage that is long enough to be a header"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ReadSnapshot(path)
	var le *LoadError
	if !errors.As(err, &le) || le.Path != path || !errors.Is(err, ErrBadMagic) {
		t.Fatalf("got %v", err)
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	if _, _, ok, err := Latest(filepath.Join(dir, "missing")); ok || err != nil {
		t.Fatalf("missing dir: ok=%v err=%v", ok, err)
	}
	for _, name := range []string{"5.snap.zst", "40.snap", "12.snap.gz", "99.snap.tmp", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	path, tick, ok, err := Latest(dir)
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if tick != 40 || filepath.Base(path) != "40.snap" {
		t.Fatalf("latest=%s tick=%d", path, tick)
	}
}
