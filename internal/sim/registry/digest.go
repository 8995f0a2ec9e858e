package registry

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"tickframe.space/internal/sim/entity"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

// digestSum is the lane-wise sum, mod 2^64, of every entry's hash. It does
// not depend on insertion order, so entries can be added and taken away
// as the population changes.
type digestSum [4]uint64

func (s *digestSum) add(h [sha256.Size]byte) {
	for i := range s {
		s[i] += binary.LittleEndian.Uint64(h[i*8:])
	}
}

func (s *digestSum) sub(h [sha256.Size]byte) {
	for i := range s {
		s[i] -= binary.LittleEndian.Uint64(h[i*8:])
	}
}

// entryDigest hashes one cell. Identities are left out: they are not
// checkpointed, and a restored run must hash like an uninterrupted one.
func entryDigest(key string, e *entity.Entity) [sha256.Size]byte {
	h := sha256.New()
	var tmp [8]byte
	digestWriteString(h, &tmp, key)
	digestWriteI64(h, &tmp, e.BirthTick)
	digestWriteI64(h, &tmp, e.Generation)
	digestWriteI64(h, &tmp, e.Momentum.Rate)
	digestWriteString(h, &tmp, e.Momentum.Direction.Key())
	digestWriteI64(h, &tmp, e.NextActionTick)
	var out [sha256.Size]byte
	h.Sum(out[:0])
	return out
}

func finishDigest(tick int64, n int, sum digestSum) string {
	h := sha256.New()
	var tmp [8]byte
	digestWriteI64(h, &tmp, tick)
	digestWriteU64(h, &tmp, uint64(n))
	for _, lane := range sum {
		digestWriteU64(h, &tmp, lane)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// digest recomputes the population digest from scratch.
func digest(tick int64, cells map[string]*entity.Entity) string {
	var sum digestSum
	for k, e := range cells {
		sum.add(entryDigest(k, e))
	}
	return finishDigest(tick, len(cells), sum)
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func digestWriteString(h hashWriter, tmp *[8]byte, s string) {
	digestWriteU64(h, tmp, uint64(len(s)))
	h.Write([]byte(s))
}
