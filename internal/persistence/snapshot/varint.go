package snapshot

import (
	"errors"
	"io"
	"math/big"
)

// MaxVarintLen bounds a single encoded integer; about 57k bits.
const MaxVarintLen = 1 << 13

var errVarintTooLong = errors.New("varint too long")

// AppendBigVarint appends the zigzag base-128 encoding of v.
func AppendBigVarint(buf []byte, v *big.Int) []byte {
	// zigzag: n >= 0 -> 2n, n < 0 -> -2n-1
	z := new(big.Int).Lsh(v, 1)
	if v.Sign() < 0 {
		z.Neg(z).Sub(z, big.NewInt(1))
	}
	if z.IsUint64() {
		u := z.Uint64()
		for u >= 0x80 {
			buf = append(buf, byte(u)|0x80)
			u >>= 7
		}
		return append(buf, byte(u))
	}
	low := new(big.Int)
	mask := big.NewInt(0x7f)
	for z.BitLen() > 7 {
		low.And(z, mask)
		buf = append(buf, byte(low.Uint64())|0x80)
		z.Rsh(z, 7)
	}
	return append(buf, byte(z.Uint64()))
}

// ReadBigVarint reads one integer written by AppendBigVarint.
func ReadBigVarint(r io.ByteReader) (*big.Int, error) {
	var (
		u     uint64
		shift uint
		z     *big.Int
		chunk = new(big.Int)
	)
	for n := 0; ; n++ {
		if n == MaxVarintLen {
			return nil, errVarintTooLong
		}
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && n > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		payload := uint64(b & 0x7f)
		if z == nil && shift <= 57 {
			u |= payload << shift
		} else {
			if z == nil {
				z = new(big.Int).SetUint64(u)
			}
			chunk.SetUint64(payload)
			z.Or(z, chunk.Lsh(chunk, shift))
		}
		shift += 7
		if b < 0x80 {
			break
		}
	}
	if z == nil {
		z = new(big.Int).SetUint64(u)
	}
	// undo zigzag
	neg := z.Bit(0) == 1
	z.Rsh(z, 1)
	if neg {
		z.Neg(z).Sub(z, big.NewInt(1))
	}
	return z, nil
}
