// Package tuple implements an order-preserving, self-delimiting binary
// encoding for sequences of typed values, in the style of the FoundationDB
// tuple layer. Two packed tuples compare in the same order as their
// unpacked element sequences compare lexicographically, element by
// element, which lets a single ordered key-value store serve as both a
// primary store and a range-scannable index.
package tuple

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/big"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Type tags. Each packed element begins with exactly one of these bytes.
const (
	nullCode    = 0x00
	bytesCode   = 0x01
	stringCode  = 0x02
	nestedCode  = 0x05
	negIntStart = 0x0b
	intZeroCode = 0x14
	posIntEnd   = 0x1d
	floatCode   = 0x20
	doubleCode  = 0x21
	falseCode   = 0x26
	trueCode    = 0x27
	uuidCode    = 0x30
	versionCode = 0x33
)

// sizeLimits[n] is the largest unsigned value representable in n bytes,
// used to pick the narrowest fixed-width int encoding for a given magnitude.
var sizeLimits = [...]uint64{
	0,
	0xff,
	0xffff,
	0xffffff,
	0xffffffff,
	0xffffffffff,
	0xffffffffffff,
	0xffffffffffffff,
	0xffffffffffffffff,
}

// Versionstamp is a 12-byte value composed of a 10-byte transaction
// version and a 2-byte user-assigned version, used so a batch of tuples
// written in the same transaction can share an order-determining suffix
// that the storage layer fills in at commit time. A versionstamp packed
// with TrVersion entirely 0xff is "incomplete": the caller is asking the
// transaction layer to stamp in the real value.
type Versionstamp struct {
	TrVersion   [10]byte
	UserVersion uint16
}

// incompleteTrVersion is the sentinel transaction version marking a
// versionstamp as not yet assigned.
var incompleteTrVersion = [10]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// IncompleteVersionstamp builds an incomplete versionstamp carrying the
// given user version, to be completed by the transaction layer at commit.
func IncompleteVersionstamp(userVersion uint16) Versionstamp {
	return Versionstamp{TrVersion: incompleteTrVersion, UserVersion: userVersion}
}

// Incomplete reports whether v has not yet been assigned a transaction
// version.
func (v Versionstamp) Incomplete() bool {
	return v.TrVersion == incompleteTrVersion
}

func (v Versionstamp) bytes() []byte {
	b := make([]byte, 12)
	copy(b, v.TrVersion[:])
	binary.BigEndian.PutUint16(b[10:], v.UserVersion)
	return b
}

func versionstampFromBytes(b []byte) Versionstamp {
	var v Versionstamp
	copy(v.TrVersion[:], b[:10])
	v.UserVersion = binary.BigEndian.Uint16(b[10:12])
	return v
}

// Element is one value of a Tuple. Supported concrete types are: nil,
// []byte, string, bool, int, int64, uint64, *big.Int, float32, float64,
// uuid.UUID, Versionstamp, and Tuple itself (nesting).
type Element = interface{}

// Tuple is an ordered sequence of elements.
type Tuple []Element

// Pack encodes t into its order-preserving binary form. It returns
// ErrVersionstampArity if t contains an incomplete Versionstamp anywhere:
// use PackWithVersionstamp for that case.
func Pack(t Tuple) ([]byte, error) {
	var buf bytes.Buffer
	pos, err := encodeTuple(&buf, t, false)
	if err != nil {
		return nil, err
	}
	if pos >= 0 {
		return nil, ErrVersionstampArity
	}
	return buf.Bytes(), nil
}

// PackWithVersionstamp encodes t, which must contain exactly one
// incomplete Versionstamp element (at any depth), and appends a trailing
// 2-byte little-endian offset to that versionstamp's position so the
// transaction layer can find and patch it after commit.
func PackWithVersionstamp(t Tuple) ([]byte, error) {
	var buf bytes.Buffer
	pos, err := encodeTuple(&buf, t, false)
	if err != nil {
		return nil, err
	}
	if pos < 0 {
		return nil, ErrVersionstampArity
	}
	out := buf.Bytes()
	var tail [2]byte
	binary.LittleEndian.PutUint16(tail[:], uint16(pos))
	return append(out, tail[:]...), nil
}

// encodeTuple writes t's elements to buf and returns the byte offset (in
// buf, as of the call) of an incomplete versionstamp's value, or -1 if
// none was seen. It errors if more than one incomplete versionstamp is
// found, matching the reference semantics that a tuple may carry at most
// one deferred stamp.
func encodeTuple(buf *bytes.Buffer, t Tuple, nested bool) (int, error) {
	versionPos := -1
	for _, el := range t {
		if nested && el == nil {
			// Escaped so a nested null cannot be read as the terminator.
			buf.WriteByte(nullCode)
			buf.WriteByte(0xff)
			continue
		}
		p, err := encodeElement(buf, el)
		if err != nil {
			return -1, err
		}
		if p >= 0 {
			if versionPos >= 0 {
				return -1, ErrVersionstampArity
			}
			versionPos = p
		}
	}
	if nested {
		buf.WriteByte(nullCode)
	}
	return versionPos, nil
}

// encodeElement writes one element and returns the offset of an
// incomplete versionstamp's payload within buf, or -1.
func encodeElement(buf *bytes.Buffer, el interface{}) (int, error) {
	switch v := el.(type) {
	case nil:
		buf.WriteByte(nullCode)
	case []byte:
		buf.WriteByte(bytesCode)
		encodeBytesEscaped(buf, v)
	case string:
		buf.WriteByte(stringCode)
		encodeBytesEscaped(buf, []byte(v))
	case bool:
		if v {
			buf.WriteByte(trueCode)
		} else {
			buf.WriteByte(falseCode)
		}
	case int:
		encodeInt(buf, int64(v))
	case int64:
		encodeInt(buf, v)
	case uint64:
		encodeUint(buf, v)
	case *big.Int:
		if err := encodeBigInt(buf, v); err != nil {
			return -1, err
		}
	case float32:
		encodeFloat32(buf, v)
	case float64:
		encodeFloat64(buf, v)
	case uuid.UUID:
		buf.WriteByte(uuidCode)
		buf.Write(v[:])
	case Versionstamp:
		buf.WriteByte(versionCode)
		if v.Incomplete() {
			pos := buf.Len()
			buf.Write(v.bytes())
			return pos, nil
		}
		buf.Write(v.bytes())
	case Tuple:
		buf.WriteByte(nestedCode)
		pos, err := encodeTuple(buf, v, true)
		if err != nil {
			return -1, err
		}
		return pos, nil
	default:
		return -1, ErrUnsupportedType
	}
	return -1, nil
}

// encodeBytesEscaped writes b with every 0x00 byte escaped to 0x00 0xff,
// then a terminating 0x00. This is what lets a bytes/string element
// nested inside a tuple remain self-delimiting without needing a length
// prefix, which would break lexicographic ordering across elements of
// different lengths.
func encodeBytesEscaped(buf *bytes.Buffer, b []byte) {
	for _, c := range b {
		buf.WriteByte(c)
		if c == 0x00 {
			buf.WriteByte(0xff)
		}
	}
	buf.WriteByte(0x00)
}

func byteWidth(u uint64) int {
	for n := 1; n < len(sizeLimits); n++ {
		if u <= sizeLimits[n] {
			return n
		}
	}
	return len(sizeLimits) - 1
}

func encodeUint(buf *bytes.Buffer, u uint64) {
	n := byteWidth(u)
	buf.WriteByte(byte(intZeroCode + n))
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], u)
	buf.Write(tmp[8-n:])
}

func encodeInt(buf *bytes.Buffer, i int64) {
	if i == 0 {
		buf.WriteByte(intZeroCode)
		return
	}
	if i > 0 {
		encodeUint(buf, uint64(i))
		return
	}
	// Negative: stored as (limit + i) so ordering stays monotonic, in the
	// narrowest width that holds |i|.
	mag := uint64(-i)
	n := byteWidth(mag)
	buf.WriteByte(byte(intZeroCode - n))
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], sizeLimits[n]-mag)
	buf.Write(tmp[8-n:])
}

// encodeBigInt handles magnitudes wider than 8 bytes via the extended
// int tags 0x0b/0x1d, which carry an explicit length byte ahead of the
// magnitude instead of selecting it from the tag value.
func encodeBigInt(buf *bytes.Buffer, v *big.Int) error {
	if v.IsInt64() {
		encodeInt(buf, v.Int64())
		return nil
	}
	abs := new(big.Int).Abs(v)
	mag := abs.Bytes()
	if len(mag) > 0xff {
		return ErrIntegerTooWide
	}
	if v.Sign() > 0 {
		buf.WriteByte(posIntEnd)
		buf.WriteByte(byte(len(mag)))
		buf.Write(mag)
		return nil
	}
	// Negative extended: one's-complement the magnitude so that a larger
	// magnitude (more negative) sorts before a smaller one.
	buf.WriteByte(negIntStart)
	buf.WriteByte(byte(^byte(len(mag))))
	inv := make([]byte, len(mag))
	for i, b := range mag {
		inv[i] = ^b
	}
	buf.Write(inv)
	return nil
}

// encodeFloat32/64 flip bits so that IEEE-754's bit pattern sorts the
// same as the numeric value: for positives, flip the sign bit; for
// negatives, flip every bit. This is the standard float-to-order-
// preserving-bits transform.
func encodeFloat32(buf *bytes.Buffer, f float32) {
	buf.WriteByte(floatCode)
	bits := math.Float32bits(f)
	bits = floatOrderBits32(bits)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], bits)
	buf.Write(tmp[:])
}

func encodeFloat64(buf *bytes.Buffer, f float64) {
	buf.WriteByte(doubleCode)
	bits := math.Float64bits(f)
	bits = floatOrderBits64(bits)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], bits)
	buf.Write(tmp[:])
}

func floatOrderBits32(bits uint32) uint32 {
	if bits&0x80000000 != 0 {
		return ^bits
	}
	return bits | 0x80000000
}

func floatOrderBits64(bits uint64) uint64 {
	if bits&0x8000000000000000 != 0 {
		return ^bits
	}
	return bits | 0x8000000000000000
}

func floatOrderBits32Inverse(bits uint32) uint32 {
	if bits&0x80000000 != 0 {
		return bits &^ 0x80000000
	}
	return ^bits
}

func floatOrderBits64Inverse(bits uint64) uint64 {
	if bits&0x8000000000000000 != 0 {
		return bits &^ 0x8000000000000000
	}
	return ^bits
}

// Unpack decodes a packed tuple back into its element sequence. Integers
// decode to int64 when they fit, otherwise uint64, otherwise *big.Int for
// magnitudes beyond 64 bits.
func Unpack(b []byte) (Tuple, error) {
	t, rest, err := decodeTuple(b, false)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, ErrTruncated
	}
	return t, nil
}

// decodeTuple decodes elements from b until it is exhausted (top level)
// or a 0x00 terminator is found (nested == true), returning the decoded
// tuple and any unconsumed bytes. Inside a nested tuple, 0x00 0xff is an
// escaped null element rather than the terminator.
func decodeTuple(b []byte, nested bool) (Tuple, []byte, error) {
	var t Tuple
	for {
		if len(b) == 0 {
			if nested {
				return nil, nil, ErrTruncated
			}
			return t, nil, nil
		}
		if nested && b[0] == nullCode {
			if len(b) > 1 && b[1] == 0xff {
				t = append(t, nil)
				b = b[2:]
				continue
			}
			return t, b[1:], nil
		}
		el, rest, err := decodeElement(b)
		if err != nil {
			return nil, nil, err
		}
		t = append(t, el)
		b = rest
	}
}

func decodeElement(b []byte) (interface{}, []byte, error) {
	tag := b[0]
	switch {
	case tag == nullCode:
		return nil, b[1:], nil
	case tag == bytesCode:
		raw, rest, err := decodeBytesEscaped(b[1:])
		if err != nil {
			return nil, nil, err
		}
		return raw, rest, nil
	case tag == stringCode:
		raw, rest, err := decodeBytesEscaped(b[1:])
		if err != nil {
			return nil, nil, err
		}
		if !utf8Valid(raw) {
			return nil, nil, ErrInvalidUTF8
		}
		return string(raw), rest, nil
	case tag == nestedCode:
		inner, rest, err := decodeTuple(b[1:], true)
		if err != nil {
			return nil, nil, err
		}
		return inner, rest, nil
	case tag == falseCode:
		return false, b[1:], nil
	case tag == trueCode:
		return true, b[1:], nil
	case tag == uuidCode:
		if len(b) < 17 {
			return nil, nil, ErrTruncated
		}
		u, err := uuid.FromBytes(b[1:17])
		if err != nil {
			return nil, nil, ErrTruncated
		}
		return u, b[17:], nil
	case tag == versionCode:
		if len(b) < 13 {
			return nil, nil, ErrTruncated
		}
		return versionstampFromBytes(b[1:13]), b[13:], nil
	case tag == floatCode:
		if len(b) < 5 {
			return nil, nil, ErrTruncated
		}
		bits := binary.BigEndian.Uint32(b[1:5])
		return math.Float32frombits(floatOrderBits32Inverse(bits)), b[5:], nil
	case tag == doubleCode:
		if len(b) < 9 {
			return nil, nil, ErrTruncated
		}
		bits := binary.BigEndian.Uint64(b[1:9])
		return math.Float64frombits(floatOrderBits64Inverse(bits)), b[9:], nil
	case tag == intZeroCode:
		return int64(0), b[1:], nil
	case tag > intZeroCode && tag <= posIntEnd:
		return decodePosInt(tag, b)
	case tag < intZeroCode && tag >= negIntStart:
		return decodeNegInt(tag, b)
	default:
		return nil, nil, ErrUnknownTag(tag)
	}
}

func decodePosInt(tag byte, b []byte) (interface{}, []byte, error) {
	if tag == posIntEnd {
		if len(b) < 2 {
			return nil, nil, ErrTruncated
		}
		n := int(b[1])
		if len(b) < 2+n {
			return nil, nil, ErrTruncated
		}
		mag := new(big.Int).SetBytes(b[2 : 2+n])
		return normalizeBigInt(mag), b[2+n:], nil
	}
	n := int(tag - intZeroCode)
	if len(b) < 1+n {
		return nil, nil, ErrTruncated
	}
	var tmp [8]byte
	copy(tmp[8-n:], b[1:1+n])
	u := binary.BigEndian.Uint64(tmp[:])
	if u <= math.MaxInt64 {
		return int64(u), b[1+n:], nil
	}
	return u, b[1+n:], nil
}

func decodeNegInt(tag byte, b []byte) (interface{}, []byte, error) {
	if tag == negIntStart {
		if len(b) < 2 {
			return nil, nil, ErrTruncated
		}
		n := int(^b[1] & 0xff)
		if len(b) < 2+n {
			return nil, nil, ErrTruncated
		}
		inv := make([]byte, n)
		for i, c := range b[2 : 2+n] {
			inv[i] = ^c
		}
		mag := new(big.Int).SetBytes(inv)
		return normalizeBigInt(new(big.Int).Neg(mag)), b[2+n:], nil
	}
	n := int(intZeroCode - tag)
	if len(b) < 1+n {
		return nil, nil, ErrTruncated
	}
	var tmp [8]byte
	copy(tmp[8-n:], b[1:1+n])
	stored := binary.BigEndian.Uint64(tmp[:])
	mag := sizeLimits[n] - stored
	return -int64(mag), b[1+n:], nil
}

// normalizeBigInt narrows a big.Int back to int64/uint64 when it fits, so
// Unpack returns the smallest natural Go type for the value decoded,
// matching the fast paths taken for narrower encodings.
func normalizeBigInt(v *big.Int) interface{} {
	if v.IsInt64() {
		return v.Int64()
	}
	if v.Sign() >= 0 && v.IsUint64() {
		return v.Uint64()
	}
	return v
}

func decodeBytesEscaped(b []byte) ([]byte, []byte, error) {
	var out []byte
	for i := 0; i < len(b); i++ {
		if b[i] == 0x00 {
			if i+1 < len(b) && b[i+1] == 0xff {
				out = append(out, 0x00)
				i++
				continue
			}
			return out, b[i+1:], nil
		}
		out = append(out, b[i])
	}
	return nil, nil, ErrTruncated
}

func utf8Valid(b []byte) bool {
	return utf8.Valid(b)
}
