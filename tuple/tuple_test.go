package tuple

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/big"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, tup Tuple) Tuple {
	t.Helper()
	packed, err := Pack(tup)
	require.NoError(t, err)
	got, err := Unpack(packed)
	require.NoError(t, err)
	return got
}

func TestRoundTripScalars(t *testing.T) {
	cases := []Tuple{
		{nil},
		{[]byte("hello")},
		{"hello"},
		{""},
		{true},
		{false},
		{int64(0)},
		{int64(1)},
		{int64(-1)},
		{int64(255)},
		{int64(256)},
		{int64(-255)},
		{int64(-256)},
		{int64(math.MaxInt64)},
		{int64(math.MinInt64)},
		{uint64(math.MaxUint64)},
		{float32(3.14)},
		{float32(-3.14)},
		{float64(3.14159)},
		{float64(-3.14159)},
		{float64(0)},
		{math.Inf(1)},
		{math.Inf(-1)},
	}
	for _, c := range cases {
		got := roundTrip(t, c)
		require.Equal(t, c, got, "tuple %#v", c)
	}
}

func TestRoundTripUUIDAndNested(t *testing.T) {
	id := uuid.New()
	tup := Tuple{id, Tuple{"inner", int64(42)}, "outer"}
	got := roundTrip(t, tup)
	require.Equal(t, tup, got)
}

func TestRoundTripBigInt(t *testing.T) {
	big1 := new(big.Int)
	big1.SetString("123456789012345678901234567890", 10)
	big2 := new(big.Int).Neg(big1)

	for _, v := range []*big.Int{big1, big2} {
		packed, err := Pack(Tuple{v})
		require.NoError(t, err)
		got, err := Unpack(packed)
		require.NoError(t, err)
		require.Equal(t, v, got[0])
	}
}

func TestEmbeddedNulInString(t *testing.T) {
	s := "a\x00b\x00c"
	got := roundTrip(t, Tuple{s})
	require.Equal(t, Tuple{s}, got)
}

func TestInvalidUTF8Rejected(t *testing.T) {
	packed, err := Pack(Tuple{[]byte{0xff, 0xfe}})
	require.NoError(t, err)
	// Force the bytes tag to the string tag to exercise validation.
	packed[0] = stringCode
	_, err = Unpack(packed)
	require.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestUnknownTagRejected(t *testing.T) {
	_, err := Unpack([]byte{0x04})
	var unknown ErrUnknownTag
	require.ErrorAs(t, err, &unknown)
}

func TestTruncatedRejected(t *testing.T) {
	_, err := Unpack([]byte{floatCode, 0x01, 0x02})
	require.Equal(t, ErrTruncated, err)
}

// TestOrderPreservationIntegers checks that packed byte order matches
// numeric order across the int64 range, including the one-byte/two-byte
// width boundary (±255/±256) and both int64 extremes. These values all
// use the fixed-width encodings; TestOrderPreservationBigInt covers the
// extended ones.
func TestOrderPreservationIntegers(t *testing.T) {
	values := []int64{
		math.MinInt64, -1 << 40, -256, -255, -1, 0, 1, 255, 256, 1 << 40, math.MaxInt64,
	}
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	require.Equal(t, values, sorted, "fixture must already be ascending")

	packed := make([][]byte, len(values))
	for i, v := range values {
		p, err := Pack(Tuple{v})
		require.NoError(t, err)
		packed[i] = p
	}
	for i := 1; i < len(packed); i++ {
		require.True(t, bytes.Compare(packed[i-1], packed[i]) < 0,
			"packed(%d) should sort before packed(%d)", values[i-1], values[i])
	}
}

func TestOrderPreservationBigInt(t *testing.T) {
	small := new(big.Int).Lsh(big.NewInt(1), 64)
	large := new(big.Int).Lsh(big.NewInt(1), 128)
	negSmall := new(big.Int).Neg(small)
	negLarge := new(big.Int).Neg(large)

	order := []*big.Int{negLarge, negSmall, big.NewInt(-1), big.NewInt(0), big.NewInt(1), small, large}
	packed := make([][]byte, len(order))
	for i, v := range order {
		p, err := Pack(Tuple{v})
		require.NoError(t, err)
		packed[i] = p
	}
	for i := 1; i < len(packed); i++ {
		require.True(t, bytes.Compare(packed[i-1], packed[i]) < 0)
	}
}

func TestOrderPreservationFloats(t *testing.T) {
	values := []float64{
		math.Inf(-1), -1.5, -0.0001, 0, 0.0001, 1.5, math.Inf(1),
	}
	packed := make([][]byte, len(values))
	for i, v := range values {
		p, err := Pack(Tuple{v})
		require.NoError(t, err)
		packed[i] = p
	}
	for i := 1; i < len(packed); i++ {
		require.True(t, bytes.Compare(packed[i-1], packed[i]) < 0)
	}
}

func TestOrderPreservationStrings(t *testing.T) {
	values := []string{"", "a", "aa", "ab", "b", "ba"}
	packed := make([][]byte, len(values))
	for i, v := range values {
		p, err := Pack(Tuple{v})
		require.NoError(t, err)
		packed[i] = p
	}
	for i := 1; i < len(packed); i++ {
		require.True(t, bytes.Compare(packed[i-1], packed[i]) < 0)
	}
}

func TestNestedTupleOrdering(t *testing.T) {
	a, err := Pack(Tuple{Tuple{"a"}})
	require.NoError(t, err)
	b, err := Pack(Tuple{Tuple{"a", "b"}})
	require.NoError(t, err)
	// "a" alone sorts before "a","b" because the nested terminator (0x00)
	// sorts before the string tag (0x02) that begins the next element.
	require.True(t, bytes.Compare(a, b) < 0)
}

func TestVersionstampIncompleteRequiresSpecialPack(t *testing.T) {
	vs := IncompleteVersionstamp(7)
	_, err := Pack(Tuple{vs})
	require.ErrorIs(t, err, ErrVersionstampArity)

	packed, err := PackWithVersionstamp(Tuple{"k", vs})
	require.NoError(t, err)
	require.True(t, len(packed) > 12)

	// The trailing offset is exactly 2 bytes (little-endian uint16), not
	// 4: packed = <"k"><versionCode><12-byte value><2-byte offset>, and
	// the offset points at the start of the 12-byte value.
	wantPos := len(packed) - 2 - 12
	gotPos := binary.LittleEndian.Uint16(packed[len(packed)-2:])
	require.Equal(t, uint16(wantPos), gotPos)
}

func TestVersionstampCompleteRoundTrips(t *testing.T) {
	vs := Versionstamp{UserVersion: 3}
	for i := range vs.TrVersion {
		vs.TrVersion[i] = byte(i)
	}
	got := roundTrip(t, Tuple{vs})
	require.Equal(t, Tuple{vs}, got)
}

func TestPackRejectsMultipleIncompleteVersionstamps(t *testing.T) {
	vs := IncompleteVersionstamp(1)
	_, err := PackWithVersionstamp(Tuple{vs, vs})
	require.ErrorIs(t, err, ErrVersionstampArity)
}

func TestPackRejectsUnsupportedType(t *testing.T) {
	_, err := Pack(Tuple{complex(1, 2)})
	require.ErrorIs(t, err, ErrUnsupportedType)
}
