package atomics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip[T Integer](t *testing.T, vals ...T) {
	t.Helper()
	var x T
	Init(&x, vals[0])
	assert.Equal(t, vals[0], Load(&x))
	for _, v := range vals {
		Store(&x, v)
		assert.Equal(t, v, Load(&x))
		for _, o := range []MemoryOrder{Relaxed, Release, SeqCst} {
			StoreExplicit(&x, v, o)
			assert.Equal(t, v, LoadExplicit(&x, Acquire))
		}
	}
}

func TestLoadStoreRoundTrip(t *testing.T) {
	roundTrip[int8](t, 10, 20, -5, math.MinInt8, math.MaxInt8, -1)
	roundTrip[uint8](t, 0, 1, 0x80, math.MaxUint8)
	roundTrip[int16](t, 10, math.MinInt16, math.MaxInt16, -1)
	roundTrip[uint16](t, 0, 0x8001, math.MaxUint16)
	roundTrip[int32](t, 10, 20, -5, math.MinInt32, math.MaxInt32)
	roundTrip[uint32](t, 0, 0xdeadbeef, math.MaxUint32)
	roundTrip[int64](t, 10, math.MinInt64, math.MaxInt64, -1)
	roundTrip[uint64](t, 0, 0xdeadbeefcafef00d, math.MaxUint64)
	roundTrip[int](t, 0, -1, math.MaxInt)
	roundTrip[uint](t, 0, 1, math.MaxUint)
	roundTrip[uintptr](t, 0, 1, ^uintptr(0))

	type handle uint32
	roundTrip[handle](t, 7, 9)
}

func TestExchange(t *testing.T) {
	var a int16
	Init(&a, -3)
	assert.Equal(t, int16(-3), Exchange(&a, 12))
	assert.Equal(t, int16(12), ExchangeExplicit(&a, 13, Acquire))
	assert.Equal(t, int16(13), Load(&a))
}

// Cell initialized to 42: CAS(42 -> 100) succeeds, then CAS(50 -> 200) fails
// and reports 100.
func TestCompareExchangeScenario(t *testing.T) {
	var a int32
	Init(&a, 42)

	expected, desired := int32(42), int32(100)
	require.True(t, CompareExchangeStrong(&a, &expected, desired))
	assert.Equal(t, int32(100), Load(&a))
	assert.Equal(t, int32(42), expected)

	expected, desired = 50, 200
	require.False(t, CompareExchangeStrong(&a, &expected, desired))
	assert.Equal(t, int32(100), Load(&a))
	assert.Equal(t, int32(100), expected)
}

func compareExchange[T Integer](t *testing.T, old, new, other T) {
	t.Helper()
	var x T
	Init(&x, old)

	e := other
	assert.False(t, CompareExchangeStrong(&x, &e, new))
	assert.Equal(t, old, e, "expected must receive the current value")
	assert.Equal(t, old, Load(&x), "failed exchange must not modify the cell")

	e = old
	assert.True(t, CompareExchangeWeakExplicit(&x, &e, new, AcqRel, Acquire))
	assert.Equal(t, old, e)
	assert.Equal(t, new, Load(&x))
}

func TestCompareExchangeAllWidths(t *testing.T) {
	compareExchange[int8](t, -1, 5, 4)
	compareExchange[uint8](t, 0xff, 0, 0xfe)
	compareExchange[int16](t, math.MinInt16, 0, 1)
	compareExchange[uint16](t, 0xabcd, 0xdcba, 0)
	compareExchange[int32](t, 42, 100, 50)
	compareExchange[uint32](t, math.MaxUint32, 0, 1)
	compareExchange[int64](t, math.MinInt64, math.MaxInt64, 0)
	compareExchange[uint64](t, 1<<63, 1, 2)
	compareExchange[uintptr](t, 1, 2, 3)
}

func TestFetchAddSub(t *testing.T) {
	var a int32
	Init(&a, 0)
	assert.Equal(t, int32(0), FetchAdd(&a, 10))
	assert.Equal(t, int32(10), Load(&a))
	assert.Equal(t, int32(10), FetchSub(&a, 5))
	assert.Equal(t, int32(5), Load(&a))

	var u uint8
	Init(&u, math.MaxUint8)
	assert.Equal(t, uint8(math.MaxUint8), FetchAdd(&u, 1))
	assert.Equal(t, uint8(0), Load(&u), "narrow cells wrap within their width")
	assert.Equal(t, uint8(0), FetchSubExplicit(&u, 1, Relaxed))
	assert.Equal(t, uint8(math.MaxUint8), Load(&u))

	var s int16
	assert.Equal(t, int16(0), FetchSub(&s, 1))
	assert.Equal(t, int16(-1), Load(&s))

	var w uint64
	assert.Equal(t, uint64(0), FetchSub(&w, 1))
	assert.Equal(t, uint64(math.MaxUint64), Load(&w))
}

func TestFetchXor(t *testing.T) {
	var a int32
	Init(&a, 0)

	assert.Equal(t, int32(0), FetchXor(&a, 0))
	assert.Equal(t, int32(0), Load(&a))
	assert.Equal(t, int32(0), FetchXor(&a, 1))
	assert.Equal(t, int32(1), Load(&a))
	assert.Equal(t, int32(1), FetchXor(&a, 1))
	assert.Equal(t, int32(0), Load(&a))
}

func xorInvolution[T Integer](t *testing.T, start, mask T) {
	t.Helper()
	var x T
	Init(&x, start)
	FetchXor(&x, 0)
	assert.Equal(t, start, Load(&x))
	assert.Equal(t, start, FetchXorExplicit(&x, mask, Relaxed))
	assert.Equal(t, start^mask, FetchXor(&x, mask))
	assert.Equal(t, start, Load(&x))
}

func TestFetchXorInvolution(t *testing.T) {
	xorInvolution[int8](t, -7, 0x55)
	xorInvolution[uint16](t, 0x1234, 0xffff)
	xorInvolution[int32](t, math.MinInt32, -1)
	xorInvolution[uint64](t, 0xdeadbeef, 1<<40)
}

func TestFetchAndOr(t *testing.T) {
	var a uint16
	Init(&a, 0b1100)
	assert.Equal(t, uint16(0b1100), FetchAnd(&a, 0b1010))
	assert.Equal(t, uint16(0b1000), Load(&a))
	assert.Equal(t, uint16(0b1000), FetchOr(&a, 0b0011))
	assert.Equal(t, uint16(0b1011), Load(&a))
	assert.Equal(t, uint16(0b1011), FetchAndExplicit(&a, 0, Release))
	assert.Equal(t, uint16(0), FetchOrExplicit(&a, 0xffff, Acquire))
	assert.Equal(t, uint16(0xffff), Load(&a))

	var b int64
	assert.Equal(t, int64(0), FetchOr(&b, -1))
	assert.Equal(t, int64(-1), FetchAnd(&b, 1<<62))
	assert.Equal(t, int64(1<<62), Load(&b))
}

func TestInvalidOrderActsAsSeqCst(t *testing.T) {
	var a uint32
	StoreExplicit(&a, 3, MemoryOrder(42))
	assert.Equal(t, uint32(3), LoadExplicit(&a, MemoryOrder(-1)))
}
