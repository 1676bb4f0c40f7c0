package atomics

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

// word is a 4-byte aligned group of narrow cells sharing one 32-bit word.
type word struct {
	_ [0]uint32
	b [4]uint8
}

func TestSubwordLeavesNeighboursAlone(t *testing.T) {
	var w word
	for i := range w.b {
		Init(&w.b[i], uint8(0x10*(i+1)))
	}

	assert.Equal(t, uint8(0x20), Exchange(&w.b[1], 0xab))
	assert.Equal(t, [4]uint8{0x10, 0xab, 0x30, 0x40}, w.b)

	e := uint8(0x30)
	assert.True(t, CompareExchangeStrong(&w.b[2], &e, 0xcd))
	assert.Equal(t, uint8(0x40), FetchAdd(&w.b[3], 0xc0))
	assert.Equal(t, [4]uint8{0x10, 0xab, 0xcd, 0x00}, w.b)

	halves := (*[2]uint16)(unsafe.Pointer(&w.b))
	Store(&halves[1], 0xbeef)
	assert.Equal(t, uint16(0xbeef), Load(&halves[1]))
	assert.Equal(t, uint8(0x10), Load(&w.b[0]))
	assert.Equal(t, uint8(0xab), Load(&w.b[1]))
}

func TestSubwordConcurrentNeighbours(t *testing.T) {
	const iters = 1000
	var w word
	var wg sync.WaitGroup
	for i := range w.b {
		wg.Add(1)
		go func(p *uint8) {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				FetchAddExplicit(p, 1, Relaxed)
			}
		}(&w.b[i])
	}
	wg.Wait()
	for i := range w.b {
		assert.Equal(t, uint8(iters%256), Load(&w.b[i]), "byte %d", i)
	}
}

func TestSubwordCompareExchangeIgnoresNeighbourChurn(t *testing.T) {
	var w word
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				FetchAddExplicit(&w.b[0], 1, Relaxed)
			}
		}
	}()

	// A strong exchange on b[1] must never fail because b[0] moved.
	for i := 0; i < 10000; i++ {
		e := uint8(i)
		if !assert.True(t, CompareExchangeStrong(&w.b[1], &e, uint8(i+1))) {
			break
		}
	}
	close(stop)
	<-done
}

func TestCas32ReportsCurrentValue(t *testing.T) {
	var x uint32 = 9
	e := uint32(1)
	assert.False(t, cas32(&x, &e, 2))
	assert.Equal(t, uint32(9), e)
	assert.True(t, cas32(&x, &e, 2))
	assert.Equal(t, uint32(2), x)
}

func TestXaddReturnsOld(t *testing.T) {
	var x32 uint32 = 5
	assert.Equal(t, uint32(5), xadd32(&x32, ^uint32(0)))
	assert.Equal(t, uint32(4), x32)

	var x64 uint64 = 1
	assert.Equal(t, uint64(1), xadd64(&x64, 2))
	assert.Equal(t, uint64(3), x64)
}
