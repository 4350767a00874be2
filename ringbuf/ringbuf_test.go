package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocReleaseBasic(t *testing.T) {
	rb := New(1024)
	require.Equal(t, 0, rb.Used())

	r1, err := rb.Alloc(100)
	require.NoError(t, err)
	require.Equal(t, 100, rb.Used())

	r2, err := rb.Alloc(200)
	require.NoError(t, err)
	require.Equal(t, 300, rb.Used())

	rb.Release(r1)
	require.Equal(t, 200, rb.Used())
	rb.Release(r2)
	require.Equal(t, 0, rb.Used())
}

func TestUsedNeverExceedsCapacity(t *testing.T) {
	rb := New(256)
	var live []Region
	for i := 0; i < 10; i++ {
		r, err := rb.Alloc(32)
		if err == nil {
			live = append(live, r)
		}
		require.GreaterOrEqual(t, rb.Used(), 0)
		require.LessOrEqual(t, rb.Used(), rb.Capacity())
	}
	for _, r := range live {
		rb.Release(r)
	}
	require.Equal(t, 0, rb.Used())
}

func TestAllocFailsWhenFull(t *testing.T) {
	rb := New(100)
	_, err := rb.Alloc(100)
	require.NoError(t, err)
	_, err = rb.Alloc(1)
	require.ErrorIs(t, err, ErrFull)
}

func TestAllocTooLargeForCapacity(t *testing.T) {
	rb := New(64)
	_, err := rb.Alloc(128)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestWrapAroundRetiresTailPadding(t *testing.T) {
	rb := New(100)
	r1, err := rb.Alloc(60)
	require.NoError(t, err)
	rb.Release(r1)

	// head is at 60; a 50-byte request doesn't fit in the 40-byte tail,
	// so it should wrap to offset 0, retiring the 40 wasted tail bytes.
	r2, err := rb.Alloc(50)
	require.NoError(t, err)
	require.Equal(t, 50, r2.Len())

	rb.Release(r2)
	require.Equal(t, 0, rb.Used())
}

func TestFIFOReleaseReusesCapacity(t *testing.T) {
	rb := New(128)
	for i := 0; i < 1000; i++ {
		r, err := rb.Alloc(32)
		require.NoError(t, err)
		rb.Release(r)
	}
	require.Equal(t, 0, rb.Used())
}

func TestOutOfOrderReleaseDelaysFreePointer(t *testing.T) {
	rb := New(128)
	r1, _ := rb.Alloc(32)
	r2, _ := rb.Alloc(32)

	rb.Release(r2) // out of order: free pointer can't advance past r1 yet
	require.Equal(t, 64, rb.Used())

	rb.Release(r1)
	require.Equal(t, 0, rb.Used())
}

func TestShrinkReducesFootprintAtHead(t *testing.T) {
	rb := New(128)
	r, err := rb.Alloc(64)
	require.NoError(t, err)

	shrunk, ok := rb.Shrink(r, 10)
	require.True(t, ok)
	require.Equal(t, 10, shrunk.Len())
	require.Equal(t, 10, rb.Used())

	rb.Release(shrunk)
	require.Equal(t, 0, rb.Used())
}

func TestBytesReturnsCorrectSlice(t *testing.T) {
	rb := New(64)
	r, err := rb.Alloc(8)
	require.NoError(t, err)
	b := rb.Bytes(r)
	require.Len(t, b, 8)
	copy(b, []byte("hi"))
	require.Equal(t, byte('h'), rb.Bytes(r)[0])
}
