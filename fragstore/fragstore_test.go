package fragstore

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func addr(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("10.0.0.1"), port)
}

func TestInsertLookupRemove(t *testing.T) {
	s := New(1<<20, 10)
	key := addr(1)
	slot := &Slot{Key: key, Payload: make([]byte, 100), LastTouched: time.Now()}
	require.NoError(t, s.Insert(slot))

	got, ok := s.Lookup(key)
	require.True(t, ok)
	require.Equal(t, slot, got)

	n, bytes := s.Stats()
	require.Equal(t, 1, n)
	require.Equal(t, 100, bytes)

	s.Remove(key)
	_, ok = s.Lookup(key)
	require.False(t, ok)
	n, bytes = s.Stats()
	require.Equal(t, 0, n)
	require.Equal(t, 0, bytes)
}

func TestTooLargeSlotRejected(t *testing.T) {
	s := New(100, 10)
	slot := &Slot{Key: addr(1), Payload: make([]byte, 200), LastTouched: time.Now()}
	require.ErrorIs(t, s.Insert(slot), ErrTooLarge)
}

func TestEvictsLRUOnByteCeiling(t *testing.T) {
	s := New(150, 10)
	now := time.Now()
	old := &Slot{Key: addr(1), Payload: make([]byte, 100), LastTouched: now}
	require.NoError(t, s.Insert(old))

	newer := &Slot{Key: addr(2), Payload: make([]byte, 100), LastTouched: now.Add(time.Second)}
	require.NoError(t, s.Insert(newer))

	// old should have been evicted to make room for newer.
	_, ok := s.Lookup(addr(1))
	require.False(t, ok)
	_, ok = s.Lookup(addr(2))
	require.True(t, ok)
}

func TestEvictsLRUOnSlotCountCeiling(t *testing.T) {
	s := New(1<<20, 2)
	now := time.Now()
	require.NoError(t, s.Insert(&Slot{Key: addr(1), LastTouched: now}))
	require.NoError(t, s.Insert(&Slot{Key: addr(2), LastTouched: now.Add(time.Second)}))
	require.NoError(t, s.Insert(&Slot{Key: addr(3), LastTouched: now.Add(2 * time.Second)}))

	n, _ := s.Stats()
	require.Equal(t, 2, n)
	_, ok := s.Lookup(addr(1))
	require.False(t, ok, "oldest-touched slot should have been evicted")
}

func TestTouchUpdatesLRUOrder(t *testing.T) {
	s := New(1<<20, 2)
	now := time.Now()
	require.NoError(t, s.Insert(&Slot{Key: addr(1), LastTouched: now}))
	require.NoError(t, s.Insert(&Slot{Key: addr(2), LastTouched: now.Add(time.Second)}))

	// touch slot 1 so it's now more recent than slot 2.
	s.Touch(addr(1), now.Add(2*time.Second))

	require.NoError(t, s.Insert(&Slot{Key: addr(3), LastTouched: now.Add(3 * time.Second)}))
	_, ok := s.Lookup(addr(2))
	require.False(t, ok, "slot 2 should now be the oldest-touched and get evicted")
	_, ok = s.Lookup(addr(1))
	require.True(t, ok)
}

func TestBoundsHoldAcrossRandomInsertRemove(t *testing.T) {
	s := New(1000, 5)
	for i := 0; i < 200; i++ {
		slot := &Slot{Key: addr(uint16(i % 7)), Payload: make([]byte, 50), LastTouched: time.Now()}
		_ = s.Insert(slot)
		n, bytes := s.Stats()
		require.LessOrEqual(t, n, 5)
		require.LessOrEqual(t, bytes, 1000)
	}
}
