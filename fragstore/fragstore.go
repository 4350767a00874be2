// Package fragstore implements the bounded, per-sender fragment
// reassembly store: a map of in-flight reassembly buffers keyed by
// sender address, bounded jointly by total byte count and slot count,
// evicting least-recently-touched slots to make room.
//
// Per the transport's concurrency model, a Store is owned exclusively by
// the receive-driving execution context and needs no internal locking.
package fragstore

import (
	"errors"
	"net/netip"
	"time"
)

// ErrTooLarge is returned by Insert when the slot being inserted cannot
// fit even after evicting every other slot, because its own payload
// exceeds the total byte ceiling.
var ErrTooLarge = errors.New("fragstore: slot exceeds total byte ceiling")

// Slot is a per-sender reassembly buffer for one in-flight message.
type Slot struct {
	Key                netip.AddrPort
	Channel            string
	MsgSeqno           uint32
	TotalMessageSize   uint32
	FragmentsRemaining int
	Payload            []byte
	LastTouched        time.Time
}

// Store is a bounded associative container of Slots keyed by sender.
type Store struct {
	maxTotalBytes int
	maxNumSlots   int
	slots         map[netip.AddrPort]*Slot
	totalBytes    int
}

// New creates a Store enforcing the given total-bytes and slot-count
// ceilings.
func New(maxTotalBytes, maxNumSlots int) *Store {
	return &Store{
		maxTotalBytes: maxTotalBytes,
		maxNumSlots:   maxNumSlots,
		slots:         make(map[netip.AddrPort]*Slot),
	}
}

// Lookup returns the slot for key, if one exists.
func (s *Store) Lookup(key netip.AddrPort) (*Slot, bool) {
	slot, ok := s.slots[key]
	return slot, ok
}

// Insert adds slot to the store, evicting least-recently-touched slots
// (by Slot.LastTouched) until both the byte and slot-count ceilings are
// satisfied. It fails with ErrTooLarge if slot's own payload can never
// fit under the byte ceiling, even with the store otherwise empty.
func (s *Store) Insert(slot *Slot) error {
	size := len(slot.Payload)
	if size > s.maxTotalBytes {
		return ErrTooLarge
	}

	for s.totalBytes+size > s.maxTotalBytes || len(s.slots)+1 > s.maxNumSlots {
		if !s.evictOldest() {
			// Nothing left to evict but still over budget: the only way
			// this happens is maxNumSlots == 0, a misconfiguration.
			return ErrTooLarge
		}
	}

	s.slots[slot.Key] = slot
	s.totalBytes += size
	return nil
}

// Remove deletes the slot for key, if present.
func (s *Store) Remove(key netip.AddrPort) {
	if slot, ok := s.slots[key]; ok {
		s.totalBytes -= len(slot.Payload)
		delete(s.slots, key)
	}
}

// Touch updates a slot's LastTouched timestamp, used on every fragment
// arrival for a slot so LRU eviction reflects recent activity, not just
// creation order.
func (s *Store) Touch(key netip.AddrPort, at time.Time) {
	if slot, ok := s.slots[key]; ok {
		slot.LastTouched = at
	}
}

// Stats reports the current slot count and total reserved payload bytes.
func (s *Store) Stats() (numSlots, totalBytes int) {
	return len(s.slots), s.totalBytes
}

func (s *Store) evictOldest() bool {
	var oldestKey netip.AddrPort
	var oldest *Slot
	for k, slot := range s.slots {
		if oldest == nil || slot.LastTouched.Before(oldest.LastTouched) {
			oldest = slot
			oldestKey = k
		}
	}
	if oldest == nil {
		return false
	}
	s.Remove(oldestKey)
	return true
}
