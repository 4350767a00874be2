package transport

import "sync/atomic"

// Stats accumulates the counters the specification calls for: completed
// receives, discarded datagrams by reason, and fragment-store pressure.
// Grounded on the counter set original_source/zcm/udpm.cpp maintains
// (rx, rx_bytes, discarded_lo, discarded_bad, discarded_overflow) plus
// fragments_timeout for stale-slot replacement, which the distilled
// specification only gestures at ("periodic one-line report").
type Stats struct {
	Rx                 uint64
	RxBytes            uint64
	Tx                 uint64
	TxBytes            uint64
	DiscardedBad       uint64 // malformed datagrams (BAD_PACKET)
	DiscardedOverflow  uint64 // fragment-store insertions rejected (TOO_LARGE)
	FragmentsStale     uint64 // slots dropped on sequence/size mismatch
	RingBufferFallback uint64 // datagrams that fell back to heap buffers
}

func (s *Stats) incRx(n int) {
	atomic.AddUint64(&s.Rx, 1)
	atomic.AddUint64(&s.RxBytes, uint64(n))
}

func (s *Stats) incTx(n int) {
	atomic.AddUint64(&s.Tx, 1)
	atomic.AddUint64(&s.TxBytes, uint64(n))
}

func (s *Stats) incDiscardedBad()       { atomic.AddUint64(&s.DiscardedBad, 1) }
func (s *Stats) incDiscardedOverflow()  { atomic.AddUint64(&s.DiscardedOverflow, 1) }
func (s *Stats) incFragmentsStale()     { atomic.AddUint64(&s.FragmentsStale, 1) }
func (s *Stats) incRingBufferFallback() { atomic.AddUint64(&s.RingBufferFallback, 1) }

// Snapshot returns a copy of the current counters, safe to read
// concurrently with the receive loop.
func (s *Stats) Snapshot() Stats {
	return Stats{
		Rx:                 atomic.LoadUint64(&s.Rx),
		RxBytes:            atomic.LoadUint64(&s.RxBytes),
		Tx:                 atomic.LoadUint64(&s.Tx),
		TxBytes:            atomic.LoadUint64(&s.TxBytes),
		DiscardedBad:       atomic.LoadUint64(&s.DiscardedBad),
		DiscardedOverflow:  atomic.LoadUint64(&s.DiscardedOverflow),
		FragmentsStale:     atomic.LoadUint64(&s.FragmentsStale),
		RingBufferFallback: atomic.LoadUint64(&s.RingBufferFallback),
	}
}
