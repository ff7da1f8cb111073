package domain

import "sync/atomic"

// SeqSource hands out receipt sequence numbers shared by the snapshot fetcher and
// every live feed, so snapshot and tick ordering can be compared directly.
// The zero value is ready to use; the first number issued is 1.
type SeqSource struct {
	n atomic.Uint64
}

// Next returns the next sequence number.
func (s *SeqSource) Next() uint64 {
	return s.n.Add(1)
}

// Current returns the last issued sequence number (0 if none).
func (s *SeqSource) Current() uint64 {
	return s.n.Load()
}
