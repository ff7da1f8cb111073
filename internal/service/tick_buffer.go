package service

import "crypto_view/internal/domain"

// tickBuffer is a fixed-capacity FIFO ring of ticks waiting for their asset to
// appear in a snapshot. When full, the oldest tick is overwritten.
type tickBuffer struct {
	ticks []domain.LiveTick
	head  int // index of the oldest element
	count int
}

func newTickBuffer(capacity int) *tickBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &tickBuffer{ticks: make([]domain.LiveTick, capacity)}
}

// push appends t and reports whether the oldest tick had to be evicted.
func (b *tickBuffer) push(t domain.LiveTick) (evicted bool) {
	capacity := len(b.ticks)
	if b.count == capacity {
		b.ticks[b.head] = t
		b.head = (b.head + 1) % capacity
		return true
	}
	b.ticks[(b.head+b.count)%capacity] = t
	b.count++
	return false
}

// drain visits ticks oldest first; ticks for which keep returns true stay
// buffered in arrival order.
func (b *tickBuffer) drain(keep func(domain.LiveTick) bool) {
	capacity := len(b.ticks)
	kept := 0
	for i := 0; i < b.count; i++ {
		t := b.ticks[(b.head+i)%capacity]
		if keep(t) {
			b.ticks[(b.head+kept)%capacity] = t
			kept++
		}
	}
	for i := kept; i < b.count; i++ {
		b.ticks[(b.head+i)%capacity] = domain.LiveTick{}
	}
	b.count = kept
}

func (b *tickBuffer) len() int {
	return b.count
}
