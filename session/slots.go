package session

import (
	"fmt"
	"math"
)

// writable returns free space at the end of the buffer for the next network read.
// Only the fetch loop calls it.
func (s *Session) writable() ([]byte, error) {
	size := int64(s.cfg.SlotSize)
	avail := s.available.Load()
	off := int(avail % size)

	if off == 0 {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		s.evictLocked()
		s.tail = s.buffers.Acquire()
		s.slots = append(s.slots, s.tail)
		s.liveSlots++
		s.mu.Unlock()
	}

	n := s.cfg.ReadChunk
	if rest := len(s.tail) - off; rest < n {
		n = rest
	}
	return s.tail[off : off+n], nil
}

// commit publishes n bytes written into the slice returned by writable.
func (s *Session) commit(n int) {
	s.available.Add(int64(n))
	s.attemptBytes.Add(int64(n))
	s.lastData.Store(nowNano())
	s.metrics.Fetched(n)
	s.broadcast()
}

// evictLocked drops the oldest slots while the buffer is at capacity
// and every reader has moved past them.
func (s *Session) evictLocked() {
	size := int64(s.cfg.SlotSize)
	for s.liveSlots >= s.cfg.MaxSlots {
		first := s.firstAvailable.Load()
		oldest := first / size
		end := (oldest + 1) * size
		if end > s.minCursorLocked() {
			// кто-то из читателей еще не дочитал слот, растем дальше
			return
		}

		buf := s.slots[oldest]
		s.slots[oldest] = nil
		s.liveSlots--
		s.firstAvailable.Store(end)
		s.buffers.Release(buf)
		s.metrics.Evicted()
	}
}

func (s *Session) minCursorLocked() int64 {
	lowest := int64(math.MaxInt64)
	for r := range s.readers {
		if pos := r.pos.Load(); pos < lowest {
			lowest = pos
		}
	}
	return lowest
}

// readAt copies buffered bytes starting at pos into r's buffer p.
// It returns 0, nil when pos is not fetched yet.
// The copy runs under the read lock so that a slot cannot be recycled under it.
func (s *Session) readAt(r *Reader, p []byte, pos int64) (int, error) {
	s.bumpRequested(pos + int64(len(p)))

	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case r.closed.Load():
		// курсор закрытого читателя больше не держит вытеснение
		return 0, ErrClosed
	case s.err != nil:
		return 0, s.err
	case s.closed:
		return 0, ErrClosed
	}

	avail := s.available.Load()
	if pos >= avail {
		return 0, nil
	}
	if pos < s.firstAvailable.Load() {
		return 0, fmt.Errorf("%w: read at %d", ErrEvicted, pos)
	}

	size := int64(s.cfg.SlotSize)
	n := 0
	for n < len(p) && pos < avail {
		idx := pos / size
		var slot []byte
		if idx < int64(len(s.slots)) {
			slot = s.slots[idx]
		}
		if slot == nil {
			return n, fmt.Errorf("%w: slot %d at %d", ErrEvicted, idx, pos)
		}

		end := avail - idx*size
		if end > size {
			end = size
		}
		c := copy(p[n:], slot[pos-idx*size:end])
		n += c
		pos += int64(c)
	}
	return n, nil
}

func (s *Session) bumpRequested(v int64) {
	for {
		cur := s.maxRequested.Load()
		if v <= cur || s.maxRequested.CompareAndSwap(cur, v) {
			return
		}
	}
}
