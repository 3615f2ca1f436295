package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// NewReader attaches a reader at pos and cancels a pending teardown.
// ok is false when pos is already evicted or the session is torn down;
// the caller should start a fresh session then.
func (s *Session) NewReader(pos int64, opts ...ReaderOpt) (r *Reader, ok bool) {
	if pos < 0 {
		return nil, false
	}

	s.mu.Lock()
	if s.closed || pos < s.firstAvailable.Load() {
		s.mu.Unlock()
		return nil, false
	}
	s.stopCountdownLocked()

	r = newReader(s, pos, opts...)
	s.readers[r] = struct{}{}
	s.consumers.Add(1)
	s.mu.Unlock()

	s.log.Debug("reader attached", zap.Int64("pos", pos), zap.Int32("readers", s.consumers.Load()))
	s.start()
	return r, true
}

func (s *Session) move(r *Reader, pos int64) error {
	// под RLock вытеснение не может проскочить между проверкой и записью
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	if first := s.firstAvailable.Load(); pos < first {
		return fmt.Errorf("%w: seek to %d, first available %d", ErrEvicted, pos, first)
	}
	r.pos.Store(pos)
	return nil
}

func (s *Session) removeReader(r *Reader, linger bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.readers[r]; !ok {
		return
	}
	delete(s.readers, r)
	left := s.consumers.Add(-1)
	s.log.Debug("reader detached", zap.Int32("readers", left), zap.Bool("linger", linger))

	if left > 0 || s.closed {
		return
	}
	grace := s.cfg.NotCompletedGrace
	if !linger {
		grace = 0
	}
	s.startCountdownLocked(grace, false, linger)
}

func (s *Session) stopCountdownLocked() {
	if s.countdownStop != nil {
		close(s.countdownStop)
		s.countdownStop = nil
	}
}

func (s *Session) startCountdownLocked(grace time.Duration, initial, linger bool) {
	s.stopCountdownLocked()
	stop := make(chan struct{})
	s.countdownStop = stop
	go s.countdown(stop, grace, initial, linger)
}

// countdown tears the session down after grace unless a reader attaches.
// A completed fetch keeps the session for CompletedGrace in total so late
// readers reuse it. After readers left, a fetch still in flight keeps the
// session alive as well. A cancelled parent context tears it down at once.
func (s *Session) countdown(stop chan struct{}, grace time.Duration, initial, linger bool) {
	begin := time.Now()
	if !s.waitCountdown(stop, grace) {
		s.abandonCountdown()
		return
	}

	if linger && !initial {
		select {
		case <-s.fetchDone:
		case <-stop:
			return
		case <-s.ctx.Done():
			s.abandonCountdown()
			return
		}
	}
	if (linger || initial) && s.Completed() && !s.waitCountdown(stop, s.cfg.CompletedGrace-time.Since(begin)) {
		s.abandonCountdown()
		return
	}

	s.mu.Lock()
	if s.countdownStop != stop || len(s.readers) > 0 {
		s.mu.Unlock()
		return
	}
	s.countdownStop = nil
	finish := s.closeLocked("idle")
	s.mu.Unlock()

	finish()
}

// abandonCountdown handles a countdown that ended early: a new reader stops it
// silently, the end of the parent context is a teardown.
func (s *Session) abandonCountdown() {
	if s.ctx.Err() != nil {
		s.teardown("cancelled")
	}
}

func (s *Session) waitCountdown(stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-stop:
			return false
		default:
			return s.ctx.Err() == nil
		}
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) teardown(reason string) {
	s.mu.Lock()
	finish := s.closeLocked(reason)
	s.mu.Unlock()

	finish()
}

// closeLocked releases the buffer and returns the work that must run after unlocking.
// Closing is irreversible.
func (s *Session) closeLocked(reason string) (finish func()) {
	if s.closed {
		return func() {}
	}
	s.closed = true
	// после закрытия цикл загрузки уже не запустится
	s.startOnce.Do(func() {})
	s.slots = nil
	s.liveSlots = 0
	s.stopCountdownLocked()
	body, err := s.body, s.err
	s.body = nil

	return func() {
		s.log.Info(
			"session torn down",
			zap.String("reason", reason),
			zap.Int64("fetched", s.available.Load()),
			zap.Bool("completed", s.completed.Load()),
			zap.Error(err),
		)
		if s.onTeardown != nil {
			s.onTeardown(err)
		}
		s.cancel()
		if body != nil {
			body.Close()
		}
		s.broadcast()
		s.metrics.SessionClosed(reason)
	}
}
