package session

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/ozontech/fetchbuf/session/types"
)

var (
	_ io.ReadSeekCloser    = (*Reader)(nil)
	_ types.ProgressSource = (*Reader)(nil)
)

// Reader is a cursor into a session buffer.
// A single Reader must not be used from several goroutines at once,
// except that Close may be called while a Read is waiting.
type Reader struct {
	s      *Session
	pos    atomic.Int64
	tick   chan struct{}
	linger bool
	err    error

	closed atomic.Bool
}

type ReaderOpt func(*Reader)

// WithoutLinger makes Close tear the session down right away
// if this was its last reader.
func WithoutLinger() ReaderOpt {
	return func(r *Reader) { r.linger = false }
}

func newReader(s *Session, pos int64, opts ...ReaderOpt) *Reader {
	r := &Reader{
		s:      s,
		tick:   make(chan struct{}, 1),
		linger: true,
	}
	r.pos.Store(pos)
	for _, o := range opts {
		o(r)
	}
	return r
}

// FailedReader returns a reader that fails every call with err
// without touching any session.
func FailedReader(err error) *Reader {
	return &Reader{err: err}
}

// Read blocks until at least one byte at the cursor is fetched,
// the end of the resource is reached, the session fails or the reader is closed.
func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.closed.Load() {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		if r.closed.Load() {
			return 0, ErrClosed
		}
		pos := r.pos.Load()
		// завершенная загрузка отдает чистый EOF и после закрытия сессии
		if r.s.completed.Load() && pos >= r.s.total.Load() {
			return 0, io.EOF
		}
		n, err := r.s.readAt(r, p, pos)
		if n > 0 {
			r.pos.Store(pos + int64(n))
		}
		if err != nil || n > 0 {
			return n, err
		}
		if total := r.s.total.Load(); total >= 0 && pos >= total {
			return 0, io.EOF
		}
		r.wait()
	}
}

// wait blocks until the fetch loop signals new data.
// The timeout only guards against a lost wakeup.
func (r *Reader) wait() {
	t := time.NewTimer(r.s.cfg.ReadWaitSafety)
	defer t.Stop()

	select {
	case <-r.tick:
	case <-t.C:
	}
}

// Seek moves the cursor. io.SeekEnd is not supported because the size
// may be unknown while streaming.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.pos.Load() + offset
	case io.SeekEnd:
		return 0, ErrSeekEnd
	default:
		return 0, fmt.Errorf("%w: %d", ErrWhence, whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativePosition, target)
	}

	err := r.s.move(r, target)
	if err != nil {
		return 0, err
	}
	return target, nil
}

// Close detaches the reader from its session. It is safe to call more than once.
func (r *Reader) Close() error {
	if r.err != nil {
		return nil
	}
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.s.removeReader(r, r.linger)
	// будим Read, ожидающий данных
	select {
	case r.tick <- struct{}{}:
	default:
	}
	return nil
}

func (r *Reader) Position() int64 { return r.pos.Load() }

// Err returns the error every read fails with, if any.
func (r *Reader) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.s.Err()
}

// Size returns the content length once it is known.
func (r *Reader) Size() (int64, bool) {
	if r.err != nil {
		return 0, false
	}
	return r.s.Total()
}

func (r *Reader) Speed() float64 {
	if r.err != nil {
		return 0
	}
	return r.s.Speed()
}

func (r *Reader) Progress() types.Progress {
	if r.err != nil {
		return types.Progress{Total: -1}
	}
	return r.s.Progress()
}

// Session returns the session the reader is attached to, nil for a failed reader.
func (r *Reader) Session() *Session { return r.s }
