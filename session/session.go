// Package session implements a single shared fetch of a remote resource
// that any number of readers consume concurrently while it downloads.
//
// A Session owns an append-only buffer split into fixed-size slots. One
// background fetch loop fills it, resuming with range requests after
// transient failures. Readers block until their bytes arrive. Old slots are
// evicted once every reader has moved past them, and the session tears itself
// down some time after its last reader is closed.
package session

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ozontech/fetchbuf/session/types"
	"github.com/ozontech/fetchbuf/utils/pool"
)

type Session struct {
	cfg         Config
	getResponse types.ResponseFactory
	log         *zap.Logger
	metrics     types.Metrics
	buffers     *pool.Buffers
	onTeardown  func(err error)

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	started   atomic.Bool
	fetchDone chan struct{}

	// mu guards the slot sequence, the reader set and the lifecycle state
	mu            sync.RWMutex
	slots         [][]byte // nil элементы - вытесненные слоты
	liveSlots     int
	readers       map[*Reader]struct{}
	countdownStop chan struct{}
	closed        bool
	err           error
	body          io.Closer

	// tail is the slot being written, owned by the fetch loop
	tail []byte

	consumers      atomic.Int32
	firstAvailable atomic.Int64
	available      atomic.Int64
	total          atomic.Int64
	completed      atomic.Bool
	maxRequested   atomic.Int64

	attemptStart atomic.Int64
	attemptBytes atomic.Int64
	lastData     atomic.Int64

	idleLimiter   *rate.Limiter
	behindLimiter *rate.Limiter
}

type Opt func(*Session)

func WithMetrics(m types.Metrics) Opt {
	return func(s *Session) { s.metrics = m }
}

// WithBuffers shares a slot buffer pool between sessions.
// A pool whose buffer size differs from Config.SlotSize is ignored.
func WithBuffers(p *pool.Buffers) Opt {
	return func(s *Session) { s.buffers = p }
}

// WithOnTeardown sets a callback run once when the session is torn down,
// before Done is closed. err is the terminal fetch error, nil for an idle teardown.
func WithOnTeardown(fn func(err error)) Opt {
	return func(s *Session) { s.onTeardown = fn }
}

// New creates a session and, unless cfg.LazyStart is set, starts fetching immediately.
// The session is torn down after cfg.PrefetchGrace if no reader attaches.
func New(
	ctx context.Context,
	getResponse types.ResponseFactory,
	cfg Config,
	log *zap.Logger,
	opts ...Opt,
) *Session {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		cfg:         cfg,
		getResponse: getResponse,
		log:         log.Named("session"),
		metrics:     types.NopMetrics{},
		ctx:         ctx,
		cancel:      cancel,
		fetchDone:   make(chan struct{}),
		readers:     make(map[*Reader]struct{}),

		idleLimiter:   rate.NewLimiter(rate.Limit(cfg.IdleSpeedNoReaders), cfg.ReadChunk),
		behindLimiter: rate.NewLimiter(rate.Limit(cfg.IdleSpeedBehind), cfg.ReadChunk),
	}
	s.total.Store(-1)
	for _, o := range opts {
		o(s)
	}
	if s.buffers == nil || s.buffers.Size() != cfg.SlotSize {
		s.buffers = pool.NewBuffers(cfg.SlotSize, 2)
	}

	s.metrics.SessionStarted()
	s.log.Debug("session created", zap.Bool("lazy", cfg.LazyStart))

	s.mu.Lock()
	s.startCountdownLocked(cfg.PrefetchGrace, true, true)
	s.mu.Unlock()

	if !cfg.LazyStart {
		s.start()
	}
	return s
}

func (s *Session) start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.run()
	})
}

// Total returns the content length once it is known.
func (s *Session) Total() (int64, bool) {
	total := s.total.Load()
	return total, total >= 0
}

func (s *Session) Completed() bool { return s.completed.Load() }

// Err returns the terminal fetch error.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Session) Available() int64      { return s.available.Load() }
func (s *Session) FirstAvailable() int64 { return s.firstAvailable.Load() }
func (s *Session) ReaderCount() int      { return int(s.consumers.Load()) }

func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Wait blocks until the session is torn down and its fetch loop has exited.
func (s *Session) Wait() {
	<-s.ctx.Done()
	if s.started.Load() {
		<-s.fetchDone
	}
}

// Speed returns the transfer rate of the current fetch attempt in bytes per second.
// It is zero once no data arrived for Config.SpeedSilence.
func (s *Session) Speed() float64 {
	now := time.Now().UnixNano()
	last := s.lastData.Load()
	if last == 0 || time.Duration(now-last) > s.cfg.SpeedSilence {
		return 0
	}
	elapsed := time.Duration(now - s.attemptStart.Load())
	if elapsed <= 0 {
		return 0
	}
	return float64(s.attemptBytes.Load()) / elapsed.Seconds()
}

func (s *Session) Progress() types.Progress {
	return types.Progress{
		Transferred: s.available.Load(),
		Total:       s.total.Load(),
		Speed:       s.Speed(),
	}
}

// Close tears the session down immediately, aborting the fetch.
func (s *Session) Close() error {
	s.teardown("closed")
	return nil
}

func (s *Session) resetAttempt(t time.Time) {
	s.attemptStart.Store(t.UnixNano())
	s.attemptBytes.Store(0)
	s.lastData.Store(0)
}

// broadcast wakes every reader waiting for data.
func (s *Session) broadcast() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for r := range s.readers {
		select {
		case r.tick <- struct{}{}:
		default:
		}
	}
}

// sleep waits for d and returns false if the session was torn down meanwhile.
func (s *Session) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}
