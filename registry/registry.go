// Package registry keeps one live session per resource key so that
// concurrent consumers of the same resource share a single download.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ozontech/fetchbuf/session"
	"github.com/ozontech/fetchbuf/session/types"
	"github.com/ozontech/fetchbuf/utils/lru"
	"github.com/ozontech/fetchbuf/utils/pool"
)

var ErrClosed = errors.New("registry closed")

const (
	DefaultFailureCacheSize = 1024
	DefaultFailureTTL       = time.Minute
	// свободные буферы держим с запасом на пару сессий
	DefaultIdleBuffers = 16
)

type Registry struct {
	ctx     context.Context
	cfg     session.Config
	log     *zap.Logger
	metrics types.Metrics
	buffers *pool.Buffers

	failureSize int
	failureTTL  time.Duration
	failures    *lru.LRU[string, error]

	nextID atomic.Uint32
	wg     sync.WaitGroup

	// mu берется раньше мьютекса сессии
	mu       sync.Mutex
	sessions map[string]entry
	closed   bool
}

type entry struct {
	id uint32
	s  *session.Session
}

type Opt func(*Registry)

func WithMetrics(m types.Metrics) Opt {
	return func(r *Registry) { r.metrics = m }
}

// WithFailureCache sets how many recent failures are remembered and for how long.
func WithFailureCache(size int, ttl time.Duration) Opt {
	return func(r *Registry) { r.failureSize, r.failureTTL = size, ttl }
}

func New(ctx context.Context, cfg session.Config, log *zap.Logger, opts ...Opt) *Registry {
	r := &Registry{
		ctx:         ctx,
		cfg:         cfg,
		log:         log.Named("registry"),
		metrics:     types.NopMetrics{},
		failureSize: DefaultFailureCacheSize,
		failureTTL:  DefaultFailureTTL,
		sessions:    make(map[string]entry),
	}
	for _, o := range opts {
		o(r)
	}
	r.failures = lru.New[string, error](r.failureSize, r.failureTTL)

	slotSize := cfg.SlotSize
	if slotSize <= 0 {
		slotSize = session.DefaultConfig().SlotSize
	}
	r.buffers = pool.NewBuffers(slotSize, DefaultIdleBuffers)
	return r
}

// Open returns a reader positioned at pos on the live session for key.
// A new session fetching through getResponse is started when there is none
// or the live one can no longer serve pos.
// A key that failed recently gets a reader replaying the cached failure.
func (r *Registry) Open(
	key string,
	pos int64,
	getResponse types.ResponseFactory,
	opts ...session.ReaderOpt,
) (*session.Reader, error) {
	if pos < 0 {
		return nil, fmt.Errorf("%w: %d", session.ErrNegativePosition, pos)
	}
	if err, ok := r.failures.Get(key); ok {
		r.log.Debug("replaying cached failure", zap.String("key", key), zap.Error(err))
		return session.FailedReader(err), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if e, ok := r.sessions[key]; ok {
		if rd, ok := e.s.NewReader(pos, opts...); ok {
			return rd, nil
		}
		r.log.Debug("live session cannot serve position, starting a new one", zap.String("key", key), zap.Int64("pos", pos))
	}

	s := r.startLocked(key, getResponse)
	rd, ok := s.NewReader(pos, opts...)
	if !ok {
		// свежая сессия отказывает только если ее успели закрыть
		return nil, fmt.Errorf("open %q at %d: %w", key, pos, session.ErrClosed)
	}
	return rd, nil
}

func (r *Registry) startLocked(key string, getResponse types.ResponseFactory) *session.Session {
	id := r.nextID.Add(1)
	log := r.log.With(zap.Uint32("session-id", id), zap.String("key", key))

	s := session.New(
		r.ctx,
		getResponse,
		r.cfg,
		log,
		session.WithMetrics(r.metrics),
		session.WithBuffers(r.buffers),
		session.WithOnTeardown(func(err error) { r.forget(key, id, err) }),
	)
	r.sessions[key] = entry{id: id, s: s}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		s.Wait()
	}()
	return s
}

// forget drops a torn down session and remembers its failure
// unless a newer session already took its place.
func (r *Registry) forget(key string, id uint32, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[key]
	if !ok || e.id != id {
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, session.ErrClosed) {
		r.log.Debug("caching failure", zap.String("key", key), zap.Error(err))
		r.failures.Add(key, err)
	}
	delete(r.sessions, key)
}

// Forgive removes a cached failure so that the next Open retries key.
func (r *Registry) Forgive(key string) {
	r.failures.Remove(key)
}

// Session returns the live session for key.
func (r *Registry) Session(key string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[key]
	return e.s, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close tears down every live session and waits until the fetch loops of all
// sessions ever started have exited. Open fails afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.wg.Wait()
		return nil
	}
	r.closed = true
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		sessions = append(sessions, e.s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	r.wg.Wait()
	return nil
}
