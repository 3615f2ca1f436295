package session

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ozontech/fetchbuf/session/watchdog"
)

func nowNano() int64 { return time.Now().UnixNano() }

// run is the fetch loop. It keeps resuming from the first missing byte
// until the resource is complete, the failure is fatal or the session is torn down.
func (s *Session) run() {
	defer close(s.fetchDone)
	defer s.log.Debug("fetch loop done")

	for {
		start := time.Now()
		s.resetAttempt(start)

		received, err := s.attempt()
		if err == nil {
			return
		}
		if s.aborted(err) {
			return
		}

		offset := s.available.Load()
		if received < s.cfg.TransientThreshold || errors.Is(err, ErrIntegrity) {
			s.log.Error(
				"fetch failed",
				zap.Error(err),
				zap.Int64("received", received),
				zap.Int64("offset", offset),
			)
			s.fail(err)
			return
		}

		// TODO: no cap on the number of resumes; decide on a limit once we have field data on flaky origins
		s.metrics.Retried()
		s.resetAttempt(time.Now())
		wait := s.cfg.RetryWindow - time.Since(start)
		s.log.Warn(
			"fetch interrupted, resuming",
			zap.Error(err),
			zap.Int64("received", received),
			zap.Int64("offset", offset),
			zap.Duration("wait", wait),
		)
		if !s.sleep(wait) {
			s.aborted(s.ctx.Err())
			return
		}
	}
}

// aborted reports whether the session was torn down or its context ended.
// A cancelled parent context fails the session so attached readers stop waiting.
func (s *Session) aborted(err error) bool {
	if s.Closed() {
		s.log.Debug("fetch aborted by teardown", zap.Error(err))
		return true
	}
	if s.ctx.Err() == nil {
		return false
	}
	s.fail(fmt.Errorf("fetch aborted: %w", s.ctx.Err()))
	return true
}

// attempt performs one request starting at the first missing byte.
func (s *Session) attempt() (received int64, err error) {
	offset := s.available.Load()
	log := s.log.With(zap.Int64("offset", offset))
	log.Debug("requesting")

	resp, err := s.getResponse(s.ctx, offset)
	if err != nil {
		return 0, fmt.Errorf("get response at %d: %w", offset, err)
	}
	if !s.setBody(resp.Body) {
		resp.Body.Close()
		return 0, ErrClosed
	}
	defer func() {
		s.setBody(nil)
		resp.Body.Close()
	}()

	err = s.checkResponse(resp, offset)
	if err != nil {
		return 0, err
	}
	log.Debug("response accepted", zap.Int("status", resp.StatusCode), zap.Int64("total", s.total.Load()))

	wd := watchdog.New(s.cfg.StallTimeout, func() {
		log.Debug("read stalled, aborting connection")
		resp.Body.Close()
	})
	defer wd.Stop()

	for {
		buf, err := s.writable()
		if err != nil {
			return received, err
		}

		n, err := resp.Body.Read(buf)
		if total := s.total.Load(); total >= 0 && s.available.Load()+int64(n) > total {
			return received, fmt.Errorf("%w: too many bytes, more than %d", ErrLengthMismatch, total)
		}
		if n > 0 {
			wd.Pulse()
			s.commit(n)
			received += int64(n)
			s.throttle(n)
			wd.Pulse()
		}

		switch {
		case errors.Is(err, io.EOF):
			return received, s.complete()
		case err != nil && wd.Fired():
			return received, fmt.Errorf("%w (%s) at %d: %v", ErrStalled, s.cfg.StallTimeout, s.available.Load(), err)
		case err != nil:
			return received, fmt.Errorf("read body at %d: %w", s.available.Load(), err)
		}
	}
}

func (s *Session) setBody(body io.Closer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed && body != nil {
		return false
	}
	s.body = body
	return true
}

// checkResponse validates the response against the requested offset.
func (s *Session) checkResponse(resp *http.Response, offset int64) error {
	if offset == 0 {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("%w: %s", ErrStatus, resp.Status)
		}
		if total, ok := predictTotal(resp); ok {
			s.total.Store(total)
		}
		return nil
	}

	start, _, ok := parseContentRange(resp.Header.Get("Content-Range"))
	if resp.StatusCode != http.StatusPartialContent || !ok || start != offset {
		return fmt.Errorf(
			"%w: requested offset %d, got %s with content-range %q",
			ErrRangeIgnored, offset, resp.Status, resp.Header.Get("Content-Range"),
		)
	}
	return nil
}

// complete marks the end of stream and checks the byte count against the predicted size.
func (s *Session) complete() error {
	avail := s.available.Load()
	if total := s.total.Load(); total >= 0 && total != avail {
		if avail < total {
			return fmt.Errorf("%w: too few bytes, got %d of %d", ErrLengthMismatch, avail, total)
		}
		return fmt.Errorf("%w: too many bytes, got %d of %d", ErrLengthMismatch, avail, total)
	}

	s.total.Store(avail)
	s.completed.Store(true)
	s.broadcast()
	s.log.Info("fetch completed", zap.Int64("size", avail))
	return nil
}

// fail stores the terminal error, wakes readers and tears the session down.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()

	s.metrics.Failed()
	s.broadcast()
	s.teardown("failed")
}

// throttle slows an idle fetch down once PrefetchBytes are buffered:
// to IdleSpeedNoReaders without readers, to IdleSpeedBehind when readers
// lag more than ThrottleMargin behind.
func (s *Session) throttle(n int) {
	avail := s.available.Load()
	if avail < s.cfg.PrefetchBytes {
		return
	}

	var lim *rate.Limiter
	switch {
	case s.consumers.Load() == 0:
		lim = s.idleLimiter
	case avail-s.maxRequested.Load() > s.cfg.ThrottleMargin:
		lim = s.behindLimiter
	default:
		return
	}

	r := lim.ReserveN(time.Now(), n)
	if !r.OK() {
		return
	}
	if d := r.Delay(); d > 0 {
		s.metrics.Throttled(d)
		s.sleep(d)
	}
}

// predictTotal returns the full content length of a first response.
// Encoded bodies are never trusted.
func predictTotal(resp *http.Response) (int64, bool) {
	if resp.Uncompressed {
		return 0, false
	}
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && !strings.EqualFold(enc, "identity") {
		return 0, false
	}
	if resp.StatusCode == http.StatusPartialContent {
		start, total, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if ok && start == 0 && total >= 0 {
			return total, true
		}
		return 0, false
	}
	if resp.ContentLength >= 0 {
		return resp.ContentLength, true
	}
	return 0, false
}

// parseContentRange parses "bytes first-last/total"; total is -1 for "*".
func parseContentRange(v string) (start, total int64, ok bool) {
	rest, found := strings.CutPrefix(v, "bytes ")
	if !found {
		return 0, 0, false
	}
	rng, size, found := strings.Cut(strings.TrimSpace(rest), "/")
	if !found {
		return 0, 0, false
	}
	first, last, found := strings.Cut(rng, "-")
	if !found {
		return 0, 0, false
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	if size == "*" {
		return start, -1, true
	}
	total, err = strconv.ParseInt(size, 10, 64)
	if err != nil || total <= end {
		return 0, 0, false
	}
	return start, total, true
}
