package simple

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ozontech/fetchbuf/session/types"
)

// Reporter prints a progress line per watched source every second.
type Reporter struct {
	w        io.Writer
	closeCh  chan struct{}
	interval time.Duration

	start    time.Time
	lastTime time.Time

	mu      sync.Mutex
	sources []*source
}

type source struct {
	tag  string
	src  types.ProgressSource
	last int64
}

func New(w io.Writer) *Reporter {
	now := time.Now()
	return &Reporter{
		w:        w,
		closeCh:  make(chan struct{}),
		interval: time.Second,
		start:    now,
		lastTime: now,
	}
}

func (a *Reporter) Watch(tag string, src types.ProgressSource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources = append(a.sources, &source{tag: tag, src: src})
}

func (a *Reporter) Run() error {
	t := time.NewTicker(a.interval)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			if err := a.report(now); err != nil {
				return err
			}
		case <-a.closeCh:
			return a.total()
		}
	}
}

func (a *Reporter) Close() error {
	close(a.closeCh)
	return nil
}

func (a *Reporter) report(now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	period := now.Sub(a.lastTime)
	a.lastTime = now
	for _, s := range a.sources {
		p := s.src.Progress()
		err := a.write(s.tag, p, p.Transferred-s.last, period)
		if err != nil {
			return err
		}
		s.last = p.Transferred
	}
	return nil
}

func (a *Reporter) total() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := fmt.Fprintln(a.w, "total"); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	d := time.Since(a.start)
	for _, s := range a.sources {
		p := s.src.Progress()
		if err := a.write(s.tag, p, p.Transferred, d); err != nil {
			return err
		}
	}
	return nil
}

func (a *Reporter) write(tag string, p types.Progress, delta int64, d time.Duration) error {
	total := "?"
	percent := ""
	if p.TotalKnown() {
		total = humanize.Bytes(uint64(p.Total))
		if p.Total > 0 {
			percent = fmt.Sprintf(" %.1f%%", float64(p.Transferred)*100/float64(p.Total))
		}
	}

	rate := "0 B"
	if ms := d.Milliseconds(); ms > 0 && delta > 0 {
		rate = humanize.Bytes(uint64(delta) * 1000 / uint64(ms))
	}

	_, err := fmt.Fprintf(
		a.w,
		"%s: %s/%s%s rate=%s/s speed=%s/s\n",
		tag, humanize.Bytes(uint64(p.Transferred)), total, percent,
		rate, humanize.Bytes(uint64(p.Speed)),
	)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
