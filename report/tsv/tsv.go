// Package tsv writes progress snapshots as tab separated lines:
//
//	unix_time_ms	tag	transferred	total	speed
package tsv

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/ozontech/fetchbuf/session/types"
)

var now = time.Now

type Reporter struct {
	closeCh  chan struct{}
	w        *bufio.Writer
	interval time.Duration
	line     []byte

	mu      sync.Mutex
	sources []source
}

type source struct {
	tag string
	src types.ProgressSource
}

func New(w io.Writer, interval time.Duration) *Reporter {
	return &Reporter{
		closeCh:  make(chan struct{}),
		w:        bufio.NewWriter(w),
		interval: interval,
		line:     make([]byte, 0, 128),
	}
}

func (r *Reporter) Watch(tag string, src types.ProgressSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, source{tag, src})
}

// Run writes a snapshot of every source each interval and a last one on Close.
func (r *Reporter) Run() error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := r.snapshot(); err != nil {
				return err
			}
		case <-r.closeCh:
			return multierr.Append(r.snapshot(), r.w.Flush())
		}
	}
}

func (r *Reporter) Close() error {
	close(r.closeCh)
	return nil
}

func (r *Reporter) snapshot() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := now()
	for _, s := range r.sources {
		_, err := r.w.Write(r.result(ts, s.tag, s.src.Progress()))
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	// строки нужны на диске до завершения загрузки
	if err := r.w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

const tabChar = '\t'

func (r *Reporter) result(ts time.Time, tag string, p types.Progress) []byte {
	r.line = r.line[:0]
	r.line = strconv.AppendInt(r.line, ts.Unix(), 10)
	r.line = append(r.line, '.')
	r.line = strconv.AppendInt(r.line, int64(ts.Nanosecond()/1e6), 10)
	r.line = append(r.line, tabChar)
	r.line = append(r.line, tag...)
	r.line = append(r.line, tabChar)
	r.line = strconv.AppendInt(r.line, p.Transferred, 10)
	r.line = append(r.line, tabChar)
	r.line = strconv.AppendInt(r.line, p.Total, 10)
	r.line = append(r.line, tabChar)
	r.line = strconv.AppendInt(r.line, int64(p.Speed), 10)
	r.line = append(r.line, '\n')
	return r.line
}
