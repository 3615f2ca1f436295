package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ozontech/fetchbuf/session/types"
)

var errDrop = errors.New("connection reset by peer")

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PrefetchBytes = math.MaxInt64
	cfg.RetryWindow = 50 * time.Millisecond
	return cfg
}

func randomData(size int) []byte {
	b := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(b) //nolint:gosec
	return b
}

// memSource serves data from memory with range support and fault injection.
type memSource struct {
	data []byte

	// failAfter обрывает i-ю попытку после указанного числа байт
	failAfter     map[int]int64
	ignoreRange   bool
	encoded       bool
	contentLength int64 // overrides the advertised length when non-zero
	gate          chan struct{}

	mu      sync.Mutex
	offsets []int64
}

func (src *memSource) factory() types.ResponseFactory {
	return func(_ context.Context, offset int64) (*http.Response, error) {
		if src.gate != nil {
			<-src.gate
		}
		src.mu.Lock()
		attempt := len(src.offsets)
		src.offsets = append(src.offsets, offset)
		src.mu.Unlock()

		size := int64(len(src.data))
		resp := &http.Response{
			StatusCode:    http.StatusOK,
			Status:        "200 OK",
			Header:        http.Header{},
			ContentLength: size,
		}
		if src.contentLength != 0 {
			resp.ContentLength = src.contentLength
		}
		if src.encoded {
			resp.Header.Set("Content-Encoding", "gzip")
			resp.ContentLength = -1
		}

		body := src.data
		if offset > 0 && !src.ignoreRange {
			body = src.data[offset:]
			resp.StatusCode, resp.Status = http.StatusPartialContent, "206 Partial Content"
			resp.ContentLength = size - offset
			resp.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, size-1, size))
		}

		var r io.Reader = bytes.NewReader(body)
		if limit, ok := src.failAfter[attempt]; ok {
			r = &dropReader{r: io.LimitReader(r, limit)}
		}
		resp.Body = io.NopCloser(r)
		return resp, nil
	}
}

func (src *memSource) requested() []int64 {
	src.mu.Lock()
	defer src.mu.Unlock()
	return append([]int64(nil), src.offsets...)
}

type dropReader struct {
	r io.Reader
}

func (d *dropReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if errors.Is(err, io.EOF) {
		return n, errDrop
	}
	return n, err
}

// pipeSource hands out a single response whose body the test writes by hand.
type pipeSource struct {
	size  int64
	pr    *io.PipeReader
	pw    *io.PipeWriter
	calls int

	mu sync.Mutex
}

func newPipeSource(size int64) *pipeSource {
	pr, pw := io.Pipe()
	return &pipeSource{size: size, pr: pr, pw: pw}
}

func (src *pipeSource) factory() types.ResponseFactory {
	return func(_ context.Context, offset int64) (*http.Response, error) {
		src.mu.Lock()
		src.calls++
		src.mu.Unlock()
		if offset != 0 {
			return nil, fmt.Errorf("pipe source cannot resume at %d", offset)
		}
		return &http.Response{
			StatusCode:    http.StatusOK,
			Status:        "200 OK",
			Header:        http.Header{},
			ContentLength: src.size,
			Body:          src.pr,
		}, nil
	}
}

func (src *pipeSource) callCount() int {
	src.mu.Lock()
	defer src.mu.Unlock()
	return src.calls
}

func newTestSession(t *testing.T, f types.ResponseFactory, cfg Config, opts ...Opt) *Session {
	t.Helper()
	s := New(context.Background(), f, cfg, zaptest.NewLogger(t), opts...)
	t.Cleanup(func() { closeAndWait(s) })
	return s
}

// closeAndWait tears s down and waits for its goroutines to stop logging.
func closeAndWait(s *Session) {
	s.Close()
	s.Wait()
}
