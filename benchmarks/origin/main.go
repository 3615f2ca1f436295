// Command origin serves a random payload with range support and injected
// failures. It is the counterpart of fetchbuf in manual benchmarks.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	_ "net/http/pprof" //nolint:gosec
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	bytesOUT   atomic.Uint64
	requestsIN atomic.Uint64
	dropped    atomic.Uint64
)

var CLI struct {
	Addr      string `default:":8080" help:"Listen address."`
	Size      string `default:"64MB" help:"Payload size."`
	DropAfter string `default:"0" help:"Break every --drop-every response after this many bytes."`
	DropEvery uint64 `default:"0" help:"Break every N-th response, 0 disables failures."`
	Rate      string `default:"0" help:"Bandwidth of a single response per second, 0 is unlimited."`
}

func main() {
	kong.Parse(&CLI, kong.Description("flaky http origin"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	o, err := newOrigin()
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.Handle("/", o)
	mux.Handle("/debug/", http.DefaultServeMux)
	srv := &http.Server{Addr: CLI.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Close()
	})
	g.Go(func() error {
		stats(ctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		fmt.Println("server exited: " + err.Error())
		os.Exit(1)
	}
}

func newOrigin() (*origin, error) {
	size, err := humanize.ParseBytes(CLI.Size)
	if err != nil {
		return nil, fmt.Errorf("--size: %w", err)
	}
	dropAfter, err := humanize.ParseBytes(CLI.DropAfter)
	if err != nil {
		return nil, fmt.Errorf("--drop-after: %w", err)
	}
	bps, err := humanize.ParseBytes(CLI.Rate)
	if err != nil {
		return nil, fmt.Errorf("--rate: %w", err)
	}

	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data) //nolint:gosec
	return &origin{
		data:      data,
		dropAfter: int64(dropAfter),
		dropEvery: CLI.DropEvery,
		rate:      rate.Limit(bps),
	}, nil
}

func stats(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := bytesOUT.Swap(0); n > 0 {
				println(
					"bytesOUT:", humanize.Bytes(n),
					"requestsIN:", requestsIN.Swap(0),
					"dropped:", dropped.Swap(0),
				)
			}
		}
	}
}

type origin struct {
	data      []byte
	dropAfter int64
	dropEvery uint64
	rate      rate.Limit // 0 - без ограничения

	served atomic.Uint64
}

func (o *origin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestsIN.Add(1)
	body := &payload{ReadSeeker: bytes.NewReader(o.data), ctx: r.Context(), dropAfter: -1}
	if o.dropEvery > 0 && o.served.Add(1)%o.dropEvery == 0 {
		body.dropAfter = o.dropAfter
	}
	if o.rate > 0 {
		body.limiter = rate.NewLimiter(o.rate, chunk)
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, "payload", time.Time{}, body)
}

const chunk = 32 * 1024

var errDropped = errors.New("dropped on purpose")

// payload counts, throttles and breaks the bytes it serves.
type payload struct {
	io.ReadSeeker
	ctx       context.Context
	limiter   *rate.Limiter
	dropAfter int64
	sent      int64
}

func (p *payload) Read(b []byte) (int, error) {
	if p.dropAfter >= 0 && p.sent >= p.dropAfter {
		dropped.Add(1)
		return 0, errDropped
	}
	if len(b) > chunk {
		b = b[:chunk]
	}
	if p.dropAfter >= 0 && int64(len(b)) > p.dropAfter-p.sent {
		b = b[:p.dropAfter-p.sent]
	}
	if p.limiter != nil {
		if err := p.limiter.WaitN(p.ctx, len(b)); err != nil {
			return 0, err
		}
	}

	n, err := p.ReadSeeker.Read(b)
	p.sent += int64(n)
	bytesOUT.Add(uint64(n))
	return n, err
}
