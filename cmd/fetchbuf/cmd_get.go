package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ozontech/fetchbuf/httpsource"
	"github.com/ozontech/fetchbuf/registry"
	"github.com/ozontech/fetchbuf/report/multi"
	"github.com/ozontech/fetchbuf/report/simple"
	"github.com/ozontech/fetchbuf/report/tsv"
	"github.com/ozontech/fetchbuf/session"
	"github.com/ozontech/fetchbuf/session/types"
)

type GetCommand struct {
	URL string `arg:"" required:"" help:"Resource to fetch."`

	Readers int     `default:"1" help:"Concurrent readers count."`
	Offsets []int64 `placeholder:"0,1048576" help:"Reader start offsets, reader i starts at offset i modulo the list."`
	Output  string  `short:"o" type:"path" help:"Directory for reader outputs (reader-N.part). Outputs are discarded when empty."`

	HeadersFile *os.File      `group:"request" help:"JSON file of request headers."`
	Header      []string      `group:"request" short:"H" placeholder:"Name: value" help:"Request header."`
	Timeout     time.Duration `group:"request" default:"${timeout}" help:"Connect and response header timeout."`

	TSV      string `group:"report" type:"path" help:"Tab separated progress report file."`
	NoLinger bool   `help:"Tear the download down as soon as the last reader finishes."`
	Verbose  bool   `help:"Verbose output"`

	out io.Writer
}

func (c *GetCommand) Validate() error {
	if c.Readers < 1 {
		return errors.New("--readers must be positive")
	}
	for _, off := range c.Offsets {
		if off < 0 {
			return fmt.Errorf("negative offset %d", off)
		}
	}
	return nil
}

func (c *GetCommand) Run(ctx context.Context, m types.Metrics) (err error) {
	log := zap.NewNop()
	if c.Verbose {
		log = zap.Must(zap.NewDevelopment())
	}
	defer log.Sync() //nolint:errcheck

	header, err := c.headers()
	if err != nil {
		return err
	}
	client, err := httpsource.NewClient(c.Timeout)
	if err != nil {
		return err
	}
	src := httpsource.New(client, c.URL, header, log)

	reg := registry.New(ctx, session.DefaultConfig(), log, registry.WithMetrics(m))
	defer reg.Close()

	out := c.out
	if out == nil {
		out = os.Stdout
	}
	var reporter types.Reporter = simple.New(out)
	if c.TSV != "" {
		f, createErr := os.Create(c.TSV)
		if createErr != nil {
			return fmt.Errorf("creating tsv file(%s): %w", c.TSV, createErr)
		}
		defer func() { err = multierr.Append(err, f.Close()) }()
		reporter = multi.New(tsv.New(f, time.Second), reporter)
	}
	reportErr := make(chan error, 1)
	go func() { reportErr <- reporter.Run() }()

	var opts []session.ReaderOpt
	if c.NoLinger {
		opts = append(opts, session.WithoutLinger())
	}

	begin := time.Now()
	g := new(errgroup.Group)
	var watched *session.Session
	for i := 0; i < c.Readers; i++ {
		off := c.offset(i)
		r, err := reg.Open(c.URL, off, src.Response, opts...)
		if err != nil {
			return multierr.Combine(fmt.Errorf("open reader %d: %w", i, err), g.Wait(), reporter.Close(), <-reportErr)
		}
		if s := r.Session(); s != nil && s != watched {
			watched = s
			reporter.Watch("fetch", s)
		}

		cr := &countingReader{r: r, start: off}
		reporter.Watch(fmt.Sprintf("reader-%d", i), cr)

		i := i
		g.Go(func() error {
			defer r.Close()
			return c.consume(i, cr)
		})
	}

	err = g.Wait()
	err = multierr.Combine(err, reporter.Close(), <-reportErr)
	log.Info("done", zap.Duration("took", time.Since(begin)), zap.Error(err))
	memStats(log)
	return err
}

func (c *GetCommand) offset(i int) int64 {
	if len(c.Offsets) == 0 {
		return 0
	}
	return c.Offsets[i%len(c.Offsets)]
}

func (c *GetCommand) headers() (http.Header, error) {
	header, err := httpsource.ParseHeaderLines(c.Header)
	if err != nil {
		return nil, err
	}
	if c.HeadersFile == nil {
		return header, nil
	}
	defer c.HeadersFile.Close()

	b, err := io.ReadAll(c.HeadersFile)
	if err != nil {
		return nil, fmt.Errorf("reading headers file: %w", err)
	}
	fromFile, err := httpsource.ParseHeaders(b)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		fromFile[k] = append(fromFile[k], vs...)
	}
	return fromFile, nil
}

func (c *GetCommand) consume(i int, r io.Reader) (err error) {
	w := io.Discard
	if c.Output != "" {
		f, createErr := os.Create(filepath.Join(c.Output, fmt.Sprintf("reader-%d.part", i)))
		if createErr != nil {
			return fmt.Errorf("creating output: %w", createErr)
		}
		defer func() { err = multierr.Append(err, f.Close()) }()
		w = f
	}

	_, err = io.Copy(w, r)
	if err != nil {
		return fmt.Errorf("reader %d: %w", i, err)
	}
	return nil
}

// countingReader reports how much a single reader has consumed.
type countingReader struct {
	r     *session.Reader
	start int64
	n     atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (c *countingReader) Progress() types.Progress {
	p := types.Progress{Transferred: c.n.Load(), Total: -1}
	if size, ok := c.r.Size(); ok {
		p.Total = size - c.start
	}
	return p
}

func memStats(log *zap.Logger) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	log.Info(
		"memory stats",
		zap.Uint64("Alloc (MiB)", bToMb(m.Alloc)),
		zap.Uint64("TotalAlloc (MiB)", bToMb(m.TotalAlloc)),
		zap.Uint64("Sys (MiB)", bToMb(m.Sys)),
		zap.Uint64("HeapInuse (MiB)", bToMb(m.HeapInuse)),
		zap.Uint32("NumGC (count)", m.NumGC),
	)
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
