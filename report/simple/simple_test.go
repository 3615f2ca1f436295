package simple

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozontech/fetchbuf/session/types"
)

type fakeSource struct {
	transferred atomic.Int64
	total       int64
}

func (f *fakeSource) Progress() types.Progress {
	return types.Progress{Transferred: f.transferred.Load(), Total: f.total, Speed: 2000}
}

func TestReporter(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	b := new(bytes.Buffer)
	r := New(b)
	r.interval = 10 * time.Millisecond

	known := &fakeSource{total: 4000}
	known.transferred.Store(1000)
	unknown := &fakeSource{total: -1}
	r.Watch("fetch", known)
	r.Watch("reader-0", unknown)

	errChan := make(chan error)
	go func() { errChan <- r.Run() }()
	time.Sleep(50 * time.Millisecond)
	known.transferred.Store(4000)
	unknown.transferred.Store(1500)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, r.Close())
	require.NoError(t, <-errChan)

	out := b.String()
	a.Contains(out, "fetch: 1.0 kB/4.0 kB 25.0%")
	a.Contains(out, "speed=2.0 kB/s")
	a.Contains(out, "reader-0: 0 B/? rate=0 B/s")
	a.Contains(out, "total\nfetch: 4.0 kB/4.0 kB 100.0%")
	a.Contains(out, "reader-0: 1.5 kB/?")
}

func TestReporterWithoutSources(t *testing.T) {
	t.Parallel()

	b := new(bytes.Buffer)
	r := New(b)
	errChan := make(chan error)
	go func() { errChan <- r.Run() }()
	require.NoError(t, r.Close())
	require.NoError(t, <-errChan)
	assert.Equal(t, "total\n", b.String())
}
