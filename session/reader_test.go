package session

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderCleanEOF(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	data := randomData(5000)
	src := &memSource{data: data}
	s := newTestSession(t, src.factory(), testConfig())

	r, ok := s.NewReader(0)
	require.True(t, ok)
	defer r.Close()
	_, err := io.ReadAll(r)
	a.NoError(err)

	pos, err := r.Seek(5000, io.SeekStart)
	a.NoError(err)
	a.Equal(int64(5000), pos)

	start := time.Now()
	n, err := r.Read(make([]byte, 10))
	a.Zero(n)
	a.ErrorIs(err, io.EOF)
	a.Less(time.Since(start), time.Second)

	_, err = r.Seek(100, io.SeekStart)
	a.NoError(err)
	buf := make([]byte, 10)
	n, err = r.Read(buf)
	a.NoError(err)
	a.Equal(data[100:100+n], buf[:n])
}

func TestReaderEOFAtKnownSizeBeforeCompletion(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	src := newPipeSource(100)
	cfg := testConfig()
	cfg.StallTimeout = time.Minute
	s := newTestSession(t, src.factory(), cfg)

	r, ok := s.NewReader(0)
	require.True(t, ok)
	defer r.Close()

	// размер известен из заголовка, данных еще нет
	a.Eventually(func() bool { _, known := s.Total(); return known }, time.Second, time.Millisecond)
	_, err := r.Seek(100, io.SeekStart)
	a.NoError(err)
	_, err = r.Read(make([]byte, 1))
	a.ErrorIs(err, io.EOF)
}

func TestReaderEOFAfterTeardown(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	data := randomData(5000)
	src := &memSource{data: data}
	s := newTestSession(t, src.factory(), testConfig())

	r, ok := s.NewReader(0)
	require.True(t, ok)
	defer r.Close()
	got, err := io.ReadAll(r)
	a.NoError(err)
	a.Equal(data, got)

	a.NoError(s.Close())
	a.True(s.Closed())

	n, err := r.Read(make([]byte, 10))
	a.Zero(n)
	a.ErrorIs(err, io.EOF)
}

func TestReaderSeek(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	data := randomData(5000)
	src := &memSource{data: data}
	s := newTestSession(t, src.factory(), testConfig())

	r, ok := s.NewReader(1000)
	require.True(t, ok)
	defer r.Close()
	a.Equal(int64(1000), r.Position())

	pos, err := r.Seek(500, io.SeekCurrent)
	a.NoError(err)
	a.Equal(int64(1500), pos)

	pos, err = r.Seek(-1500, io.SeekCurrent)
	a.NoError(err)
	a.Zero(pos)

	_, err = r.Seek(-1, io.SeekCurrent)
	a.ErrorIs(err, ErrNegativePosition)

	_, err = r.Seek(0, io.SeekEnd)
	a.ErrorIs(err, ErrSeekEnd)

	_, err = r.Seek(0, 42)
	a.ErrorIs(err, ErrWhence)

	a.Zero(r.Position())
	got := make([]byte, 100)
	_, err = io.ReadFull(r, got)
	a.NoError(err)
	a.Equal(data[:100], got)
}

func TestReaderZeroLengthRead(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	src := newPipeSource(100)
	cfg := testConfig()
	cfg.StallTimeout = time.Minute
	s := newTestSession(t, src.factory(), cfg)

	r, ok := s.NewReader(0)
	require.True(t, ok)
	defer r.Close()

	n, err := r.Read(nil)
	a.Zero(n)
	a.NoError(err)
}

func TestReaderRefusesNegativePosition(t *testing.T) {
	t.Parallel()

	src := &memSource{data: randomData(100)}
	s := newTestSession(t, src.factory(), testConfig())
	_, ok := s.NewReader(-1)
	assert.False(t, ok)
}

func TestFailedReader(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	errCached := errors.New("cached failure")
	r := FailedReader(errCached)

	_, err := r.Read(make([]byte, 10))
	a.ErrorIs(err, errCached)
	_, err = r.Seek(0, io.SeekStart)
	a.ErrorIs(err, errCached)
	a.ErrorIs(r.Err(), errCached)
	a.NoError(r.Close())

	_, known := r.Size()
	a.False(known)
	a.Zero(r.Speed())
	a.False(r.Progress().TotalKnown())
	a.Nil(r.Session())
}

func TestParseContentRange(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	for _, tc := range []struct {
		in    string
		start int64
		total int64
		ok    bool
	}{
		{"bytes 0-99/100", 0, 100, true},
		{"bytes 2000000-2999999/3000000", 2000000, 3000000, true},
		{"bytes 10-19/*", 10, -1, true},
		{"bytes 10-19/15", 0, 0, false},
		{"bytes 20-10/100", 0, 0, false},
		{"bytes */100", 0, 0, false},
		{"items 0-1/2", 0, 0, false},
		{"", 0, 0, false},
	} {
		start, total, ok := parseContentRange(tc.in)
		a.Equal(tc.ok, ok, tc.in)
		a.Equal(tc.start, start, tc.in)
		a.Equal(tc.total, total, tc.in)
	}
}
