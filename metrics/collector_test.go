package metrics

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ozontech/fetchbuf/session"
)

func TestCollector(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	c := NewCollector("test", prometheus.NewRegistry())
	c.SessionStarted()
	c.SessionStarted()
	c.SessionClosed("idle")
	c.Fetched(100)
	c.Fetched(28)
	c.Retried()
	c.Evicted()
	c.Evicted()
	c.Failed()
	c.Throttled(10 * time.Millisecond)

	a.Equal(2.0, testutil.ToFloat64(c.sessionsStarted))
	a.Equal(1.0, testutil.ToFloat64(c.sessionsActive))
	a.Equal(1.0, testutil.ToFloat64(c.sessionsClosed.WithLabelValues("idle")))
	a.Equal(128.0, testutil.ToFloat64(c.fetchedBytes))
	a.Equal(1.0, testutil.ToFloat64(c.retries))
	a.Equal(2.0, testutil.ToFloat64(c.evictions))
	a.Equal(1.0, testutil.ToFloat64(c.failures))
	a.Equal(1, testutil.CollectAndCount(c.throttled))
}

func TestCollectorDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	NewCollector("test", reg)
	assert.Panics(t, func() { NewCollector("test", reg) })
	assert.NotPanics(t, func() { NewCollector("other", reg) })
}

func TestCollectorWithSession(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	data := bytes.Repeat([]byte("x"), 5000)
	factory := func(context.Context, int64) (*http.Response, error) {
		return &http.Response{
			StatusCode:    http.StatusOK,
			Header:        http.Header{},
			ContentLength: int64(len(data)),
			Body:          io.NopCloser(bytes.NewReader(data)),
		}, nil
	}

	c := NewCollector("test", prometheus.NewRegistry())
	s := session.New(context.Background(), factory, session.DefaultConfig(), zaptest.NewLogger(t), session.WithMetrics(c))
	r, ok := s.NewReader(0)
	require.True(t, ok)
	got, err := io.ReadAll(r)
	a.NoError(err)
	a.Len(got, len(data))
	a.NoError(r.Close())

	a.NoError(s.Close())
	s.Wait()
	a.Equal(5000.0, testutil.ToFloat64(c.fetchedBytes))
	a.Equal(1.0, testutil.ToFloat64(c.sessionsClosed.WithLabelValues("closed")))
	a.Zero(testutil.ToFloat64(c.sessionsActive))
}
