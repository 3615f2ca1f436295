package types

import (
	"context"
	"net/http"
	"time"
)

// ResponseFactory returns a response whose body starts at byte offset.
// For offset > 0 it must issue a range request.
type ResponseFactory func(ctx context.Context, offset int64) (*http.Response, error)

// Progress is a point-in-time snapshot of a fetch.
type Progress struct {
	Transferred int64
	Total       int64   // -1 пока размер неизвестен
	Speed       float64 // bytes per second
}

func (p Progress) TotalKnown() bool { return p.Total >= 0 }

type ProgressSource interface {
	Progress() Progress
}

type Reporter interface {
	Watch(tag string, src ProgressSource) // добавить источник прогресса в отчет
	Run() error
	Close() error
}

// Metrics receives fetch loop events.
type Metrics interface {
	SessionStarted()
	SessionClosed(reason string)
	Fetched(n int)
	Retried()
	Evicted()
	Failed()
	Throttled(d time.Duration)
}

type NopMetrics struct{}

func (NopMetrics) SessionStarted()         {}
func (NopMetrics) SessionClosed(string)    {}
func (NopMetrics) Fetched(int)             {}
func (NopMetrics) Retried()                {}
func (NopMetrics) Evicted()                {}
func (NopMetrics) Failed()                 {}
func (NopMetrics) Throttled(time.Duration) {}
