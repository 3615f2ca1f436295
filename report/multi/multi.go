package multi

import (
	"golang.org/x/sync/errgroup"

	"github.com/ozontech/fetchbuf/session/types"
)

// Multi fans progress sources out to several reporters.
type Multi struct {
	nested []types.Reporter
}

func New(nested ...types.Reporter) *Multi {
	return &Multi{nested}
}

func (m *Multi) Watch(tag string, src types.ProgressSource) {
	for _, r := range m.nested {
		r.Watch(tag, src)
	}
}

func (m *Multi) Run() error {
	g := new(errgroup.Group)
	for i := range m.nested {
		r := m.nested[i]
		g.Go(r.Run)
	}
	return g.Wait()
}

func (m *Multi) Close() error {
	g := new(errgroup.Group)
	for i := range m.nested {
		r := m.nested[i]
		g.Go(r.Close)
	}
	return g.Wait()
}
