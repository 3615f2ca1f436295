package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuffers(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	p := NewBuffers(8, 2)
	b := p.Acquire()
	a.Len(b, 8)
	b[0] = 42

	p.Release(b)
	a.Equal(1, p.Idle())

	b2 := p.Acquire()
	a.Equal(byte(42), b2[0])
	a.Equal(0, p.Idle())

	p.Release(make([]byte, 4))
	a.Equal(0, p.Idle())

	p.Release(make([]byte, 8))
	p.Release(make([]byte, 8))
	p.Release(make([]byte, 8))
	a.Equal(2, p.Idle())
}
