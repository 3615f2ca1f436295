package pool

import "sync"

// Buffers keeps fixed-size byte buffers for reuse.
type Buffers struct {
	mu   sync.Mutex
	size int
	max  int
	s    [][]byte
}

// NewBuffers creates a pool of size-byte buffers that retains at most max idle ones.
func NewBuffers(size, max int) *Buffers {
	return &Buffers{size: size, max: max, s: make([][]byte, 0, max)}
}

func (p *Buffers) Size() int { return p.size }

// Acquire returns an idle buffer or allocates a new one.
func (p *Buffers) Acquire() []byte {
	p.mu.Lock()
	l := len(p.s)
	if l == 0 {
		p.mu.Unlock()
		return make([]byte, p.size)
	}
	b := p.s[l-1]
	p.s[l-1] = nil
	p.s = p.s[:l-1]
	p.mu.Unlock()
	return b
}

// Release returns b to the pool. Buffers of a foreign size are dropped.
func (p *Buffers) Release(b []byte) {
	if cap(b) != p.size {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.s) >= p.max {
		return
	}
	p.s = append(p.s, b[:p.size])
}

func (p *Buffers) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.s)
}
