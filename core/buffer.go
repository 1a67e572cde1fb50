package core

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// bufferPool hands out auto-growing scratch buffers for the hot digest
// path, avoiding per-call allocation (§4.1, §9). Buffers
// are returned through a sync.Pool for the common case; an LRU remembers
// the handful of most recently released oversized buffers so a burst of
// large writes doesn't force immediate reallocation on the next call,
// mirroring the bounded-index eviction in the teacher's disk LRU cache.
type bufferPool struct {
	pool     sync.Pool
	oversize *lru.Cache[int, []byte]
}

const defaultScratchSize = 256
const oversizeThreshold = 4096

func newBufferPool() *bufferPool {
	c, _ := lru.New[int, []byte](8)
	return &bufferPool{
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, 0, defaultScratchSize)
				return &b
			},
		},
		oversize: c,
	}
}

// Get returns a scratch buffer with at least capacity cap, truncated to
// length 0.
func (p *bufferPool) Get(capHint int) *[]byte {
	if capHint > oversizeThreshold {
		if b, ok := p.oversize.Get(capHint); ok {
			p.oversize.Remove(capHint)
			buf := b[:0]
			return &buf
		}
	}
	bp := p.pool.Get().(*[]byte)
	if cap(*bp) < capHint {
		*bp = make([]byte, 0, capHint)
	}
	*bp = (*bp)[:0]
	return bp
}

// Put returns a scratch buffer to the pool for reuse.
func (p *bufferPool) Put(b *[]byte) {
	if cap(*b) > oversizeThreshold {
		p.oversize.Add(cap(*b), (*b)[:0])
		return
	}
	p.pool.Put(b)
}

var globalBufferPool = newBufferPool()
